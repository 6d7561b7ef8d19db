package tileset

import (
	"fmt"

	"github.com/mverbaan/quadtiler/internal/quadtree"
)

// SubtreeLevels is the number of quadtree levels covered by one subtree
// file, the implicit root's own level included.
const SubtreeLevels = 4

// Bitstream is a little-endian bit array: bit i lives in byte i/8 at bit
// position i%8, as the subtree binary layout requires.
type Bitstream struct {
	bits  []byte
	n     int
	count int
}

// NewBitstream returns an all-zero bitstream of n bits.
func NewBitstream(n int) *Bitstream {
	return &Bitstream{bits: make([]byte, (n+7)/8), n: n}
}

// Len returns the number of bits.
func (b *Bitstream) Len() int { return b.n }

// AvailableCount returns the number of set bits.
func (b *Bitstream) AvailableCount() int { return b.count }

// Set sets bit i, which must be in range.
func (b *Bitstream) Set(i int) {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("tileset: bit %d out of range [0,%d)", i, b.n))
	}
	mask := byte(1) << (i % 8)
	if b.bits[i/8]&mask == 0 {
		b.bits[i/8] |= mask
		b.count++
	}
}

// Get reports bit i, which must be in range.
func (b *Bitstream) Get(i int) bool {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("tileset: bit %d out of range [0,%d)", i, b.n))
	}
	return b.bits[i/8]&(byte(1)<<(i%8)) != 0
}

// Bytes returns the backing bytes.
func (b *Bitstream) Bytes() []byte { return b.bits }

// LevelOffset returns the bit index of the first node of relative level l:
// the number of nodes in the l preceding levels, (4^l - 1) / 3.
func LevelOffset(l int) int {
	return ((1 << (2 * l)) - 1) / 3
}

// BitIndex returns the bit position of the node at relative level l and
// relative quadrant position (x, y): levels are laid out breadth-first and
// each level is ordered by Morton index. A consumer can compute this offset
// without materializing any tree.
func BitIndex(l int, x, y uint32) int {
	return LevelOffset(l) + int(quadtree.MortonIndex(x, y))
}

// Subtree is the availability encoding for SubtreeLevels levels below (and
// including) one implicit root: one tile-availability bit and one
// content-availability bit per potential node, one child-subtree bit per
// potential node of the level after the last.
type Subtree struct {
	Root   quadtree.NodeID
	Levels int

	TileAvailability         *Bitstream
	ContentAvailability      *Bitstream
	ChildSubtreeAvailability *Bitstream
}

// MakeImplicit computes a Subtree for every tile exactly at depthLimit and
// attaches it to that tile. A tile-availability bit is set iff the
// corresponding quadtree node exists with items; a content-availability bit
// iff the corresponding tile was assigned content by AddContent.
func (ts *Tileset) MakeImplicit(t *quadtree.Tree, depthLimit uint32) error {
	for id, tile := range ts.tiles {
		if id.Depth != depthLimit {
			continue
		}
		sub, err := ts.makeSubtree(t, id)
		if err != nil {
			return err
		}
		tile.Subtree = sub
	}
	return nil
}

func (ts *Tileset) makeSubtree(t *quadtree.Tree, root quadtree.NodeID) (*Subtree, error) {
	nrNodes := LevelOffset(SubtreeLevels)
	sub := &Subtree{
		Root:                     root,
		Levels:                   SubtreeLevels,
		TileAvailability:         NewBitstream(nrNodes),
		ContentAvailability:      NewBitstream(nrNodes),
		ChildSubtreeAvailability: NewBitstream(1 << (2 * SubtreeLevels)),
	}

	for l := 0; l < SubtreeLevels; l++ {
		for m := uint64(0); m < 1<<(2*l); m++ {
			x, y := quadtree.MortonPosition(m)
			global := quadtree.NodeID{
				Depth: root.Depth + uint32(l),
				X:     root.X<<l + x,
				Y:     root.Y<<l + y,
			}
			node, err := t.Node(global)
			if err != nil {
				// Pruned subtree: the node and all its descendants are absent.
				continue
			}
			if node.NrItems == 0 {
				continue
			}
			bit := BitIndex(l, x, y)
			sub.TileAvailability.Set(bit)
			tile, err := ts.Tile(global)
			if err != nil {
				return nil, fmt.Errorf("tileset: subtree %s: %w", root, err)
			}
			if tile.Content != "" {
				sub.ContentAvailability.Set(bit)
			}
		}
	}
	// A single subtree file covers everything below its root; no deeper
	// subtree files exist, so child-subtree availability stays zero.
	return sub, nil
}
