// Package quadtree builds a 4-ary tree over a uniform grid, subdividing
// until a per-node capacity target is met.
//
// The tree side is the grid side rounded up to the next power of two, so a
// node's cell range always halves exactly into four quadrants. Cells beyond
// the grid's backing array are virtual: they hold nothing and are skipped
// when a node enumerates its cells.
package quadtree

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mverbaan/quadtiler/internal/grid"
	"github.com/mverbaan/quadtiler/internal/model"
)

// CriterionKind selects what a node's item count measures.
type CriterionKind int

const (
	// CriterionObjects caps the number of features per node.
	CriterionObjects CriterionKind = iota
	// CriterionVertices caps the approximate vertex budget per node. Vertex
	// density, not feature count, drives rendering cost downstream.
	CriterionVertices
)

func (k CriterionKind) String() string {
	switch k {
	case CriterionObjects:
		return "objects"
	case CriterionVertices:
		return "vertices"
	default:
		return fmt.Sprintf("criterion(%d)", int(k))
	}
}

// ParseCriterion parses "objects" or "vertices".
func ParseCriterion(s string) (CriterionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "objects":
		return CriterionObjects, nil
	case "vertices":
		return CriterionVertices, nil
	default:
		return 0, fmt.Errorf("quadtree: unknown criterion %q", s)
	}
}

// Capacity is the split rule: a node subdivides while its item count under
// Kind exceeds Max and its cell range can still be halved. Capacity is a
// target, not a hard limit; a 1x1 cell range never splits.
type Capacity struct {
	Kind CriterionKind
	Max  int
}

// NodeID addresses a node as (depth, x, y) in the quadrant grid of its
// level. It doubles as the externally visible tile id: String and ParseNodeID
// form a bijection, so the export stage can recover a node from a tile id
// with arithmetic alone.
type NodeID struct {
	Depth uint32
	X     uint32
	Y     uint32
}

func (id NodeID) String() string {
	return fmt.Sprintf("%d-%d-%d", id.Depth, id.X, id.Y)
}

// Less orders ids by depth, then by Morton index within the level.
func (id NodeID) Less(other NodeID) bool {
	if id.Depth != other.Depth {
		return id.Depth < other.Depth
	}
	return MortonIndex(id.X, id.Y) < MortonIndex(other.X, other.Y)
}

// Child returns the id of the quadrant q (0 lower-left, 1 lower-right,
// 2 upper-left, 3 upper-right) below id.
func (id NodeID) Child(q int) NodeID {
	return NodeID{
		Depth: id.Depth + 1,
		X:     id.X<<1 + uint32(q&1),
		Y:     id.Y<<1 + uint32(q>>1),
	}
}

// ErrNodeNotFound reports a lookup of an id that addresses no materialized
// node, e.g. inside a subtree pruned because an ancestor stopped splitting.
var ErrNodeNotFound = errors.New("quadtree: node not found")

// ParseNodeID parses the "depth-x-y" form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return NodeID{}, fmt.Errorf("quadtree: malformed node id %q", s)
	}
	var vals [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("quadtree: malformed node id %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}
	return NodeID{Depth: vals[0], X: vals[1], Y: vals[2]}, nil
}

// Node is a square region of the grid expressed as an inclusive range of
// cell ids. NrItems is the aggregate count under the tree's capacity
// criterion over the covered (non-virtual) cells.
type Node struct {
	ID       NodeID
	CellMin  grid.CellID
	CellMax  grid.CellID
	NrItems  int
	children bool
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return !n.children }

// ChildIDs returns the four child ids in quadrant order, or nil for a leaf.
func (n *Node) ChildIDs() []NodeID {
	if !n.children {
		return nil
	}
	ids := make([]NodeID, 4)
	for q := 0; q < 4; q++ {
		ids[q] = n.ID.Child(q)
	}
	return ids
}

// Tree is the immutable quadtree built once from a completed grid.
type Tree struct {
	Capacity Capacity
	// Side is the cell count per side of the root range, the grid side
	// rounded up to a power of two.
	Side int

	nodes map[NodeID]*Node
}

// FromGrid builds the tree. fs supplies per-feature vertex counts and may be
// nil when the criterion is CriterionObjects.
func FromGrid(g *grid.Grid, fs *model.FeatureSet, cap Capacity) (*Tree, error) {
	if cap.Max <= 0 {
		return nil, fmt.Errorf("quadtree: capacity must be positive, got %d", cap.Max)
	}
	if cap.Kind == CriterionVertices && fs == nil {
		return nil, errors.New("quadtree: vertex criterion needs a feature set")
	}

	// Per-cell weights under the active criterion, indexed [column][row].
	weights := make([][]int, g.Length+1)
	for col := range weights {
		weights[col] = make([]int, g.Length+1)
	}
	g.EachCell(func(id grid.CellID, c *grid.Cell) {
		switch cap.Kind {
		case CriterionObjects:
			weights[id.Column][id.Row] = len(c.FeatureIDs)
		case CriterionVertices:
			var w int
			for _, fid := range c.FeatureIDs {
				w += fs.VertexCount(fid)
			}
			weights[id.Column][id.Row] = w
		}
	})

	side := 1
	for side < g.Length+1 {
		side <<= 1
	}

	t := &Tree{
		Capacity: cap,
		Side:     side,
		nodes:    make(map[NodeID]*Node),
	}
	t.build(NodeID{}, grid.CellID{}, grid.CellID{Column: side - 1, Row: side - 1}, weights, g.Length)
	return t, nil
}

func (t *Tree) build(id NodeID, min, max grid.CellID, weights [][]int, gridLength int) *Node {
	n := &Node{ID: id, CellMin: min, CellMax: max}
	for col := min.Column; col <= max.Column && col <= gridLength; col++ {
		for row := min.Row; row <= max.Row && row <= gridLength; row++ {
			n.NrItems += weights[col][row]
		}
	}

	span := max.Column - min.Column + 1
	if n.NrItems > t.Capacity.Max && span >= 2 {
		n.children = true
		half := span / 2
		for q := 0; q < 4; q++ {
			qx := q & 1
			qy := q >> 1
			cmin := grid.CellID{
				Column: min.Column + qx*half,
				Row:    min.Row + qy*half,
			}
			cmax := grid.CellID{
				Column: cmin.Column + half - 1,
				Row:    cmin.Row + half - 1,
			}
			t.build(id.Child(q), cmin, cmax, weights, gridLength)
		}
	}

	t.nodes[id] = n
	return n
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	n, _ := t.Node(NodeID{})
	return n
}

// Node returns the node with the given id, or ErrNodeNotFound.
func (t *Tree) Node(id NodeID) (*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// NrNodes returns the number of materialized nodes.
func (t *Tree) NrNodes() int { return len(t.nodes) }

// NodeIDs returns every materialized id ordered by depth then Morton index.
func (t *Tree) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Cells enumerates the grid cells covered by the node, virtual cells beyond
// the grid excluded, in column-major order.
func (n *Node) Cells(g *grid.Grid) []grid.CellID {
	var out []grid.CellID
	for col := n.CellMin.Column; col <= n.CellMax.Column && col <= g.Length; col++ {
		for row := n.CellMin.Row; row <= n.CellMax.Row && row <= g.Length; row++ {
			out = append(out, grid.CellID{Column: col, Row: row})
		}
	}
	return out
}

// Bbox returns the node's bounding box in the grid's native CRS, the union
// of its covered cells' boxes. The tile bounding volume is derived from this
// once, at hierarchy build time, to avoid compounding reprojection error.
func (n *Node) Bbox(g *grid.Grid) (model.Bbox, error) {
	cells := n.Cells(g)
	if len(cells) == 0 {
		return model.Bbox{}, fmt.Errorf("%w: %s covers no grid cells", ErrNodeNotFound, n.ID)
	}
	first, err := g.CellBbox(cells[0])
	if err != nil {
		return model.Bbox{}, err
	}
	last, err := g.CellBbox(cells[len(cells)-1])
	if err != nil {
		return model.Bbox{}, err
	}
	return first.Union(last), nil
}
