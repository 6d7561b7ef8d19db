// Package tileset converts a quadtree into a 3D Tiles 1.1 tileset: an
// explicit tile tree for the top levels, implicit-tiling subtrees for the
// rest, and a tileset.json manifest tying them together.
package tileset

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/mverbaan/quadtiler/internal/grid"
	"github.com/mverbaan/quadtiler/internal/model"
	"github.com/mverbaan/quadtiler/internal/proj"
	"github.com/mverbaan/quadtiler/internal/quadtree"
)

// OutputEPSG is the CRS of every bounding volume in the manifest.
// 3D Tiles regions are geodetic (EPSG:4979), whatever the input CRS.
const OutputEPSG = model.EPSG(4979)

// Tile is one node of the hierarchy. Region is a 3D Tiles region bounding
// volume: [west, south, east, north] in radians plus [minHeight, maxHeight]
// in meters, always in OutputEPSG.
type Tile struct {
	ID             quadtree.NodeID
	Region         [6]float64
	GeometricError float64
	Content        string // uri relative to the tileset root, "" when none
	NrItems        int
	Children       []*Tile

	// Subtree is set on tiles at the export-depth boundary by MakeImplicit.
	Subtree *Subtree
}

// Tileset is the full hierarchy, one Tile per quadtree node.
type Tileset struct {
	Root      *Tile
	BaseError float64

	tiles map[quadtree.NodeID]*Tile
}

// Build walks the quadtree root-to-leaf and produces one Tile per node.
// Each tile's bounding volume is the node's native-CRS bbox with z replaced
// by [zmin, zmax], reprojected corner-wise to OutputEPSG. Geometric error
// halves per level from baseError and is 0 at quadtree leaves.
func Build(t *quadtree.Tree, g *grid.Grid, r proj.Reprojector, zmin, zmax, baseError float64) (*Tileset, error) {
	if baseError <= 0 {
		return nil, fmt.Errorf("tileset: base geometric error must be positive, got %f", baseError)
	}
	ts := &Tileset{
		BaseError: baseError,
		tiles:     make(map[quadtree.NodeID]*Tile, t.NrNodes()),
	}
	root, err := ts.buildTile(t, g, r, t.Root(), zmin, zmax, baseError)
	if err != nil {
		return nil, err
	}
	ts.Root = root
	return ts, nil
}

func (ts *Tileset) buildTile(t *quadtree.Tree, g *grid.Grid, r proj.Reprojector, n *quadtree.Node, zmin, zmax, err0 float64) (*Tile, error) {
	native, err := n.Bbox(g)
	if err != nil {
		return nil, fmt.Errorf("tileset: node %s: %w", n.ID, err)
	}
	native[2], native[5] = zmin, zmax

	region, err := regionFrom(r, native, g.EPSG)
	if err != nil {
		return nil, fmt.Errorf("tileset: node %s: %w", n.ID, err)
	}

	tile := &Tile{
		ID:             n.ID,
		Region:         region,
		GeometricError: err0,
		NrItems:        n.NrItems,
	}
	if n.IsLeaf() {
		tile.GeometricError = 0
	} else {
		for _, cid := range n.ChildIDs() {
			child, lookupErr := t.Node(cid)
			if lookupErr != nil {
				return nil, fmt.Errorf("tileset: %w", lookupErr)
			}
			// A quadrant can lie entirely beyond the grid's backing array
			// when the tree side was rounded up to a power of two. Such a
			// child holds nothing and gets no tile.
			if len(child.Cells(g)) == 0 {
				continue
			}
			ct, buildErr := ts.buildTile(t, g, r, child, zmin, zmax, err0/2)
			if buildErr != nil {
				return nil, buildErr
			}
			tile.Children = append(tile.Children, ct)
		}
	}
	ts.tiles[n.ID] = tile
	return tile, nil
}

// regionFrom reprojects the eight bbox corners to OutputEPSG and converts
// the horizontal bounds to radians.
func regionFrom(r proj.Reprojector, native model.Bbox, from model.EPSG) ([6]float64, error) {
	geo, err := proj.TransformBbox(r, native, from, OutputEPSG)
	if err != nil {
		return [6]float64{}, err
	}
	const degToRad = math.Pi / 180
	return [6]float64{
		geo[0] * degToRad, // west
		geo[1] * degToRad, // south
		geo[3] * degToRad, // east
		geo[4] * degToRad, // north
		geo[2],            // min height
		geo[5],            // max height
	}, nil
}

// Tile returns the tile sharing the quadtree node id, or an error when the
// id addresses no node. The id space is the quadtree's; the bijection is
// pinned by tests.
func (ts *Tileset) Tile(id quadtree.NodeID) (*Tile, error) {
	tile, ok := ts.tiles[id]
	if !ok {
		return nil, fmt.Errorf("tileset: %w", quadtree.ErrNodeNotFound)
	}
	return tile, nil
}

// AddContent marks every tile at depth <= depthLimit with items as having
// content, named tiles/<id>.<ext>. Deeper tiles get no explicit content.
func (ts *Tileset) AddContent(depthLimit uint32, ext string) {
	for _, tile := range ts.tiles {
		if tile.ID.Depth <= depthLimit && tile.NrItems > 0 {
			tile.Content = fmt.Sprintf("tiles/%s.%s", tile.ID, ext)
		}
	}
}

// Flatten returns the content-bearing tiles at depth <= depthLimit in
// depth-first order. The order carries no meaning but is stable, for
// reproducible logs.
func (ts *Tileset) Flatten(depthLimit uint32) []*Tile {
	var out []*Tile
	var walk func(t *Tile)
	walk = func(t *Tile) {
		if t.ID.Depth > depthLimit {
			return
		}
		if t.Content != "" {
			out = append(out, t)
		}
		for _, c := range t.Children {
			walk(c)
		}
	}
	walk(ts.Root)
	return out
}

type assetJSON struct {
	Version string `json:"version"`
}

type boundingVolumeJSON struct {
	Region [6]float64 `json:"region"`
}

type contentJSON struct {
	URI string `json:"uri"`
}

type subtreesJSON struct {
	URI string `json:"uri"`
}

type implicitTilingJSON struct {
	SubdivisionScheme string       `json:"subdivisionScheme"`
	SubtreeLevels     int          `json:"subtreeLevels"`
	AvailableLevels   int          `json:"availableLevels"`
	Subtrees          subtreesJSON `json:"subtrees"`
}

type tileJSON struct {
	BoundingVolume boundingVolumeJSON  `json:"boundingVolume"`
	GeometricError float64             `json:"geometricError"`
	Refine         string              `json:"refine,omitempty"`
	Content        *contentJSON        `json:"content,omitempty"`
	Children       []tileJSON          `json:"children,omitempty"`
	ImplicitTiling *implicitTilingJSON `json:"implicitTiling,omitempty"`
}

type tilesetJSON struct {
	Asset          assetJSON `json:"asset"`
	GeometricError float64   `json:"geometricError"`
	Root           tileJSON  `json:"root"`
}

// Write serializes the manifest to dir/tileset.json and every implicit
// subtree under dir/subtrees/. Explicit tiles are emitted down to the
// export-depth boundary; boundary tiles carry their implicitTiling block
// instead of children.
func (ts *Tileset) Write(dir string, depthLimit uint32) error {
	doc := tilesetJSON{
		Asset:          assetJSON{Version: "1.1"},
		GeometricError: ts.BaseError * 2,
		Root:           ts.tileJSON(ts.Root, depthLimit),
	}
	doc.Root.Refine = "REPLACE"

	f, err := os.Create(filepath.Join(dir, "tileset.json"))
	if err != nil {
		return fmt.Errorf("tileset: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("tileset: encode manifest: %w", err)
	}

	for _, tile := range ts.tiles {
		if tile.Subtree == nil {
			continue
		}
		path := filepath.Join(dir, "subtrees", tile.ID.String(), "0-0-0.subtree")
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("tileset: %w", err)
		}
		if err := tile.Subtree.WriteFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (ts *Tileset) tileJSON(t *Tile, depthLimit uint32) tileJSON {
	out := tileJSON{
		BoundingVolume: boundingVolumeJSON{Region: t.Region},
		GeometricError: t.GeometricError,
	}
	if t.Content != "" {
		out.Content = &contentJSON{URI: t.Content}
	}
	// A boundary tile keeps its literal content uri next to the
	// implicitTiling block, deviating from the template-uri form the 3D
	// Tiles 1.1 implicit scheme describes. Content files are named by
	// global "d-x-y" id, which a subtree-relative {level}-{x}-{y} template
	// cannot express, and content availability below the boundary is
	// always zero, so the literal uri is the only content a consumer can
	// reach under this root.
	if t.Subtree != nil {
		out.ImplicitTiling = &implicitTilingJSON{
			SubdivisionScheme: "QUADTREE",
			SubtreeLevels:     t.Subtree.Levels,
			AvailableLevels:   t.Subtree.Levels,
			Subtrees: subtreesJSON{
				URI: fmt.Sprintf("subtrees/%s/{level}-{x}-{y}.subtree", t.ID),
			},
		}
		return out
	}
	if t.ID.Depth < depthLimit {
		for _, c := range t.Children {
			out.Children = append(out.Children, ts.tileJSON(c, depthLimit))
		}
	}
	return out
}
