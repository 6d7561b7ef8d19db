// Package grid implements a square uniform grid that buckets features by
// their 2D centroid.
//
// The grid is write-once: it is filled by Insert during indexing and treated
// as read-only afterwards, so the parallel export stage can share it across
// workers without locking.
//
// Cell addressing convention: a CellID is (Column, Row) where Column is the
// x-axis index and Row is the y-axis index, and the backing array is indexed
// cells[column][row]. This is pinned by TestLocate in grid_test.go; do not
// change one without the other.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/mverbaan/quadtiler/internal/model"
)

// Buffer is the padding, in CRS units, applied to the feature extent on every
// side so that boundary centroids always land inside the grid. Inputs are
// quantized metric coordinates, so 10 units is 10mm.
const Buffer = 10.0

var (
	ErrDegenerateExtent = errors.New("grid: degenerate extent")
	ErrCellRange        = errors.New("grid: cell id out of range")
)

// CellID addresses one cell as (column, row) = (x index, y index).
type CellID struct {
	Column int
	Row    int
}

func (c CellID) String() string {
	return fmt.Sprintf("%d-%d", c.Column, c.Row)
}

// Cell stores the ids of the features whose centroid falls inside it.
// Order carries no meaning.
type Cell struct {
	FeatureIDs []int
}

// Grid is a square grid with square cells covering a padded extent.
// Length is the number of cells per side; the backing array is
// (Length+1) x (Length+1) because point location uses ceil and may produce
// index Length for points on the far border.
type Grid struct {
	origin   [2]float64
	cellsize float64

	Bbox   model.Bbox
	Length int
	EPSG   model.EPSG

	cells [][]Cell
}

// New creates a grid covering extent padded by Buffer on every side.
// Length = ceil(max(dx, dy) / cellsize) over the padded extent.
func New(extent model.Bbox, cellsize float64, epsg model.EPSG) (*Grid, error) {
	if !extent.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrDegenerateExtent, extent)
	}
	if cellsize <= 0 || math.IsNaN(cellsize) || math.IsInf(cellsize, 0) {
		return nil, fmt.Errorf("%w: cellsize %f", ErrDegenerateExtent, cellsize)
	}

	dx := math.Abs(extent.Dx()) + Buffer*2
	dy := math.Abs(extent.Dy()) + Buffer*2
	gridsize := math.Max(dx, dy)
	length := int(math.Ceil(gridsize / cellsize))

	cells := make([][]Cell, length+1)
	for col := range cells {
		cells[col] = make([]Cell, length+1)
	}

	return &Grid{
		origin:   [2]float64{extent[0] - Buffer, extent[1] - Buffer},
		cellsize: cellsize,
		Bbox:     extent.Pad(Buffer),
		Length:   length,
		EPSG:     epsg,
		cells:    cells,
	}, nil
}

func (g *Grid) Origin() [2]float64 { return g.origin }
func (g *Grid) CellSize() float64  { return g.cellsize }

// Locate returns the cell id of the point, relative to the buffered origin.
func (g *Grid) Locate(x, y float64) CellID {
	dx := x - g.origin[0]
	dy := y - g.origin[1]
	return CellID{
		Column: int(math.Ceil(dx / g.cellsize)),
		Row:    int(math.Ceil(dy / g.cellsize)),
	}
}

// Insert appends featureID to the cell containing the point and returns that
// cell's id. Every feature must be inserted exactly once; there is no removal.
func (g *Grid) Insert(x, y float64, featureID int) CellID {
	id := g.Locate(x, y)
	g.cells[id.Column][id.Row].FeatureIDs = append(g.cells[id.Column][id.Row].FeatureIDs, featureID)
	return id
}

func (g *Grid) inRange(id CellID) bool {
	return id.Column >= 0 && id.Column <= g.Length && id.Row >= 0 && id.Row <= g.Length
}

// Cell returns the cell with the given id.
func (g *Grid) Cell(id CellID) (*Cell, error) {
	if !g.inRange(id) {
		return nil, fmt.Errorf("%w: %s (length %d)", ErrCellRange, id, g.Length)
	}
	return &g.cells[id.Column][id.Row], nil
}

// CellBbox returns the 3D bounding box of the cell, z spanning the grid's
// full z range. Because Locate rounds up, cell k covers the half-open span
// (origin+(k-1)*cellsize, origin+k*cellsize], so the min corner sits one
// cellsize below the cell index.
func (g *Grid) CellBbox(id CellID) (model.Bbox, error) {
	if !g.inRange(id) {
		return model.Bbox{}, fmt.Errorf("%w: %s (length %d)", ErrCellRange, id, g.Length)
	}
	minx := g.origin[0] + float64(id.Column-1)*g.cellsize
	miny := g.origin[1] + float64(id.Row-1)*g.cellsize
	return model.Bbox{
		minx, miny, g.Bbox[2],
		minx + g.cellsize, miny + g.cellsize, g.Bbox[5],
	}, nil
}

// EachCell visits every cell of the backing array, empties included, in
// column-major order: all rows of column 0, then column 1, and so on.
func (g *Grid) EachCell(fn func(CellID, *Cell)) {
	for col := 0; col <= g.Length; col++ {
		for row := 0; row <= g.Length; row++ {
			fn(CellID{Column: col, Row: row}, &g.cells[col][row])
		}
	}
}

// NrFeatures returns the total number of inserted feature ids.
func (g *Grid) NrFeatures() int {
	var n int
	g.EachCell(func(_ CellID, c *Cell) {
		n += len(c.FeatureIDs)
	})
	return n
}
