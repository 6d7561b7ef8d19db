// Package model holds the shared value types of the tiling pipeline.
package model

import (
	"fmt"
	"math"
)

// EPSG identifies a coordinate reference system by its EPSG code.
type EPSG uint16

func (e EPSG) String() string {
	return fmt.Sprintf("EPSG:%d", uint16(e))
}

// Bbox is an axis-aligned 3D bounding box,
// ordered [minx, miny, minz, maxx, maxy, maxz].
type Bbox [6]float64

func (b Bbox) Dx() float64 { return b[3] - b[0] }
func (b Bbox) Dy() float64 { return b[4] - b[1] }
func (b Bbox) Dz() float64 { return b[5] - b[2] }

// Finite reports whether all six ordinates are finite numbers.
func (b Bbox) Finite() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether the box is finite and min <= max on every axis.
func (b Bbox) Valid() bool {
	return b.Finite() && b[0] <= b[3] && b[1] <= b[4] && b[2] <= b[5]
}

// Pad returns a copy of the box grown by d in every direction.
func (b Bbox) Pad(d float64) Bbox {
	return Bbox{b[0] - d, b[1] - d, b[2] - d, b[3] + d, b[4] + d, b[5] + d}
}

// Contains reports whether other lies fully inside b (borders included).
func (b Bbox) Contains(other Bbox) bool {
	return b[0] <= other[0] && b[1] <= other[1] && b[2] <= other[2] &&
		b[3] >= other[3] && b[4] >= other[4] && b[5] >= other[5]
}

// Union returns the smallest box enclosing both b and other.
func (b Bbox) Union(other Bbox) Bbox {
	return Bbox{
		math.Min(b[0], other[0]),
		math.Min(b[1], other[1]),
		math.Min(b[2], other[2]),
		math.Max(b[3], other[3]),
		math.Max(b[4], other[4]),
		math.Max(b[5], other[5]),
	}
}

func (b Bbox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f,%f,%f", b[0], b[1], b[2], b[3], b[4], b[5])
}

// Feature is one pre-parsed input feature. The geometry itself stays on disk
// at Path; the pipeline only needs the centroid for bucketing and the vertex
// count for the vertex-capacity criterion.
type Feature struct {
	ID       int        `json:"id"`
	Centroid [2]float64 `json:"centroid"`
	Vertices int        `json:"vertices"`
	Path     string     `json:"path"`
}

// FeatureSet owns the features of one run. Grid cells and tiles reference
// features by index into Features, never by copy.
type FeatureSet struct {
	Features []Feature
	Extent   Bbox
	EPSG     EPSG
	Metadata string // path to the source metadata file, forwarded to the generator
}

// VertexCount returns the vertex budget of the feature with the given id,
// or 0 for an unknown id.
func (fs *FeatureSet) VertexCount(id int) int {
	if id < 0 || id >= len(fs.Features) {
		return 0
	}
	return fs.Features[id].Vertices
}
