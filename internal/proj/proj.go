// Package proj defines the coordinate reprojection capability consumed by
// the tile hierarchy builder, plus a memoizing wrapper. How a transform is
// computed is a backend concern; the default backend shells out to PROJ's
// cs2cs (see cs2cs.go).
package proj

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mverbaan/quadtiler/internal/model"
)

// Point is an (x, y, z) coordinate triple in some CRS.
type Point [3]float64

// ErrConversion reports an out-of-domain input or a backend failure.
var ErrConversion = errors.New("proj: conversion failed")

// Reprojector transforms a point between two coordinate reference systems.
type Reprojector interface {
	Transform(p Point, from, to model.EPSG) (Point, error)
}

type cacheKey struct {
	p    Point
	from model.EPSG
	to   model.EPSG
}

// Cached memoizes transform results in an LRU. Sibling tiles share bounding
// box corners, so the same points come back many times during a hierarchy
// build.
type Cached struct {
	inner Reprojector
	lru   *lru.Cache[cacheKey, Point]
}

// NewCached wraps inner with an LRU of the given size.
func NewCached(inner Reprojector, size int) (*Cached, error) {
	c, err := lru.New[cacheKey, Point](size)
	if err != nil {
		return nil, fmt.Errorf("proj: %w", err)
	}
	return &Cached{inner: inner, lru: c}, nil
}

func (c *Cached) Transform(p Point, from, to model.EPSG) (Point, error) {
	k := cacheKey{p: p, from: from, to: to}
	if out, ok := c.lru.Get(k); ok {
		return out, nil
	}
	out, err := c.inner.Transform(p, from, to)
	if err != nil {
		return Point{}, err
	}
	c.lru.Add(k, out)
	return out, nil
}

// TransformBbox reprojects the eight corners of b and returns the enclosing
// box of the results. Conservative: the true reprojected shape is curved, so
// the output box may be slightly larger than the minimal one, never smaller
// than the corner hull.
func TransformBbox(r Reprojector, b model.Bbox, from, to model.EPSG) (model.Bbox, error) {
	var out model.Bbox
	first := true
	for _, x := range [2]float64{b[0], b[3]} {
		for _, y := range [2]float64{b[1], b[4]} {
			for _, z := range [2]float64{b[2], b[5]} {
				p, err := r.Transform(Point{x, y, z}, from, to)
				if err != nil {
					return model.Bbox{}, fmt.Errorf("corner (%f %f %f): %w", x, y, z, err)
				}
				corner := model.Bbox{p[0], p[1], p[2], p[0], p[1], p[2]}
				if first {
					out = corner
					first = false
				} else {
					out = out.Union(corner)
				}
			}
		}
	}
	return out, nil
}
