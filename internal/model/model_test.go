package model

import (
	"math"
	"testing"
)

func TestEPSGString(t *testing.T) {
	if got := EPSG(7415).String(); got != "EPSG:7415" {
		t.Fatalf("String() = %q", got)
	}
}

func TestBboxValid(t *testing.T) {
	cases := []struct {
		b    Bbox
		want bool
	}{
		{Bbox{0, 0, 0, 1, 1, 1}, true},
		{Bbox{0, 0, 0, 0, 0, 0}, true}, // a point is a valid box
		{Bbox{2, 0, 0, 1, 1, 1}, false},
		{Bbox{0, 0, math.NaN(), 1, 1, 1}, false},
		{Bbox{0, 0, 0, math.Inf(1), 1, 1}, false},
	}
	for _, c := range cases {
		if got := c.b.Valid(); got != c.want {
			t.Fatalf("Valid(%v) = %v, want %v", c.b, got, c.want)
		}
	}
}

func TestBboxPadUnionContains(t *testing.T) {
	b := Bbox{0, 0, 0, 10, 10, 10}
	p := b.Pad(10)
	if p != (Bbox{-10, -10, -10, 20, 20, 20}) {
		t.Fatalf("Pad = %v", p)
	}
	if !p.Contains(b) || b.Contains(p) {
		t.Fatalf("containment broken: %v vs %v", p, b)
	}

	u := b.Union(Bbox{5, -5, 2, 30, 8, 12})
	if u != (Bbox{0, -5, 0, 30, 10, 12}) {
		t.Fatalf("Union = %v", u)
	}
}

func TestVertexCount(t *testing.T) {
	fs := &FeatureSet{Features: []Feature{
		{ID: 0, Vertices: 12},
		{ID: 1, Vertices: 7},
	}}
	if got := fs.VertexCount(1); got != 7 {
		t.Fatalf("VertexCount(1) = %d", got)
	}
	if got := fs.VertexCount(-1); got != 0 {
		t.Fatalf("VertexCount(-1) = %d", got)
	}
	if got := fs.VertexCount(2); got != 0 {
		t.Fatalf("VertexCount(2) = %d", got)
	}
}
