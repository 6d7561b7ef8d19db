package proj

import (
	"errors"
	"testing"

	"github.com/mverbaan/quadtiler/internal/model"
)

// countingShift offsets points by a constant and counts backend calls.
type countingShift struct {
	dx, dy, dz float64
	calls      int
	fail       bool
}

func (s *countingShift) Transform(p Point, from, to model.EPSG) (Point, error) {
	s.calls++
	if s.fail {
		return Point{}, ErrConversion
	}
	return Point{p[0] + s.dx, p[1] + s.dy, p[2] + s.dz}, nil
}

func TestCachedMemoizes(t *testing.T) {
	inner := &countingShift{dx: 1}
	c, err := NewCached(inner, 16)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	p := Point{10, 20, 30}
	for i := 0; i < 5; i++ {
		out, err := c.Transform(p, 7415, 4979)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		if out != (Point{11, 20, 30}) {
			t.Fatalf("Transform = %v", out)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("backend called %d times, want 1", inner.calls)
	}

	// A different CRS pair is a different key.
	if _, err := c.Transform(p, 7415, 4326); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("backend called %d times, want 2", inner.calls)
	}
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	inner := &countingShift{fail: true}
	c, err := NewCached(inner, 16)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Transform(Point{1, 2, 3}, 7415, 4979); !errors.Is(err, ErrConversion) {
			t.Fatalf("got %v, want ErrConversion", err)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("failed transform cached: %d backend calls, want 3", inner.calls)
	}
}

func TestTransformBbox(t *testing.T) {
	inner := &countingShift{dx: 100, dy: -50, dz: 2}
	b := model.Bbox{0, 0, 0, 10, 20, 30}
	out, err := TransformBbox(inner, b, 7415, 4979)
	if err != nil {
		t.Fatalf("TransformBbox: %v", err)
	}
	want := model.Bbox{100, -50, 2, 110, -30, 32}
	if out != want {
		t.Fatalf("TransformBbox = %s, want %s", out, want)
	}
	if inner.calls != 8 {
		t.Fatalf("backend called %d times, want 8 corners", inner.calls)
	}

	inner.fail = true
	if _, err := TransformBbox(inner, b, 7415, 4979); !errors.Is(err, ErrConversion) {
		t.Fatalf("got %v, want ErrConversion", err)
	}
}
