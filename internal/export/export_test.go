package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverbaan/quadtiler/internal/grid"
	"github.com/mverbaan/quadtiler/internal/model"
	"github.com/mverbaan/quadtiler/internal/proj"
	"github.com/mverbaan/quadtiler/internal/quadtree"
	"github.com/mverbaan/quadtiler/internal/tileset"
)

type flatGeo struct{}

func (flatGeo) Transform(p proj.Point, from, to model.EPSG) (proj.Point, error) {
	return proj.Point{p[0] / 1000, p[1] / 1000, p[2]}, nil
}

// fakeGen writes the requested output file and records every job. Tile ids
// listed in failTiles fail instead.
type fakeGen struct {
	mu        sync.Mutex
	jobs      []Job
	failTiles map[string]bool
}

func (g *fakeGen) Generate(_ context.Context, job Job) (string, error) {
	g.mu.Lock()
	g.jobs = append(g.jobs, job)
	g.mu.Unlock()
	if g.failTiles[job.TileID] {
		return "converter: no valid geometry\nin tile", fmt.Errorf("generator: exit status 1")
	}
	if err := os.WriteFile(job.OutputFile, []byte("glb"), 0o640); err != nil {
		return "", err
	}
	return "", nil
}

func (g *fakeGen) calls() []Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Job(nil), g.jobs...)
}

// fixture builds a 4x4-cell grid with one 4-feature cluster per quadrant and
// a capacity of 5, so the tree splits exactly once into four populated
// quadrant tiles below the root.
func fixture(t *testing.T) (*Orchestrator, *tileset.Tileset, []*tileset.Tile, *fakeGen) {
	t.Helper()
	fs := &model.FeatureSet{
		Extent:   model.Bbox{0, 0, 0, 100, 100, 10},
		EPSG:     7415,
		Metadata: "/data/metadata.json",
	}
	g, err := grid.New(fs.Extent, 50, fs.EPSG)
	require.NoError(t, err)

	clusters := [][2]float64{{30, 30}, {80, 30}, {30, 80}, {80, 80}}
	id := 0
	for _, c := range clusters {
		for i := 0; i < 4; i++ {
			fs.Features = append(fs.Features, model.Feature{
				ID:       id,
				Centroid: c,
				Vertices: 8,
				Path:     fmt.Sprintf("/data/features/f%d.json", id),
			})
			g.Insert(c[0], c[1], id)
			id++
		}
	}

	tree, err := quadtree.FromGrid(g, fs, quadtree.Capacity{Kind: quadtree.CriterionObjects, Max: 5})
	require.NoError(t, err)

	ts, err := tileset.Build(tree, g, flatGeo{}, -15, 400, 2048)
	require.NoError(t, err)
	ts.AddContent(1, "glb")
	tiles := ts.Flatten(1)
	require.Len(t, tiles, 5)

	gen := &fakeGen{failTiles: map[string]bool{}}
	orch := &Orchestrator{
		Grid:        g,
		Tree:        tree,
		Features:    fs,
		Gen:         gen,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		OutputDir:   t.TempDir(),
		OutputExt:   "glb",
		Workers:     3,
		Format:      "3dtiles",
		ObjectTypes: []string{"LandUse"},
	}
	return orch, ts, tiles, gen
}

func TestRun_ExportsAllTiles(t *testing.T) {
	orch, _, tiles, gen := fixture(t)

	summary, err := orch.Run(context.Background(), tiles)
	require.NoError(t, err)
	assert.Equal(t, Summary{Exported: 5}, summary)

	for _, tile := range tiles {
		path := filepath.Join(orch.OutputDir, "tiles", tile.ID.String()+".glb")
		_, err := os.Stat(path)
		assert.NoError(t, err, "content file for %s", tile.ID)
	}

	jobs := gen.calls()
	require.Len(t, jobs, 5)
	for _, job := range jobs {
		assert.Equal(t, "/data/metadata.json", job.MetadataPath)
		assert.Equal(t, "3dtiles", strings.ToLower(job.Format))
		assert.True(t, job.Bbox.Valid(), "job %s bbox %s", job.TileID, job.Bbox)
	}

	// Input manifests are working files, removed after the batch.
	_, err = os.Stat(filepath.Join(orch.OutputDir, "inputs"))
	assert.True(t, os.IsNotExist(err), "inputs directory should be gone")
}

func TestRun_FailedTileDoesNotAbortBatch(t *testing.T) {
	orch, _, tiles, gen := fixture(t)
	gen.failTiles["1-0-0"] = true

	summary, err := orch.Run(context.Background(), tiles)
	require.NoError(t, err)
	assert.Equal(t, Summary{Exported: 4, Failed: 1}, summary)

	entries, err := os.ReadDir(filepath.Join(orch.OutputDir, "tiles"))
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	for _, e := range entries {
		assert.NotEqual(t, "1-0-0.glb", e.Name())
	}
}

// A tile with no items is recorded as skipped and never reaches the
// generator.
func TestRun_SkipsEmptyTiles(t *testing.T) {
	fs := &model.FeatureSet{
		Extent: model.Bbox{0, 0, 0, 100, 100, 10},
		EPSG:   7415,
	}
	g, err := grid.New(fs.Extent, 50, fs.EPSG)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		fs.Features = append(fs.Features, model.Feature{
			ID: i, Centroid: [2]float64{30, 30}, Vertices: 8,
			Path: fmt.Sprintf("/data/features/f%d.json", i),
		})
		g.Insert(30, 30, i)
	}
	tree, err := quadtree.FromGrid(g, fs, quadtree.Capacity{Kind: quadtree.CriterionObjects, Max: 5})
	require.NoError(t, err)

	ts, err := tileset.Build(tree, g, flatGeo{}, -15, 400, 2048)
	require.NoError(t, err)
	ts.AddContent(1, "glb")

	populated, err := ts.Tile(quadtree.NodeID{Depth: 1, X: 0, Y: 0})
	require.NoError(t, err)
	require.NotEmpty(t, populated.Content)
	empty, err := ts.Tile(quadtree.NodeID{Depth: 1, X: 1, Y: 1})
	require.NoError(t, err)
	require.Zero(t, empty.NrItems)

	gen := &fakeGen{failTiles: map[string]bool{}}
	orch := &Orchestrator{
		Grid:      g,
		Tree:      tree,
		Features:  fs,
		Gen:       gen,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OutputDir: t.TempDir(),
		OutputExt: "glb",
		Workers:   1,
		Format:    "3dtiles",
	}

	summary, err := orch.Run(context.Background(), []*tileset.Tile{populated, empty})
	require.NoError(t, err)
	assert.Equal(t, Summary{Exported: 1, Skipped: 1}, summary)
	assert.Len(t, gen.calls(), 1)
}

func TestRun_KeepInputsWritesManifests(t *testing.T) {
	orch, _, tiles, _ := fixture(t)
	orch.KeepInputs = true

	_, err := orch.Run(context.Background(), tiles)
	require.NoError(t, err)

	// The lower-left quadrant holds features 0..3, one path per line.
	raw, err := os.ReadFile(filepath.Join(orch.OutputDir, "inputs", "1-0-0.input"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("/data/features/f%d.json", i), line)
	}
}

// A tile id that maps to no quadtree node invalidates the whole batch.
func TestRun_UnknownTileIDIsFatal(t *testing.T) {
	orch, _, tiles, gen := fixture(t)
	tiles = append(tiles, &tileset.Tile{ID: quadtree.NodeID{Depth: 9, X: 0, Y: 0}})

	_, err := orch.Run(context.Background(), tiles)
	require.ErrorIs(t, err, quadtree.ErrNodeNotFound)
	assert.Empty(t, gen.calls())
}
