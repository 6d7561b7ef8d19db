// Package export drives the parallel per-tile content generation. Tiles are
// independent: each worker reads the shared read-only grid and quadtree,
// writes only its own files, and reports its outcome via logging, metrics
// and the run report. One tile's failure never aborts the batch.
package export

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mverbaan/quadtiler/internal/grid"
	"github.com/mverbaan/quadtiler/internal/logger"
	"github.com/mverbaan/quadtiler/internal/metrics"
	"github.com/mverbaan/quadtiler/internal/model"
	"github.com/mverbaan/quadtiler/internal/quadtree"
	"github.com/mverbaan/quadtiler/internal/report"
	"github.com/mverbaan/quadtiler/internal/tileset"
)

// Orchestrator exports the flattened content tiles. Grid, Tree and Features
// must be fully built before Run and are never mutated by it.
type Orchestrator struct {
	Grid     *grid.Grid
	Tree     *quadtree.Tree
	Features *model.FeatureSet

	Gen Generator
	Opt Optimizer // nil disables the optimizer pass

	Log     *slog.Logger
	Metrics *metrics.Provider // nil disables metrics
	Report  *report.Report    // nil disables the run report

	OutputDir  string
	OutputExt  string
	Workers    int // 0 means one per CPU
	KeepInputs bool

	Format        string
	ObjectTypes   []string
	Attributes    []string
	MetadataClass string
	Verbose       bool
}

// Summary counts the batch outcome. Failed tiles are permanent misses for
// this run; there is no retry.
type Summary struct {
	Exported int
	Failed   int
	Skipped  int
}

// Run exports every tile and blocks until all workers finish. Only setup
// errors (directories, broken id-to-node mapping) are returned; per-tile
// generator failures are logged and counted.
func (o *Orchestrator) Run(ctx context.Context, tiles []*tileset.Tile) (Summary, error) {
	tilesDir := filepath.Join(o.OutputDir, "tiles")
	inputsDir := filepath.Join(o.OutputDir, "inputs")
	for _, dir := range []string{tilesDir, inputsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return Summary{}, fmt.Errorf("export: %w", err)
		}
	}

	// Resolve all quadtree nodes up front: a missing node means the tile id
	// mapping is broken, which invalidates the whole batch.
	nodes := make([]*quadtree.Node, len(tiles))
	for i, t := range tiles {
		n, err := o.Tree.Node(t.ID)
		if err != nil {
			return Summary{}, fmt.Errorf("export: tile %s: %w", t.ID, err)
		}
		nodes[i] = n
	}

	workers := o.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	o.Log.Info("exporting tiles", "tiles", len(tiles), "workers", workers)
	if o.Opt == nil {
		o.Log.Debug("optimizer not configured, skipping content optimization")
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				st := o.exportOne(ctx, tiles[i], nodes[i], tilesDir, inputsDir)
				mu.Lock()
				switch st {
				case report.StatusExported:
					summary.Exported++
				case report.StatusFailed:
					summary.Failed++
				case report.StatusSkipped:
					summary.Skipped++
				}
				mu.Unlock()
			}
		}()
	}
	for i := range tiles {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if !o.KeepInputs {
		if err := os.RemoveAll(inputsDir); err != nil {
			o.Log.Warn("could not remove inputs directory", "dir", inputsDir, "err", err)
		}
	}
	if o.Report != nil {
		if err := o.Report.Finish(summary.Exported, summary.Failed, summary.Skipped); err != nil {
			o.Log.Warn("could not finalize run report", "err", err)
		}
	}
	o.Log.Info("export done",
		"exported", summary.Exported, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

func (o *Orchestrator) exportOne(ctx context.Context, tile *tileset.Tile, node *quadtree.Node, tilesDir, inputsDir string) report.Status {
	tileID := tile.ID.String()
	ctx = logger.WithTileID(ctx, tileID)
	start := time.Now()

	if node.NrItems == 0 {
		o.Log.DebugContext(ctx, "tile is empty, skipping")
		o.record(tileID, report.StatusSkipped, node.NrItems, 0, "", "")
		return report.StatusSkipped
	}

	inputFile := filepath.Join(inputsDir, tileID+".input")
	digest, err := o.writeInputManifest(inputFile, node)
	if err != nil {
		o.Log.ErrorContext(ctx, "could not write feature input manifest", "err", err)
		o.record(tileID, report.StatusFailed, node.NrItems, time.Since(start), "", err.Error())
		return report.StatusFailed
	}

	bbox, err := node.Bbox(o.Grid)
	if err != nil {
		o.Log.ErrorContext(ctx, "could not derive native bbox", "err", err)
		o.record(tileID, report.StatusFailed, node.NrItems, time.Since(start), digest, err.Error())
		return report.StatusFailed
	}

	outputFile := filepath.Join(tilesDir, tileID+"."+o.OutputExt)
	job := Job{
		TileID:         tileID,
		OutputFile:     outputFile,
		InputFile:      inputFile,
		MetadataPath:   o.Features.Metadata,
		Bbox:           bbox,
		GeometricError: tile.GeometricError,
		Format:         o.Format,
		ObjectTypes:    o.ObjectTypes,
		Attributes:     o.Attributes,
		MetadataClass:  o.MetadataClass,
		Verbose:        o.Verbose,
	}

	out, err := o.Gen.Generate(ctx, job)
	elapsed := time.Since(start)
	if o.Metrics != nil {
		o.Metrics.ExportDuration.Observe(elapsed.Seconds())
	}
	if err != nil {
		o.Log.ErrorContext(ctx, "content generation failed", "err", err, "output", out)
		o.record(tileID, report.StatusFailed, node.NrItems, elapsed, digest, firstLines(out, 20))
		return report.StatusFailed
	}
	if out != "" {
		o.Log.DebugContext(ctx, "generator output", "output", out)
	}

	if o.Opt != nil {
		if out, err := o.Opt.Optimize(ctx, outputFile); err != nil {
			// Best effort: the unoptimized content file is still valid.
			o.Log.ErrorContext(ctx, "content optimization failed", "err", err, "output", out)
		} else if out != "" {
			o.Log.DebugContext(ctx, "optimizer output", "output", out)
		}
	}

	o.record(tileID, report.StatusExported, node.NrItems, elapsed, digest, "")
	return report.StatusExported
}

// writeInputManifest writes the tile's feature geometry paths, one per line.
// Passing a file instead of the paths themselves keeps the generator's
// argument list short. Returns the xxhash digest of the manifest content.
func (o *Orchestrator) writeInputManifest(path string, node *quadtree.Node) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	h := xxhash.New()
	for _, cid := range node.Cells(o.Grid) {
		cell, err := o.Grid.Cell(cid)
		if err != nil {
			return "", err
		}
		for _, fid := range cell.FeatureIDs {
			line := o.Features.Features[fid].Path + "\n"
			if _, err := w.WriteString(line); err != nil {
				return "", err
			}
			_, _ = h.WriteString(line)
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (o *Orchestrator) record(tileID string, st report.Status, nrItems int, d time.Duration, digest, detail string) {
	if o.Metrics != nil {
		o.Metrics.TilesExported.WithLabelValues(string(st)).Inc()
	}
	if o.Report == nil {
		return
	}
	if err := o.Report.RecordTile(tileID, st, nrItems, d, digest, detail); err != nil {
		o.Log.Warn("could not record tile outcome", "tile", tileID, "err", err)
	}
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}
