// Command quadtiler partitions a feature collection into a quadtree and
// writes a 3D Tiles tileset: manifest, implicit subtrees and per-tile
// content generated by an external converter.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mverbaan/quadtiler/internal/config"
	"github.com/mverbaan/quadtiler/internal/export"
	"github.com/mverbaan/quadtiler/internal/grid"
	"github.com/mverbaan/quadtiler/internal/logger"
	"github.com/mverbaan/quadtiler/internal/metrics"
	"github.com/mverbaan/quadtiler/internal/proj"
	"github.com/mverbaan/quadtiler/internal/quadtree"
	"github.com/mverbaan/quadtiler/internal/report"
	"github.com/mverbaan/quadtiler/internal/source"
	"github.com/mverbaan/quadtiler/internal/tileset"
)

var Version = "dev"

// reprojectionCacheSize bounds the memoized corner transforms. Corners are
// shared between sibling tiles, so even a deep tree stays well under this.
const reprojectionCacheSize = 1 << 16

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	runID := uuid.NewString()[:8]
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		RunID:     runID,
		Component: "quadtiler",
	}, os.Stdout)
	log := logger.NewSlog(&zl)
	debug := strings.EqualFold(cfg.LogLevel, "debug")

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		return 1
	}
	if err := os.MkdirAll(cfg.Output, 0o750); err != nil {
		log.Error("could not create output directory", "dir", cfg.Output, "err", err)
		return 1
	}

	log.Info("starting run",
		"version", Version,
		"metadata", cfg.Metadata,
		"features", cfg.Features,
		"output", cfg.Output,
		"criterion", cfg.Criterion,
		"capacity", cfg.Capacity)

	prov := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version}})
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prov.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics listener stopped", "err", err)
			}
		}()
	}

	// Index construction is single-threaded; everything it builds is shared
	// read-only with the export workers afterwards.
	features, err := source.Load(cfg.Metadata, cfg.Features)
	if err != nil {
		log.Error("could not load feature index", "err", err)
		return 1
	}
	log.Info("loaded features", "count", len(features.Features), "crs", features.EPSG.String())

	g, err := grid.New(features.Extent, cfg.Cellsize, features.EPSG)
	if err != nil {
		log.Error("could not create grid", "err", err)
		return 1
	}
	for _, f := range features.Features {
		g.Insert(f.Centroid[0], f.Centroid[1], f.ID)
	}
	prov.FeaturesIndexed.Add(float64(len(features.Features)))
	log.Info("indexed features", "grid_length", g.Length, "cellsize", g.CellSize())

	if cfg.GridExport {
		log.Debug("exporting grid TSV", "dir", cfg.Output)
		if err := g.ExportTSV(cfg.Output, features); err != nil {
			log.Warn("grid export failed", "err", err)
		}
	}

	capRule, err := cfg.CapacityRule()
	if err != nil {
		log.Error("invalid capacity criterion", "err", err)
		return 1
	}
	log.Info("building quadtree")
	tree, err := quadtree.FromGrid(g, features, capRule)
	if err != nil {
		log.Error("could not build quadtree", "err", err)
		return 1
	}
	log.Info("built quadtree", "nodes", tree.NrNodes(), "side", tree.Side)

	if cfg.GridExport {
		log.Debug("exporting quadtree TSV", "dir", cfg.Output)
		if err := tree.ExportTSV(cfg.Output, g); err != nil {
			log.Warn("quadtree export failed", "err", err)
		}
	}

	reproj, err := proj.NewCached(&proj.CS2CS{Exe: cfg.CS2CS}, reprojectionCacheSize)
	if err != nil {
		log.Error("could not set up reprojection", "err", err)
		return 1
	}

	log.Info("generating tileset")
	ts, err := tileset.Build(tree, g, reproj, cfg.ZMin, cfg.ZMax, cfg.BaseError)
	if err != nil {
		log.Error("could not build tile hierarchy", "err", err)
		return 1
	}
	ts.AddContent(cfg.ExportLevels, "glb")
	if err := ts.MakeImplicit(tree, cfg.ExportLevels); err != nil {
		log.Error("could not build implicit subtrees", "err", err)
		return 1
	}
	// The manifest goes out before the export phase and does not depend on
	// its outcome: a failed tile is a missing content file, not a missing
	// manifest entry.
	if err := ts.Write(cfg.Output, cfg.ExportLevels); err != nil {
		log.Error("could not write tileset", "err", err)
		return 1
	}
	tiles := ts.Flatten(cfg.ExportLevels)
	log.Info("wrote tileset", "dir", cfg.Output, "content_tiles", len(tiles))

	var rep *report.Report
	if cfg.Report != "" {
		rep, err = report.Open(cfg.Report, runID)
		if err != nil {
			log.Error("could not open run report", "err", err)
			return 1
		}
		defer rep.Close()
	}

	var opt export.Optimizer
	if cfg.Optimizer.Exe != "" {
		opt = &export.ExecOptimizer{Exe: cfg.Optimizer.Exe}
	}
	orch := &export.Orchestrator{
		Grid:          g,
		Tree:          tree,
		Features:      features,
		Gen:           &export.ExecGenerator{Exe: cfg.Generator.Exe, Script: cfg.Generator.Script},
		Opt:           opt,
		Log:           log,
		Metrics:       prov,
		Report:        rep,
		OutputDir:     cfg.Output,
		OutputExt:     "glb",
		Workers:       cfg.Workers,
		KeepInputs:    cfg.KeepInputs || debug,
		Format:        cfg.Format,
		ObjectTypes:   cfg.ObjectTypes,
		Attributes:    cfg.Attributes,
		MetadataClass: cfg.MetadataClass,
		Verbose:       debug,
	}

	start := time.Now()
	summary, err := orch.Run(context.Background(), tiles)
	if err != nil {
		log.Error("export setup failed", "err", err)
		return 1
	}
	log.Info("done",
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"exported", summary.Exported,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return 0
}

// parseFlags loads the optional YAML config and applies explicitly set
// flags over it.
func parseFlags(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("quadtiler", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML configuration file")

	metadata := fs.String("metadata", "", "feature collection metadata JSON")
	features := fs.String("features", "", "NDJSON feature index")
	output := fs.String("output", "", "output directory")
	format := fs.String("format", "", "output format (3dtiles)")
	cellsize := fs.Float64("cellsize", 0, "grid cell size in CRS units")
	criterion := fs.String("criterion", "", "capacity criterion: objects or vertices")
	capacity := fs.Int("capacity", 0, "capacity target per quadtree node")
	exportLevels := fs.Uint("export-levels", 0, "tree depth exported with explicit content")
	zmin := fs.Float64("zmin", 0, "lower z bound of tile bounding volumes")
	zmax := fs.Float64("zmax", 0, "upper z bound of tile bounding volumes")
	baseError := fs.Float64("base-error", 0, "geometric error of the root tile")
	objectTypes := fs.String("object-types", "", "comma-separated feature type filter")
	attributes := fs.String("attributes", "", "comma-separated attribute filter")
	metadataClass := fs.String("metadata-class", "", "metadata class forwarded to the generator")
	generatorExe := fs.String("generator-exe", "", "content generator executable")
	generatorScript := fs.String("generator-script", "", "content generator flowchart/script")
	optimizerExe := fs.String("optimizer-exe", "", "optional content optimizer executable")
	cs2cs := fs.String("cs2cs", "", "cs2cs executable (default: resolve via PATH)")
	workers := fs.Int("workers", 0, "export workers (0 = one per CPU)")
	gridExport := fs.Bool("grid-export", false, "write grid/quadtree TSV debug dumps")
	keepInputs := fs.Bool("keep-inputs", false, "keep per-tile input manifests after the run")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logConsole := fs.Bool("log-console", false, "human-readable log output")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	reportPath := fs.String("report", "", "SQLite run report path")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "metadata":
			cfg.Metadata = *metadata
		case "features":
			cfg.Features = *features
		case "output":
			cfg.Output = *output
		case "format":
			cfg.Format = *format
		case "cellsize":
			cfg.Cellsize = *cellsize
		case "criterion":
			cfg.Criterion = *criterion
		case "capacity":
			cfg.Capacity = *capacity
		case "export-levels":
			cfg.ExportLevels = uint32(*exportLevels)
		case "zmin":
			cfg.ZMin = *zmin
		case "zmax":
			cfg.ZMax = *zmax
		case "base-error":
			cfg.BaseError = *baseError
		case "object-types":
			cfg.ObjectTypes = splitCSV(*objectTypes)
		case "attributes":
			cfg.Attributes = splitCSV(*attributes)
		case "metadata-class":
			cfg.MetadataClass = *metadataClass
		case "generator-exe":
			cfg.Generator.Exe = *generatorExe
		case "generator-script":
			cfg.Generator.Script = *generatorScript
		case "optimizer-exe":
			cfg.Optimizer.Exe = *optimizerExe
		case "cs2cs":
			cfg.CS2CS = *cs2cs
		case "workers":
			cfg.Workers = *workers
		case "grid-export":
			cfg.GridExport = *gridExport
		case "keep-inputs":
			cfg.KeepInputs = *keepInputs
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-console":
			cfg.LogConsole = *logConsole
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "report":
			cfg.Report = *reportPath
		}
	})
	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
