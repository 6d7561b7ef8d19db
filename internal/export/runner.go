package export

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mverbaan/quadtiler/internal/model"
)

// Job is the argument contract of one content-generator invocation.
type Job struct {
	TileID         string
	OutputFile     string
	InputFile      string // per-tile feature-manifest file
	MetadataPath   string
	Bbox           model.Bbox // native CRS, not the tile's rendering volume
	GeometricError float64
	Format         string
	ObjectTypes    []string
	Attributes     []string
	MetadataClass  string
	Verbose        bool
}

// Generator turns one tile's features into a content file. Implementations
// return the captured diagnostic output next to the error so the caller can
// log it; the backend is pluggable, the default shells out per tile.
type Generator interface {
	Generate(ctx context.Context, job Job) (output string, err error)
}

// Optimizer post-processes a produced content file in place.
type Optimizer interface {
	Optimize(ctx context.Context, file string) (output string, err error)
}

// ExecGenerator runs an external converter: Exe Script --key=value...
// The converter must exit 0 and write Job.OutputFile.
type ExecGenerator struct {
	Exe    string
	Script string
}

func (g *ExecGenerator) Generate(ctx context.Context, job Job) (string, error) {
	args := []string{
		g.Script,
		fmt.Sprintf("--output_format=%s", strings.ToLower(job.Format)),
		fmt.Sprintf("--output_file=%s", job.OutputFile),
		fmt.Sprintf("--path_metadata=%s", job.MetadataPath),
		fmt.Sprintf("--path_features_input_file=%s", job.InputFile),
		fmt.Sprintf("--min_x=%f", job.Bbox[0]),
		fmt.Sprintf("--min_y=%f", job.Bbox[1]),
		fmt.Sprintf("--min_z=%f", job.Bbox[2]),
		fmt.Sprintf("--max_x=%f", job.Bbox[3]),
		fmt.Sprintf("--max_y=%f", job.Bbox[4]),
		fmt.Sprintf("--max_z=%f", job.Bbox[5]),
		fmt.Sprintf("--cotypes=%s", strings.Join(job.ObjectTypes, ",")),
		fmt.Sprintf("--metadata_class=%s", job.MetadataClass),
		fmt.Sprintf("--attribute_spec=%s", strings.Join(job.Attributes, ",")),
		fmt.Sprintf("--geometric_error=%f", job.GeometricError),
	}
	if hasBuildings(job.ObjectTypes) {
		args = append(args, "--simplify_ratio=1.0", "--skip_clip=true")
	}
	if job.Verbose {
		args = append(args, "--verbose")
	}

	cmd := exec.CommandContext(ctx, g.Exe, args...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("generator: %w", err)
	}
	if _, err := os.Stat(job.OutputFile); err != nil {
		return output, fmt.Errorf("generator: output %s was not written", job.OutputFile)
	}
	return output, nil
}

// Buildings skip the clip stage; their footprints rarely straddle tile
// borders and clipping them produces visible seams.
func hasBuildings(types []string) bool {
	for _, t := range types {
		switch strings.ToLower(t) {
		case "building", "buildingpart":
			return true
		}
	}
	return false
}

// ExecOptimizer runs a gltfpack-style optimizer over the content file in
// place.
type ExecOptimizer struct {
	Exe string
}

func (o *ExecOptimizer) Optimize(ctx context.Context, file string) (string, error) {
	cmd := exec.CommandContext(ctx, o.Exe, "-cc", "-kn", "-i", file, "-o", file)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("optimizer: %w", err)
	}
	return output, nil
}
