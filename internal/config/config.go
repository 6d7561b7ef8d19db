// Package config loads the run configuration: defaults, overridden by an
// optional YAML file, overridden by flags in the binaries.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mverbaan/quadtiler/internal/quadtree"
)

type Generator struct {
	Exe    string `yaml:"exe"`
	Script string `yaml:"script"`
}

type Optimizer struct {
	Exe string `yaml:"exe"`
}

type Config struct {
	Metadata string `yaml:"metadata"`
	Features string `yaml:"features"`
	Output   string `yaml:"output"`
	Format   string `yaml:"format"`

	Cellsize     float64 `yaml:"cellsize"`
	Criterion    string  `yaml:"criterion"`
	Capacity     int     `yaml:"capacity"`
	ExportLevels uint32  `yaml:"export_levels"`
	ZMin         float64 `yaml:"zmin"`
	ZMax         float64 `yaml:"zmax"`
	BaseError    float64 `yaml:"base_error"`

	ObjectTypes   []string `yaml:"object_types"`
	Attributes    []string `yaml:"attributes"`
	MetadataClass string   `yaml:"metadata_class"`

	Generator Generator `yaml:"generator"`
	Optimizer Optimizer `yaml:"optimizer"`
	CS2CS     string    `yaml:"cs2cs"`

	Workers    int    `yaml:"workers"`
	GridExport bool   `yaml:"grid_export"`
	KeepInputs bool   `yaml:"keep_inputs"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`

	MetricsAddr string `yaml:"metrics_addr"`
	Report      string `yaml:"report"`
}

func Defaults() Config {
	return Config{
		Format:       "3dtiles",
		Cellsize:     250,
		Criterion:    "objects",
		Capacity:     1000,
		ExportLevels: 4,
		ZMin:         -15,
		ZMax:         400,
		BaseError:    2048,
		Workers:      0, // 0 means one per CPU
		LogLevel:     "info",
	}
}

// Load returns Defaults overlaid with the YAML file at path. An empty path
// returns plain defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Metadata == "" {
		return fmt.Errorf("config: metadata path is required")
	}
	if c.Features == "" {
		return fmt.Errorf("config: features path is required")
	}
	if c.Output == "" {
		return fmt.Errorf("config: output directory is required")
	}
	if strings.ToLower(c.Format) != "3dtiles" {
		return fmt.Errorf("config: unsupported format %q", c.Format)
	}
	if c.Cellsize <= 0 {
		return fmt.Errorf("config: cellsize must be positive, got %f", c.Cellsize)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	if _, err := quadtree.ParseCriterion(c.Criterion); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ZMin >= c.ZMax {
		return fmt.Errorf("config: zmin %f must be below zmax %f", c.ZMin, c.ZMax)
	}
	if c.BaseError <= 0 {
		return fmt.Errorf("config: base_error must be positive, got %f", c.BaseError)
	}
	if c.Generator.Exe == "" {
		return fmt.Errorf("config: generator exe is required for %s output", c.Format)
	}
	return nil
}

// CapacityRule converts the textual criterion plus capacity into the
// quadtree's split rule.
func (c Config) CapacityRule() (quadtree.Capacity, error) {
	kind, err := quadtree.ParseCriterion(c.Criterion)
	if err != nil {
		return quadtree.Capacity{}, err
	}
	return quadtree.Capacity{Kind: kind, Max: c.Capacity}, nil
}
