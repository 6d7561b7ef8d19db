// Package source loads the pre-parsed feature index consumed by the
// pipeline: a metadata JSON with the collection extent and CRS, and an
// NDJSON index with one row per feature. Parsing of the raw geometry files
// themselves happens upstream; only their paths travel through here.
package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mverbaan/quadtiler/internal/model"
)

// Metadata describes one feature collection.
type Metadata struct {
	Extent model.Bbox `json:"extent"`
	EPSG   model.EPSG `json:"epsg"`
}

// LoadMetadata reads and validates a metadata JSON file.
func LoadMetadata(path string) (Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("source: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return Metadata{}, fmt.Errorf("source: metadata %s: %w", path, err)
	}
	if !md.Extent.Valid() {
		return Metadata{}, fmt.Errorf("source: metadata %s: invalid extent %s", path, md.Extent)
	}
	if md.EPSG == 0 {
		return Metadata{}, fmt.Errorf("source: metadata %s: missing epsg", path)
	}
	return md, nil
}

// Load reads the metadata and the NDJSON feature index. Feature ids must
// equal their row index; cells and tiles reference features by that index
// for the rest of the run.
func Load(metadataPath, featuresPath string) (*model.FeatureSet, error) {
	md, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(featuresPath)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer f.Close()

	fs := &model.FeatureSet{
		Extent:   md.Extent,
		EPSG:     md.EPSG,
		Metadata: metadataPath,
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var feat model.Feature
		if err := json.Unmarshal(sc.Bytes(), &feat); err != nil {
			return nil, fmt.Errorf("source: %s line %d: %w", featuresPath, line+1, err)
		}
		if feat.ID != line {
			return nil, fmt.Errorf("source: %s line %d: feature id %d out of order", featuresPath, line+1, feat.ID)
		}
		fs.Features = append(fs.Features, feat)
		line++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("source: %s: %w", featuresPath, err)
	}
	return fs, nil
}
