package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const metadataDoc = `{
  "extent": [84995.279, 446316.813, -5.333, 85644.748, 446996.132, 52.881],
  "epsg": 7415
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadMetadata(t *testing.T) {
	md, err := LoadMetadata(writeFile(t, "metadata.json", metadataDoc))
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if md.EPSG != 7415 {
		t.Fatalf("epsg = %d, want 7415", md.EPSG)
	}
	if md.Extent[0] != 84995.279 || md.Extent[5] != 52.881 {
		t.Fatalf("extent = %s", md.Extent)
	}
}

func TestLoadMetadataErrors(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"extent": [`,
		"missing epsg":   `{"extent": [0, 0, 0, 1, 1, 1]}`,
		"invalid extent": `{"extent": [5, 0, 0, 1, 1, 1], "epsg": 7415}`,
	}
	for name, doc := range cases {
		if _, err := LoadMetadata(writeFile(t, "metadata.json", doc)); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
	if _, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestLoad(t *testing.T) {
	mdPath := writeFile(t, "metadata.json", metadataDoc)
	var rows []string
	for i := 0; i < 5; i++ {
		rows = append(rows, fmt.Sprintf(
			`{"id": %d, "centroid": [%f, %f], "vertices": %d, "path": "/data/features/f%d.json"}`,
			i, 85000.0+float64(i), 446400.0, 100+i, i))
	}
	// Blank lines are tolerated.
	doc := strings.Join(rows[:3], "\n") + "\n\n" + strings.Join(rows[3:], "\n") + "\n"
	fs, err := Load(mdPath, writeFile(t, "features.ndjson", doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(fs.Features) != 5 {
		t.Fatalf("loaded %d features, want 5", len(fs.Features))
	}
	if fs.EPSG != 7415 {
		t.Fatalf("epsg = %d", fs.EPSG)
	}
	if fs.Metadata != mdPath {
		t.Fatalf("metadata path = %q", fs.Metadata)
	}
	for i, f := range fs.Features {
		if f.ID != i {
			t.Fatalf("feature %d has id %d", i, f.ID)
		}
	}
	if fs.Features[2].Path != "/data/features/f2.json" {
		t.Fatalf("path = %q", fs.Features[2].Path)
	}
	if got := fs.VertexCount(4); got != 104 {
		t.Fatalf("VertexCount(4) = %d", got)
	}
}

// Feature ids index into the in-memory slice for the rest of the run, so a
// row whose id disagrees with its position is rejected outright.
func TestLoadRejectsOutOfOrderIDs(t *testing.T) {
	mdPath := writeFile(t, "metadata.json", metadataDoc)
	doc := `{"id": 0, "centroid": [85000, 446400], "vertices": 1, "path": "a"}
{"id": 2, "centroid": [85001, 446400], "vertices": 1, "path": "b"}
`
	if _, err := Load(mdPath, writeFile(t, "features.ndjson", doc)); err == nil {
		t.Fatalf("out-of-order id accepted")
	}
}

func TestLoadRejectsMalformedRow(t *testing.T) {
	mdPath := writeFile(t, "metadata.json", metadataDoc)
	doc := `{"id": 0, "centroid": [85000, 446400], "vertices": 1, "path": "a"}
{"id": 1, "centroid": [broken
`
	if _, err := Load(mdPath, writeFile(t, "features.ndjson", doc)); err == nil {
		t.Fatalf("malformed row accepted")
	}
}
