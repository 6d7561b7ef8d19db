package grid

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mverbaan/quadtiler/internal/model"
)

// ExportTSV writes two tab-separated debug files into dir: grid.tsv with one
// WKT polygon per non-empty cell, and features.tsv with one WKT point per
// contained feature centroid. Offline inspection only, not part of the
// pipeline contract.
func (g *Grid) ExportTSV(dir string, fs *model.FeatureSet) error {
	fileGrid, err := os.Create(filepath.Join(dir, "grid.tsv"))
	if err != nil {
		return fmt.Errorf("grid export: %w", err)
	}
	defer fileGrid.Close()
	fileFeatures, err := os.Create(filepath.Join(dir, "features.tsv"))
	if err != nil {
		return fmt.Errorf("grid export: %w", err)
	}
	defer fileFeatures.Close()

	wg := bufio.NewWriter(fileGrid)
	wf := bufio.NewWriter(fileFeatures)

	g.EachCell(func(id CellID, c *Cell) {
		if len(c.FeatureIDs) == 0 {
			return
		}
		fmt.Fprintf(wg, "%s\t%s\n", id, g.cellWKT(id))
		for _, fid := range c.FeatureIDs {
			f := fs.Features[fid]
			fmt.Fprintf(wf, "%d\t%s\tPOINT(%v %v)\n", fid, id, f.Centroid[0], f.Centroid[1])
		}
	})

	if err := wg.Flush(); err != nil {
		return fmt.Errorf("grid export: %w", err)
	}
	if err := wf.Flush(); err != nil {
		return fmt.Errorf("grid export: %w", err)
	}
	return nil
}

func (g *Grid) cellWKT(id CellID) string {
	b, err := g.CellBbox(id)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("POLYGON((%[1]v %[2]v, %[3]v %[2]v, %[3]v %[4]v, %[1]v %[4]v, %[1]v %[2]v))",
		b[0], b[1], b[3], b[4])
}
