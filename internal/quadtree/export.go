package quadtree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mverbaan/quadtiler/internal/grid"
)

// ExportTSV writes one tab-separated row per node into quadtree.tsv in dir:
// node id, depth, item count and the node's WKT footprint. Mirrors the grid
// debug dump; offline inspection only.
func (t *Tree) ExportTSV(dir string, g *grid.Grid) error {
	f, err := os.Create(filepath.Join(dir, "quadtree.tsv"))
	if err != nil {
		return fmt.Errorf("quadtree export: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, id := range t.NodeIDs() {
		n := t.nodes[id]
		// Quadrants beyond the grid's backing array have no footprint.
		if len(n.Cells(g)) == 0 {
			continue
		}
		b, err := n.Bbox(g)
		if err != nil {
			return fmt.Errorf("quadtree export: %w", err)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\tPOLYGON((%[4]v %[5]v, %[6]v %[5]v, %[6]v %[7]v, %[4]v %[7]v, %[4]v %[5]v))\n",
			id, id.Depth, n.NrItems, b[0], b[1], b[3], b[4])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("quadtree export: %w", err)
	}
	return nil
}
