package proj

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mverbaan/quadtiler/internal/model"
)

// CS2CS transforms points by invoking PROJ's cs2cs binary, one process per
// point. Wrap it in Cached; with corner reuse across sibling tiles the
// process count stays small.
type CS2CS struct {
	// Exe is the cs2cs executable, "cs2cs" resolved via PATH when empty.
	Exe string
}

func (c *CS2CS) exe() string {
	if c.Exe != "" {
		return c.Exe
	}
	return "cs2cs"
}

func (c *CS2CS) Transform(p Point, from, to model.EPSG) (Point, error) {
	cmd := exec.Command(c.exe(), "-d", "9", from.String(), to.String())
	cmd.Stdin = strings.NewReader(fmt.Sprintf("%.9f %.9f %.9f\n", p[0], p[1], p[2]))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Point{}, fmt.Errorf("%w: cs2cs %s -> %s: %v: %s",
			ErrConversion, from, to, err, strings.TrimSpace(stderr.String()))
	}

	var out Point
	if _, err := fmt.Sscan(stdout.String(), &out[0], &out[1], &out[2]); err != nil {
		return Point{}, fmt.Errorf("%w: cs2cs output %q: %v",
			ErrConversion, strings.TrimSpace(stdout.String()), err)
	}
	return out, nil
}
