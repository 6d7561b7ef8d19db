// Command tileserver serves a generated tileset directory over HTTP for
// local preview in a 3D-tile viewer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mverbaan/quadtiler/internal/logger"
	"github.com/mverbaan/quadtiler/internal/metrics"
	"github.com/mverbaan/quadtiler/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":8190", "listen address")
	dir := flag.String("dir", ".", "tileset directory to serve")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	logConsole := flag.Bool("log-console", false, "human-readable log output")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     *logLevel,
		Console:   *logConsole,
		Component: "tileserver",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	manifest := filepath.Join(*dir, "tileset.json")
	if _, err := os.Stat(manifest); err != nil {
		fmt.Fprintf(os.Stderr, "no tileset.json under %s: %v\n", *dir, err)
		return 1
	}

	prov := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version}})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving tileset", "dir", *dir, "version", Version)
	if err := server.Run(ctx, server.Config{Addr: *addr, Dir: *dir}, log, prov.Handler()); err != nil {
		log.Error("server failed", "err", err)
		return 1
	}
	return 0
}
