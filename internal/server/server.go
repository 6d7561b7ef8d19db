// Package server serves a generated tileset over HTTP for local preview in
// a 3D-tile viewer.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Config struct {
	Addr string
	// Dir is the tileset output directory (tileset.json, tiles/, subtrees/).
	Dir string
}

// Run sets up the router and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config, log *slog.Logger, metricsHandler http.Handler) error {
	r := chi.NewRouter()
	r.Use(Recover(log))
	r.Use(Logging(log))
	r.Use(CORS())
	r.Use(Gzip())

	r.Get("/healthz", Liveness())
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Handle("/*", tilesetFileServer(cfg.Dir))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr, "dir", cfg.Dir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Liveness returns a trivial liveness probe handler.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// tilesetFileServer serves the output directory with the content types
// viewers expect for tile payloads.
func tilesetFileServer(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case hasSuffix(r.URL.Path, ".glb"):
			w.Header().Set("Content-Type", "model/gltf-binary")
		case hasSuffix(r.URL.Path, ".subtree"):
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		fs.ServeHTTP(w, r)
	})
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
