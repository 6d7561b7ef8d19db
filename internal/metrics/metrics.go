// Package metrics exposes Prometheus metrics for the tiling pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

type Config struct {
	Build BuildInfo
}

// Provider carries a private registry plus the pipeline collectors.
type Provider struct {
	reg       *prometheus.Registry
	buildInfo *prometheus.GaugeVec

	FeaturesIndexed prometheus.Counter
	TilesExported   *prometheus.CounterVec
	ExportDuration  prometheus.Histogram
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quadtiler_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision", "build_date"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build.WithLabelValues(v.Version, v.Revision, v.BuildDate).Set(1)

	p := &Provider{
		reg:       reg,
		buildInfo: build,
		FeaturesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quadtiler_features_indexed_total",
			Help: "Features inserted into the uniform grid.",
		}),
		TilesExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quadtiler_tiles_exported_total",
			Help: "Tile export outcomes by status.",
		}, []string{"status"}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quadtiler_tile_export_duration_seconds",
			Help:    "Wall time of one tile's generator invocation.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(p.FeaturesIndexed, p.TilesExported, p.ExportDuration)
	return p
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
