package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/choropleth"
	"github.com/sells-group/healthmap/internal/config"
	"github.com/sells-group/healthmap/internal/diseaseapi"
	"github.com/sells-group/healthmap/internal/geo"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/registry"
)

// mapEnv holds the components shared by the map commands.
type mapEnv struct {
	Metrics  *monitoring.Collector
	Sessions *choropleth.Manager
}

// initMapEnv loads geometry and the color scale and wires the disease API
// client into a session manager. A geometry failure is fatal.
func initMapEnv(c *config.Config, reg prometheus.Registerer) (*mapEnv, error) {
	geometry, err := geo.Load(c.Geometry.Path, geo.ShapefileOptions{Charset: c.Geometry.Charset})
	if err != nil {
		zap.L().Error("boundary geometry failed to load", zap.String("path", c.Geometry.Path), zap.Error(err))
		return nil, eris.Wrap(err, "load geometry")
	}

	scale := indicator.DefaultScale()
	if c.Scale.Path != "" {
		scale, err = indicator.LoadScale(c.Scale.Path)
		if err != nil {
			return nil, eris.Wrap(err, "load scale")
		}
	}

	metrics, err := monitoring.NewCollector(reg)
	if err != nil {
		return nil, eris.Wrap(err, "init metrics")
	}

	opts := []diseaseapi.Option{
		diseaseapi.WithHTTPClient(&http.Client{Timeout: time.Duration(c.API.TimeoutSecs) * time.Second}),
		diseaseapi.WithRateLimit(c.API.RateLimit, c.API.RateBurst),
	}
	if c.API.UserAgent != "" {
		opts = append(opts, diseaseapi.WithUserAgent(c.API.UserAgent))
	}
	client := diseaseapi.NewClient(c.API.BaseURL, opts...)

	boroughs := registry.Default()
	var fetcher boroughcache.Fetcher = client
	if strings.EqualFold(c.API.LookupBy, "name") {
		fetcher = diseaseapi.NameFetcher{Client: client, Registry: boroughs}
	}

	sessions, err := choropleth.NewManager(choropleth.Config{
		Geometry:            geometry,
		Registry:            boroughs,
		Scale:               scale,
		Fetcher:             fetcher,
		Metrics:             metrics,
		PrefetchConcurrency: c.Session.PrefetchConcurrency,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init sessions")
	}

	zap.L().Info("map environment ready",
		zap.String("geometry", c.Geometry.Path),
		zap.Int("features", len(geometry.Features)),
		zap.String("api", c.API.BaseURL),
		zap.String("lookup_by", c.API.LookupBy),
	)
	return &mapEnv{Metrics: metrics, Sessions: sessions}, nil
}
