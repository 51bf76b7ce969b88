// Package choropleth holds map view sessions: the active filters and the
// borough cache behind one map, and the region and panel state derived from
// them.
package choropleth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/geo"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/registry"
)

// Mode selects when boroughs are fetched.
type Mode string

const (
	// ModeLazy fetches a borough on its first interaction.
	ModeLazy Mode = "lazy"
	// ModePrefetch fetches every borough when the session starts.
	ModePrefetch Mode = "prefetch"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = eris.New("choropleth: unknown mode")

// ParseMode accepts "lazy" or "prefetch"; empty means lazy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLazy:
		return ModeLazy, nil
	case ModePrefetch:
		return ModePrefetch, nil
	default:
		return "", eris.Wrapf(ErrUnknownMode, "%q", s)
	}
}

// FilterPatch sets the indicators that are non-nil and leaves the rest.
type FilterPatch struct {
	Tuberculosis *bool `json:"tuberculosis,omitempty"`
	VIH          *bool `json:"vih,omitempty"`
	Cancer       *bool `json:"cancer,omitempty"`
}

// Apply returns f with the patch applied.
func (p FilterPatch) Apply(f model.FilterState) model.FilterState {
	if p.Tuberculosis != nil {
		f.Tuberculosis = *p.Tuberculosis
	}
	if p.VIH != nil {
		f.VIH = *p.VIH
	}
	if p.Cancer != nil {
		f.Cancer = *p.Cancer
	}
	return f
}

// Session is one map view. Filter changes only recompute; they never fetch.
type Session struct {
	ID      string
	Mode    Mode
	Created time.Time

	geometry *geo.Collection
	reg      *registry.Registry
	scale    indicator.Scale
	cache    *boroughcache.Cache

	mu      sync.RWMutex
	filters model.FilterState

	seq uint64
}

func newSession(id string, mode Mode, geometry *geo.Collection, reg *registry.Registry, scale indicator.Scale, cache *boroughcache.Cache) *Session {
	return &Session{
		ID:       id,
		Mode:     mode,
		Created:  time.Now(),
		geometry: geometry,
		reg:      reg,
		scale:    scale,
		cache:    cache,
		filters:  model.DefaultFilters(),
	}
}

// Filters returns the active filter state.
func (s *Session) Filters() model.FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// SetFilters replaces the filter state.
func (s *Session) SetFilters(f model.FilterState) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
}

// PatchFilters applies p and returns the new state.
func (s *Session) PatchFilters(p FilterPatch) model.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = p.Apply(s.filters)
	return s.filters
}

// Toggle flips one indicator and returns the new state.
func (s *Session) Toggle(i model.Indicator) model.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Toggle(i)
	return s.filters
}

// Geometry returns the boundary collection the session renders.
func (s *Session) Geometry() *geo.Collection {
	return s.geometry
}

// Scale returns the color scale.
func (s *Session) Scale() indicator.Scale {
	return s.scale
}

// Boroughs returns the registry boroughs that appear in the geometry, in
// feature order.
func (s *Session) Boroughs() []model.Borough {
	var out []model.Borough
	seen := make(map[string]bool)
	for _, f := range s.geometry.Features {
		b, ok := s.reg.Lookup(f.Name)
		if !ok || seen[b.Name] {
			continue
		}
		seen[b.Name] = true
		out = append(out, b)
	}
	return out
}

// Regions colors every feature from the cache as it stands, in feature order.
func (s *Session) Regions() []Region {
	return s.regions(s.Filters())
}

func (s *Session) regions(filters model.FilterState) []Region {
	out := make([]Region, 0, len(s.geometry.Features))
	for _, f := range s.geometry.Features {
		out = append(out, s.region(f.Name, filters))
	}
	return out
}

// Region colors one borough from the cache as it stands.
func (s *Session) Region(name string) Region {
	return s.region(name, s.Filters())
}

func (s *Session) region(name string, filters model.FilterState) Region {
	b, ok := s.reg.Lookup(name)
	if !ok {
		return notFoundRegion(name, s.scale)
	}
	return buildRegion(b, s.cache.Peek(b.Name), filters, s.scale)
}

// Interact handles a hover or click on a borough. A registry miss reports
// code-not-found without fetching. Otherwise the borough is fetched on first
// use; repeated and concurrent interactions share that one fetch.
//
// If ctx ends before the fetch resolves, the loading state is returned with
// the context error and the fetch keeps going in the background.
func (s *Session) Interact(ctx context.Context, name string) (Region, Panel, error) {
	b, ok := s.reg.Lookup(name)
	if !ok {
		return notFoundRegion(name, s.scale), Panel{Kind: PanelCodeNotFound, Borough: name}, nil
	}

	e, err := s.cache.Get(ctx, b)
	filters := s.Filters()
	region := buildRegion(b, e, filters, s.scale)
	panel := buildPanel(b, e, filters)
	if err != nil {
		return region, panel, eris.Wrapf(err, "choropleth: interact %s", name)
	}
	return region, panel, nil
}

// Prefetch fetches every borough in the geometry, waiting for all of them to
// settle. Individual failures are recorded per borough.
func (s *Session) Prefetch(ctx context.Context, limit int) error {
	boroughs := s.Boroughs()
	start := time.Now()
	if err := s.cache.Prefetch(ctx, boroughs, limit); err != nil {
		return eris.Wrapf(err, "choropleth: prefetch session %s", s.ID)
	}

	failed := 0
	for _, e := range s.cache.Snapshot() {
		if e.State == boroughcache.Failed {
			failed++
		}
	}
	zap.L().Info("choropleth: prefetch complete",
		zap.String("session", s.ID),
		zap.Int("boroughs", len(boroughs)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Snapshot is the JSON view of a session.
type Snapshot struct {
	ID      string            `json:"id"`
	Mode    Mode              `json:"modo"`
	Filters model.FilterState `json:"filtros"`
	Center  *LatLon           `json:"centro,omitempty"`
	Regions []Region          `json:"regiones"`
}

// LatLon is a map coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Snapshot captures the filters and every region.
func (s *Session) Snapshot() Snapshot {
	filters := s.Filters()
	snap := Snapshot{
		ID:      s.ID,
		Mode:    s.Mode,
		Filters: filters,
		Regions: s.regions(filters),
	}
	if lat, lon, ok := s.geometry.Center(); ok {
		snap.Center = &LatLon{Lat: lat, Lon: lon}
	}
	return snap
}
