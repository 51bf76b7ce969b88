package choropleth

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/geo"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/registry"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = eris.New("choropleth: session not found")

// Config wires a Manager.
type Config struct {
	Geometry *geo.Collection
	Registry *registry.Registry
	Scale    indicator.Scale
	Fetcher  boroughcache.Fetcher
	Metrics  *monitoring.Collector

	// PrefetchConcurrency caps concurrent fetches in prefetch mode. Zero
	// fetches every borough at once.
	PrefetchConcurrency int
}

// Manager owns the open sessions. Each session has its own cache, so every
// session fetches each borough at most once.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64
}

// NewManager validates cfg. Geometry and a fetcher are required; the registry
// and scale default to the built-in ones.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Geometry == nil || len(cfg.Geometry.Features) == 0 {
		return nil, eris.New("choropleth: boundary geometry is required")
	}
	if cfg.Fetcher == nil {
		return nil, eris.New("choropleth: fetcher is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if len(cfg.Scale.Buckets) == 0 && cfg.Scale.Floor == "" {
		cfg.Scale = indicator.DefaultScale()
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, err
	}

	for _, name := range cfg.Geometry.Names() {
		if _, ok := cfg.Registry.Lookup(name); !ok {
			zap.L().Warn("choropleth: feature not in registry, it will not be fetched",
				zap.String("name", name),
			)
		}
	}

	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}, nil
}

// Create opens a session. In prefetch mode it returns once every borough
// has settled.
func (m *Manager) Create(ctx context.Context, mode Mode) (*Session, error) {
	if mode == "" {
		mode = ModeLazy
	}
	if mode != ModeLazy && mode != ModePrefetch {
		return nil, eris.Wrapf(ErrUnknownMode, "%q", mode)
	}

	cache := boroughcache.New(m.cfg.Fetcher, boroughcache.WithMetrics(m.cfg.Metrics))
	s := newSession(uuid.NewString(), mode, m.cfg.Geometry, m.cfg.Registry, m.cfg.Scale, cache)

	if mode == ModePrefetch {
		if err := s.Prefetch(ctx, m.cfg.PrefetchConcurrency); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.seq++
	s.seq = m.seq
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.cfg.Metrics.SessionOpened()

	zap.L().Debug("choropleth: session created", zap.String("session", s.ID), zap.String("mode", string(mode)))
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "%s", id)
	}
	return s, nil
}

// Close drops a session and its cache.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrSessionNotFound, "%s", id)
	}
	m.cfg.Metrics.SessionClosed()
	return nil
}

// IDs lists the open sessions in creation order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}
