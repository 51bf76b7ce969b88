// Package boroughcache memoizes disease records per borough for one view
// session. Each borough is fetched at most once; failures are terminal.
package boroughcache

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/monitoring"
)

// State is the lifecycle of one borough's entry.
type State int

const (
	// NotRequested means no fetch has been issued.
	NotRequested State = iota
	// Pending means a fetch is in flight.
	Pending
	// Ready means the fetch completed; the record may be nil (no data).
	Ready
	// Failed means the fetch errored. There is no automatic recovery.
	Failed
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a snapshot of one borough's cache state.
type Entry struct {
	State  State
	Record *model.DiseaseRecord
	Err    error
}

// Fetcher loads a borough's record. A nil record and nil error means no data.
type Fetcher interface {
	FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, code int) (*model.DiseaseRecord, error)

// FetchByCode calls f.
func (f FetcherFunc) FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error) {
	return f(ctx, code)
}

// Cache is a keyed store of borough entries. All writes go through resolve,
// and an entry is marked Pending under the lock before its fetch starts.
type Cache struct {
	fetcher Fetcher
	metrics *monitoring.Collector

	mu      sync.Mutex
	entries map[string]Entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records lookups and upstream fetches on m.
func WithMetrics(m *monitoring.Collector) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an empty cache backed by f.
func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peek returns the current entry without triggering a fetch.
func (c *Cache) Peek(name string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[name]
}

// Snapshot copies every entry that has left NotRequested.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Get returns the borough's terminal entry, fetching it on first use.
// Concurrent callers for the same borough share one fetch. The fetch runs
// detached from ctx cancellation; ctx only bounds how long this caller waits.
func (c *Cache) Get(ctx context.Context, b model.Borough) (Entry, error) {
	key := b.Name

	c.mu.Lock()
	e := c.entries[key]
	switch e.State {
	case Ready, Failed:
		c.mu.Unlock()
		c.metrics.ObserveLookup(monitoring.LookupHit)
		return e, nil
	case Pending:
		c.metrics.ObserveLookup(monitoring.LookupJoin)
	default:
		c.entries[key] = Entry{State: Pending}
		c.metrics.ObserveLookup(monitoring.LookupMiss)
	}
	// The singleflight call is registered before the lock is released so a
	// second caller that sees Pending always joins this flight.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.resolve(context.WithoutCancel(ctx), b), nil
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val.(Entry), nil
	case <-ctx.Done():
		return Entry{State: Pending}, eris.Wrapf(ctx.Err(), "boroughcache: wait for %s", key)
	}
}

// resolve performs the fetch for a Pending entry and stores the terminal state.
func (c *Cache) resolve(ctx context.Context, b model.Borough) Entry {
	c.mu.Lock()
	if e := c.entries[b.Name]; e.State == Ready || e.State == Failed {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	ctx, span := monitoring.StartSpan(ctx, "boroughcache.resolve",
		attribute.String("borough", b.Name),
		attribute.Int("code", b.Code),
	)
	defer span.End()

	start := time.Now()
	rec, err := c.fetcher.FetchByCode(ctx, b.Code)
	elapsed := time.Since(start)

	var e Entry
	switch {
	case err != nil:
		e = Entry{State: Failed, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		c.metrics.ObserveFetch(monitoring.OutcomeError, elapsed)
		zap.L().Warn("boroughcache: fetch failed",
			zap.String("borough", b.Name),
			zap.Int("code", b.Code),
			zap.Error(err),
		)
	case rec == nil:
		e = Entry{State: Ready}
		c.metrics.ObserveFetch(monitoring.OutcomeNoData, elapsed)
	default:
		e = Entry{State: Ready, Record: rec}
		c.metrics.ObserveFetch(monitoring.OutcomeOK, elapsed)
	}

	span.SetAttributes(attribute.String("state", e.State.String()))

	c.mu.Lock()
	c.entries[b.Name] = e
	c.mu.Unlock()
	return e
}

// Prefetch fetches every borough concurrently, at most limit at a time, and
// waits for all of them to settle. A failed borough becomes Failed without
// affecting the others. Only ctx cancellation returns an error.
func (c *Cache) Prefetch(ctx context.Context, boroughs []model.Borough, limit int) error {
	if limit <= 0 {
		limit = len(boroughs)
	}
	if limit == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, b := range boroughs {
		g.Go(func() error {
			_, err := c.Get(gctx, b)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "boroughcache: prefetch")
	}
	return nil
}
