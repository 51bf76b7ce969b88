package boroughcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/monitoring"
)

var (
	tlalpan    = model.Borough{Name: "Tlalpan", Code: 12}
	xochimilco = model.Borough{Name: "Xochimilco", Code: 13}
	milpaAlta  = model.Borough{Name: "Milpa Alta", Code: 9}
)

// countingFetcher counts calls per code and blocks until release is closed.
type countingFetcher struct {
	mu      sync.Mutex
	calls   map[int]int
	release chan struct{}
	records map[int]*model.DiseaseRecord
	errs    map[int]error
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls:   make(map[int]int),
		release: make(chan struct{}),
		records: make(map[int]*model.DiseaseRecord),
		errs:    make(map[int]error),
	}
}

func (f *countingFetcher) FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error) {
	f.mu.Lock()
	f.calls[code]++
	f.mu.Unlock()

	<-f.release

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[code], f.errs[code]
}

func (f *countingFetcher) count(code int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

func TestGet_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := newCountingFetcher()
	f.records[tlalpan.Code] = &model.DiseaseRecord{VIH: model.IntPtr(3)}
	c := New(f)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]Entry, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.Get(context.Background(), tlalpan)
			assert.NoError(t, err)
			results[i] = e
		}()
	}

	require.Eventually(t, func() bool { return f.count(tlalpan.Code) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Pending, c.Peek(tlalpan.Name).State)
	close(f.release)
	wg.Wait()

	assert.Equal(t, 1, f.count(tlalpan.Code))
	for _, e := range results {
		assert.Equal(t, Ready, e.State)
		require.NotNil(t, e.Record)
		assert.Equal(t, 3, *e.Record.VIH)
	}

	// Later calls hit the cache.
	_, err := c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(tlalpan.Code))
}

func TestGet_FailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}))

	e, err := c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	assert.Equal(t, Failed, e.State)
	assert.Error(t, e.Err)

	e, err = c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	assert.Equal(t, Failed, e.State)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_NoDataIsReadyWithNilRecord(t *testing.T) {
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		return nil, nil
	}))

	e, err := c.Get(context.Background(), milpaAlta)
	require.NoError(t, err)
	assert.Equal(t, Ready, e.State)
	assert.Nil(t, e.Record)
	assert.NoError(t, e.Err)
}

func TestGet_CallerCancelDoesNotPoisonEntry(t *testing.T) {
	f := newCountingFetcher()
	f.records[tlalpan.Code] = &model.DiseaseRecord{Tuberculosis: model.IntPtr(1)}
	c := New(f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, tlalpan)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.count(tlalpan.Code) == 1 }, time.Second, time.Millisecond)
	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(f.release)
	e, err := c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	assert.Equal(t, Ready, e.State)
	require.NotNil(t, e.Record)
	assert.Equal(t, 1, f.count(tlalpan.Code))
}

func TestPeek_NotRequested(t *testing.T) {
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		t.Fatal("peek must not fetch")
		return nil, nil
	}))
	assert.Equal(t, NotRequested, c.Peek("Tlalpan").State)
	assert.Empty(t, c.Snapshot())
}

func TestPrefetch_FailSoft(t *testing.T) {
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		switch code {
		case xochimilco.Code:
			return nil, errors.New("boom")
		case milpaAlta.Code:
			return nil, nil
		default:
			return &model.DiseaseRecord{VIH: model.IntPtr(code)}, nil
		}
	}))

	err := c.Prefetch(context.Background(), []model.Borough{tlalpan, xochimilco, milpaAlta}, 2)
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, Ready, snap[tlalpan.Name].State)
	assert.Equal(t, 12, *snap[tlalpan.Name].Record.VIH)
	assert.Equal(t, Failed, snap[xochimilco.Name].State)
	assert.Equal(t, Ready, snap[milpaAlta.Name].State)
	assert.Nil(t, snap[milpaAlta.Name].Record)
}

func TestPrefetch_RespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}))

	var boroughs []model.Borough
	for i := range 10 {
		boroughs = append(boroughs, model.Borough{Name: string(rune('A' + i)), Code: i})
	}
	require.NoError(t, c.Prefetch(context.Background(), boroughs, 3))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, c.Snapshot(), 10)
}

func TestPrefetch_Empty(t *testing.T) {
	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		return nil, nil
	}))
	assert.NoError(t, c.Prefetch(context.Background(), nil, 0))
}

func TestGet_RecordsMetrics(t *testing.T) {
	m, err := monitoring.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		return &model.DiseaseRecord{}, nil
	}), WithMetrics(m))

	_, err = c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), tlalpan)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(monitoring.LookupMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(monitoring.LookupHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues(monitoring.OutcomeOK)))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_requested", NotRequested.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestResolve_RecordsSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	c := New(FetcherFunc(func(ctx context.Context, code int) (*model.DiseaseRecord, error) {
		if code == xochimilco.Code {
			return nil, errors.New("boom")
		}
		return &model.DiseaseRecord{}, nil
	}))
	_, err := c.Get(context.Background(), tlalpan)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), xochimilco)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "boroughcache.resolve", s.Name())
	}
	assert.Contains(t, spans[0].Attributes(), attribute.String("state", "ready"))
	assert.Contains(t, spans[1].Attributes(), attribute.String("borough", "Xochimilco"))
	assert.Contains(t, spans[1].Attributes(), attribute.String("state", "failed"))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
