package choropleth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/geo"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/model"
)

const fixture = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"NOM_MUN": "Tlalpan"},
     "geometry": {"type": "Polygon", "coordinates": [[[-99.30, 19.10], [-99.10, 19.10], [-99.10, 19.30], [-99.30, 19.10]]]}},
    {"type": "Feature", "properties": {"NOM_MUN": "Coyoacán"},
     "geometry": {"type": "Polygon", "coordinates": [[[-99.20, 19.30], [-99.10, 19.30], [-99.10, 19.36], [-99.20, 19.30]]]}},
    {"type": "Feature", "properties": {"NOM_MUN": "Atlantis"},
     "geometry": {"type": "Polygon", "coordinates": [[[-99.05, 19.40], [-98.95, 19.40], [-98.95, 19.50], [-99.05, 19.40]]]}}
  ]
}`

const (
	codeTlalpan  = 12
	codeCoyoacan = 3
)

// fakeFetcher counts calls per code. Codes in errs fail; codes absent from
// records return no data. When gate is non-nil every call waits on it.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[int]int
	records map[int]*model.DiseaseRecord
	errs    map[int]error
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[int]int),
		records: map[int]*model.DiseaseRecord{
			codeTlalpan: {
				Tuberculosis: model.IntPtr(90),
				VIH:          model.IntPtr(60),
				Cancer:       model.CancerCounts{},
			},
		},
		errs: make(map[int]error),
	}
}

func (f *fakeFetcher) FetchByCode(_ context.Context, code int) (*model.DiseaseRecord, error) {
	f.mu.Lock()
	f.calls[code]++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[code], f.errs[code]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) count(code int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[code]
}

func newTestManager(t *testing.T, f boroughcache.Fetcher) *Manager {
	t.Helper()
	c, err := geo.DecodeGeoJSON(strings.NewReader(fixture))
	require.NoError(t, err)
	m, err := NewManager(Config{Geometry: c, Fetcher: f})
	require.NoError(t, err)
	return m
}

func TestInteract_RegistryMissNeverFetches(t *testing.T) {
	f := newFakeFetcher()
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)

	region, panel, err := s.Interact(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, StatusCodeNotFound, region.Status)
	assert.Nil(t, region.Level)
	assert.Equal(t, indicator.DefaultScale().NoData, region.Color)
	assert.Equal(t, PanelCodeNotFound, panel.Kind)
	assert.Contains(t, panel.Message(), "Atlantis")
	assert.Zero(t, f.total())

	// Accent-sensitive: a near miss is still a miss.
	_, panel, err = s.Interact(context.Background(), "Coyoacan")
	require.NoError(t, err)
	assert.Equal(t, PanelCodeNotFound, panel.Kind)
	assert.Zero(t, f.total())
}

func TestInteract_RapidInteractionsFetchOnce(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)

	var wg sync.WaitGroup
	panels := make([]Panel, 2)
	for i := range panels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, p, err := s.Interact(context.Background(), "Tlalpan")
			assert.NoError(t, err)
			panels[i] = p
		}()
	}

	require.Eventually(t, func() bool { return f.count(codeTlalpan) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StatusLoading, s.Region("Tlalpan").Status)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, 1, f.count(codeTlalpan))
	for _, p := range panels {
		assert.Equal(t, PanelBreakdown, p.Kind)
	}
}

func TestToggle_RecomputesWithoutFetching(t *testing.T) {
	f := newFakeFetcher()
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)

	region, _, err := s.Interact(context.Background(), "Tlalpan")
	require.NoError(t, err)
	require.NotNil(t, region.Level)
	assert.InDelta(t, 50.0, *region.Level, 1e-9)
	assert.Equal(t, "#E31A1C", region.Color)

	s.Toggle(model.IndicatorCancer)
	region = s.Region("Tlalpan")
	assert.InDelta(t, 75.0, *region.Level, 1e-9)
	assert.Equal(t, "#800026", region.Color)

	s.SetFilters(model.FilterState{})
	region = s.Region("Tlalpan")
	assert.Nil(t, region.Level)
	assert.Equal(t, indicator.DefaultScale().NoData, region.Color)

	on := true
	got := s.PatchFilters(FilterPatch{VIH: &on})
	assert.Equal(t, model.FilterState{VIH: true}, got)
	assert.InDelta(t, 60.0, *s.Region("Tlalpan").Level, 1e-9)

	_ = s.Regions()
	_ = s.Snapshot()
	assert.Equal(t, 1, f.total())
}

func TestRegions_LazyBeforeInteraction(t *testing.T) {
	f := newFakeFetcher()
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)

	regions := s.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, StatusIdle, regions[0].Status)
	assert.Equal(t, codeTlalpan, regions[0].Code)
	assert.Nil(t, regions[0].Level)
	assert.Equal(t, StatusCodeNotFound, regions[2].Status)
	assert.Zero(t, f.total())
}

func TestCreate_PrefetchSettlesEveryBorough(t *testing.T) {
	f := newFakeFetcher()
	f.errs[codeCoyoacan] = errors.New("connection refused")
	m := newTestManager(t, f)

	s, err := m.Create(context.Background(), ModePrefetch)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(codeTlalpan))
	assert.Equal(t, 1, f.count(codeCoyoacan))
	assert.Equal(t, 2, f.total())

	snap := s.Snapshot()
	require.Len(t, snap.Regions, 3)
	assert.Equal(t, StatusReady, snap.Regions[0].Status)

	// A failed borough is colored as an absent record.
	failed := snap.Regions[1]
	assert.Equal(t, StatusFailed, failed.Status)
	require.NotNil(t, failed.Level)
	assert.Zero(t, *failed.Level)
	assert.Equal(t, indicator.DefaultScale().Floor, failed.Color)
	require.NotNil(t, snap.Center)

	_, panel, err := s.Interact(context.Background(), "Coyoacán")
	require.NoError(t, err)
	assert.Equal(t, PanelError, panel.Kind)
	assert.Contains(t, panel.Err, "connection refused")
	assert.Equal(t, 2, f.total())
}

func TestInteract_Panels(t *testing.T) {
	f := newFakeFetcher()
	f.records[codeTlalpan].Cancer = model.CancerCounts{{Label: "pulmón", Count: 2}, {Label: "mama", Count: 1}}
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)
	ctx := context.Background()

	_, p, err := s.Interact(ctx, "Tlalpan")
	require.NoError(t, err)
	require.Equal(t, PanelBreakdown, p.Kind)
	labels := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		labels = append(labels, e.Label)
	}
	assert.Equal(t, []string{"Tuberculosis", "VIH", "pulmón", "mama"}, labels)
	assert.Equal(t, "Tlalpan\nTuberculosis: 90\nVIH: 60\npulmón: 2\nmama: 1", p.Message())

	_, p, err = s.Interact(ctx, "Coyoacán")
	require.NoError(t, err)
	assert.Equal(t, PanelNoData, p.Kind)

	s.SetFilters(model.FilterState{})
	_, p, err = s.Interact(ctx, "Tlalpan")
	require.NoError(t, err)
	assert.Equal(t, PanelNothingSelected, p.Kind)
	_, p, err = s.Interact(ctx, "Coyoacán")
	require.NoError(t, err)
	assert.Equal(t, PanelNothingSelected, p.Kind)
}

func TestInteract_CallerCancelReturnsLoading(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	defer close(f.gate)
	m := newTestManager(t, f)
	s, err := m.Create(context.Background(), ModeLazy)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	region, panel, err := s.Interact(ctx, "Tlalpan")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusLoading, region.Status)
	assert.Equal(t, PanelLoading, panel.Kind)
}

func TestPanel_MessageEveryKind(t *testing.T) {
	messages := make(map[string]PanelKind)
	for k := PanelCodeNotFound; k <= PanelError; k++ {
		msg := Panel{Kind: k, Borough: "Tlalpan"}.Message()
		assert.NotEmpty(t, msg, k.String())
		assert.NotEqual(t, "unknown", k.String())
		if k == PanelBreakdown {
			continue
		}
		_, dup := messages[msg]
		assert.False(t, dup, "duplicate message for %s", k)
		messages[msg] = k
	}
	unknown := Panel{Kind: PanelKind(99), Borough: "Tlalpan"}
	assert.Equal(t, "Tlalpan", unknown.Message())
	data, err := json.Marshal(unknown)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mensaje":"Tlalpan"`)
	assert.Contains(t, string(data), `"tipo":"unknown"`)
}

func TestManager_Lifecycle(t *testing.T) {
	m := newTestManager(t, newFakeFetcher())
	ctx := context.Background()

	a, err := m.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ModeLazy, a.Mode)
	b, err := m.Create(ctx, ModeLazy)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, []string{a.ID, b.ID}, m.IDs())

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, m.Close(a.ID))
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(a.ID), ErrSessionNotFound)

	_, err = m.Create(ctx, Mode("eager"))
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestSessions_HaveIndependentCaches(t *testing.T) {
	var calls atomic.Int32
	m := newTestManager(t, boroughcache.FetcherFunc(func(context.Context, int) (*model.DiseaseRecord, error) {
		calls.Add(1)
		return nil, nil
	}))
	ctx := context.Background()

	for range 2 {
		s, err := m.Create(ctx, ModeLazy)
		require.NoError(t, err)
		_, _, err = s.Interact(ctx, "Tlalpan")
		require.NoError(t, err)
		_, _, err = s.Interact(ctx, "Tlalpan")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Fetcher: newFakeFetcher()})
	assert.Error(t, err)

	c, err := geo.DecodeGeoJSON(strings.NewReader(fixture))
	require.NoError(t, err)
	_, err = NewManager(Config{Geometry: c})
	assert.Error(t, err)

	bad := indicator.Scale{Buckets: []indicator.Bucket{{Threshold: 10, Color: "#000"}, {Threshold: 20, Color: "#111"}}, Floor: "#fff", NoData: "#ccc"}
	_, err = NewManager(Config{Geometry: c, Fetcher: newFakeFetcher(), Scale: bad})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Prefetch ")
	require.NoError(t, err)
	assert.Equal(t, ModePrefetch, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeLazy, m)

	_, err = ParseMode("eager")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
