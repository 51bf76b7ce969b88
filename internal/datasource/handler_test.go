package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/healthmap/internal/diseaseapi"
	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/registry"
	"github.com/sells-group/healthmap/internal/store"
)

func newTestServer(t *testing.T, s store.Store) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, s)
}

func newTestServerWith(t *testing.T, s store.Store, opts ...HandlerOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(s, opts...).Router(nil))
	t.Cleanup(srv.Close)
	return srv
}

func openFixture(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenJSON("testdata/datos.json", store.WithRegistry(registry.Default()))
	require.NoError(t, err)
	return s
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestDatos_ByNameIgnoresAccentsAndCase(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	var got diseaseapi.Response
	status := getJSON(t, srv.URL+"/api/datos?alcaldia=COYOACAN", &got)
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, got.Enfermedades)
	assert.Equal(t, 40, *got.Enfermedades.Tuberculosis)
	assert.Equal(t, model.CancerCounts{{Label: "mama", Count: 3}, {Label: "próstata", Count: 5}}, got.Enfermedades.Cancer)
	assert.Empty(t, got.Mensaje)
}

func TestDatos_ByCode(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	var got diseaseapi.Response
	getJSON(t, srv.URL+"/api/datos?codigo=3", &got)
	require.NotNil(t, got.Enfermedades)
	assert.Equal(t, 60, *got.Enfermedades.VIH)
}

func TestDatos_NotFound(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	resp, err := http.Get(srv.URL + "/api/datos?alcaldia=Atlantis")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, raw, "enfermedades")
	assert.Nil(t, raw["enfermedades"])
	assert.Equal(t, MsgNoData, raw["mensaje"])
}

func TestDatos_MissingRecordIsEmptyObject(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	resp, err := http.Get(srv.URL + "/api/datos?alcaldia=tlalpan")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, map[string]any{}, raw["enfermedades"])
	assert.NotContains(t, raw, "mensaje")
}

func TestDatos_NullRecord(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	var got diseaseapi.Response
	getJSON(t, srv.URL+"/api/datos?alcaldia=Milpa%20Alta", &got)
	assert.Nil(t, got.Enfermedades)
	assert.Empty(t, got.Mensaje)
}

func TestDatos_InvalidCode(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	var got map[string]string
	status := getJSON(t, srv.URL+"/api/datos?codigo=abc", &got)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, got["error"])
}

func TestBD_ListsEntries(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	var got []store.Entry
	status := getJSON(t, srv.URL+"/api/bd", &got)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, got, 3)
	assert.Equal(t, "Coyoacán", got[0].Name)
	assert.Equal(t, 3, got[0].Code)
}

// failingStore returns err from every read.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) FindByName(context.Context, string) (*store.Entry, error) { return nil, f.err }
func (f failingStore) FindByCode(context.Context, int) (*store.Entry, error)    { return nil, f.err }
func (f failingStore) List(context.Context) ([]store.Entry, error)              { return nil, f.err }

func TestStoreFailures_Return500(t *testing.T) {
	srv := newTestServer(t, failingStore{err: errors.New("connection refused")})

	for _, path := range []string{"/api/bd", "/api/datos?alcaldia=Tlalpan", "/api/datos?codigo=12"} {
		var got map[string]string
		status := getJSON(t, srv.URL+path, &got)
		assert.Equal(t, http.StatusInternalServerError, status, path)
		assert.Equal(t, MsgStoreUnavailable, got["error"], path)
	}
}

func TestRouter_CORS(t *testing.T) {
	srv := newTestServer(t, openFixture(t))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/bd", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHandler_ServesDiseaseAPIClient(t *testing.T) {
	srv := newTestServer(t, openFixture(t))
	c := diseaseapi.NewClient(srv.URL)

	rec, err := c.FetchByName(context.Background(), "Coyoacán")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 8, rec.Cancer.Total())

	rec, err = c.FetchByCode(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
