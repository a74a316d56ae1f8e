package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearline/vehicle-cli/internal/collate"
	"github.com/gearline/vehicle-cli/internal/extractor"
	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/internal/resolver"
	"github.com/gearline/vehicle-cli/internal/store"
)

// stubCollector serves canned excerpts for every field.
type stubCollector struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubCollector) Collect(_ context.Context, _ model.Query, field model.FieldName) ([]model.RawExcerpt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return nil, eris.New("search down")
	}
	text := map[model.FieldName]string{
		model.FieldCurbWeight:     "Curb weight: 2,875 lbs.",
		model.FieldCatConverters:  "It has 1 catalytic converter.",
		model.FieldAluminumEngine: "Uses an aluminum engine block.",
		model.FieldAluminumRims:   "Comes with alloy wheels.",
	}[field]
	return []model.RawExcerpt{
		{URL: "https://www.honda.com/specs", Text: text, Field: field, TrustScore: 1.0},
	}, nil
}

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	saved   map[string]*model.VehicleResolution
	listErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*model.VehicleResolution)}
}

func (m *memStore) SaveResolution(_ context.Context, r *model.VehicleResolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	year, mk, md := r.Query.Key()
	m.saved[keyString(year, mk, md)] = r
	return nil
}

func (m *memStore) GetResolution(_ context.Context, q model.Query) (*model.VehicleResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	year, mk, md := q.Key()
	return m.saved[keyString(year, mk, md)], nil
}

func (m *memStore) ListResolutions(_ context.Context, _ store.Filter) ([]model.VehicleResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.VehicleResolution, 0, len(m.saved))
	for _, r := range m.saved {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func keyString(year int, mk, md string) string {
	return fmt.Sprintf("%d|%s|%s", year, mk, md)
}

func testEnv(st store.Store, c resolver.EvidenceCollector) *env {
	return &env{
		Store:    st,
		Resolver: resolver.New(c, extractor.NewRules(), collate.New(0), st),
	}
}

func TestRouter_Health(t *testing.T) {
	router := newRouter(testEnv(newMemStore(), &stubCollector{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_ResolveHappyPath(t *testing.T) {
	st := newMemStore()
	router := newRouter(testEnv(st, &stubCollector{}))

	body, _ := json.Marshal(model.Query{Year: 2018, Make: "Honda", Model: "Civic"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var res model.VehicleResolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.ID)
	assert.Len(t, res.Fields, 4)
	assert.Empty(t, res.PersistenceError)

	// The resolution was persisted.
	assert.Len(t, st.saved, 1)
}

func TestRouter_ResolveInvalidBody(t *testing.T) {
	router := newRouter(testEnv(newMemStore(), &stubCollector{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ResolveInvalidQuery(t *testing.T) {
	router := newRouter(testEnv(newMemStore(), &stubCollector{}))

	body, _ := json.Marshal(model.Query{Year: 1600, Make: "a", Model: "b"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid query")
}

func TestRouter_ResolveWithPersistenceFailureStillReturnsResolution(t *testing.T) {
	st := newMemStore()
	st.saveErr = eris.New("disk full")
	router := newRouter(testEnv(st, &stubCollector{}))

	body, _ := json.Marshal(model.Query{Year: 2018, Make: "Honda", Model: "Civic"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var res model.VehicleResolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.PersistenceError, "disk full")
}

func TestRouter_ListResolutions(t *testing.T) {
	st := newMemStore()
	router := newRouter(testEnv(st, &stubCollector{}))

	// Seed one resolution through the API.
	body, _ := json.Marshal(model.Query{Year: 2018, Make: "Honda", Model: "Civic"})
	seed := httptest.NewRecorder()
	router.ServeHTTP(seed, httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, seed.Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolutions?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestRouter_ListRejectsBadParams(t *testing.T) {
	router := newRouter(testEnv(newMemStore(), &stubCollector{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/resolutions?year=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/resolutions?year=2018&make=Honda&needs_review=true&limit=5", nil)
	filter, err := filterFromRequest(req)
	require.NoError(t, err)

	assert.Equal(t, 2018, filter.Year)
	assert.Equal(t, "Honda", filter.Make)
	require.NotNil(t, filter.NeedsReview)
	assert.True(t, *filter.NeedsReview)
	assert.Equal(t, 5, filter.Limit)
}
