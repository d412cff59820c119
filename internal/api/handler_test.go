package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-ingest/internal/ingestion"
	"github.com/mr1hm/go-disaster-ingest/internal/mailbox"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

const testToken = "s3cret"

// mockRepo implements the read side of repository.Store for testing.
// Methods the handlers never call fall through to the nil embedded interface.
type mockRepo struct {
	repository.Store
	disasters  []models.Disaster
	listCalls  int
	lastFilter repository.Filter
}

func (m *mockRepo) ListDisasters(ctx context.Context, opts repository.Filter) ([]models.Disaster, error) {
	m.listCalls++
	m.lastFilter = opts
	results := m.disasters

	if opts.Type != nil {
		var filtered []models.Disaster
		for _, d := range results {
			if d.Type == *opts.Type {
				filtered = append(filtered, d)
			}
		}
		results = filtered
	}

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *mockRepo) GetByExternalID(ctx context.Context, id string) (*models.Disaster, error) {
	for _, d := range m.disasters {
		if d.ExternalID == id {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockRepo) HistoryFor(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return []models.HistoryEntry{{DisasterID: id, SeverityOld: models.SeverityGreen, SeverityNew: models.SeverityRed}}, nil
}

func (m *mockRepo) Summary(ctx context.Context) (*repository.Summary, error) {
	return &repository.Summary{Total: len(m.disasters)}, nil
}

// mapCache is an in-memory cache.Cache
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

type mockIngestor struct {
	result  models.BatchResult
	err     error
	feed    string
	subject string
	raw     []byte
}

func (m *mockIngestor) KnownFeed(name string) bool {
	return name == models.FeedGDACS || name == models.FeedWildfireClusters
}

func (m *mockIngestor) RunFeed(ctx context.Context, name string) (models.BatchResult, error) {
	m.feed = name
	return m.result, m.err
}

func (m *mockIngestor) IngestEmail(ctx context.Context, subject, body string, sent time.Time, size int) (models.BatchResult, error) {
	m.subject = subject
	return m.result, m.err
}

func (m *mockIngestor) IngestMIME(ctx context.Context, raw []byte) (models.BatchResult, error) {
	m.raw = raw
	return m.result, m.err
}

func setupTestRouter(repo repository.Store, c *mapCache, ing Ingestor, token string) *gin.Engine {
	if c == nil {
		c = &mapCache{data: map[string][]byte{}}
	}
	return setupTestRouterWith(NewHandler(repo, c, ing, token))
}

func setupTestRouterWith(handler *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func do(router *gin.Engine, method, path, body string, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	return env
}

func sampleDisasters() []models.Disaster {
	return []models.Disaster{
		{
			ID:          "1",
			ExternalID:  "gdacs:EQ123",
			Type:        models.DisasterTypeEarthquake,
			Severity:    models.SeverityRed,
			Title:       "M 7.2 earthquake",
			Country:     "JP",
			Coordinates: &models.Coordinates{Latitude: 35.1, Longitude: 139.2},
			EventTime:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			IsActive:    true,
		},
		{
			ID:         "2",
			ExternalID: "reliefweb:abc",
			Type:       models.DisasterTypeFlood,
			Severity:   models.SeverityOrange,
			Title:      "Floods",
			IsActive:   true,
		},
	}
}

func TestGetDisasters_ReturnsGeoJSON(t *testing.T) {
	router := setupTestRouter(&mockRepo{disasters: sampleDisasters()}, nil, &mockIngestor{}, testToken)

	w := do(router, "GET", "/api/disasters", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}

	f := fc.Features[0]
	if f.Geometry == nil || f.Geometry.Coordinates[0] != 139.2 || f.Geometry.Coordinates[1] != 35.1 {
		t.Errorf("expected [lng, lat] = [139.2, 35.1], got %+v", f.Geometry)
	}
	if f.Properties["id"] != "gdacs:EQ123" || f.Properties["severity"] != "RED" {
		t.Errorf("unexpected properties: %v", f.Properties)
	}
	if fc.Features[1].Geometry != nil {
		t.Errorf("expected null geometry without coordinates, got %+v", fc.Features[1].Geometry)
	}
}

func TestGetDisasters_DefaultListingIsCached(t *testing.T) {
	repo := &mockRepo{disasters: sampleDisasters()}
	c := &mapCache{data: map[string][]byte{}}
	router := setupTestRouter(repo, c, &mockIngestor{}, testToken)

	for i := 0; i < 3; i++ {
		if w := do(router, "GET", "/api/disasters", "", ""); w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	}
	if repo.listCalls != 1 {
		t.Errorf("expected 1 store call for the cached listing, got %d", repo.listCalls)
	}

	do(router, "GET", "/api/disasters?type=flood", "", "")
	do(router, "GET", "/api/disasters?type=flood", "", "")
	if repo.listCalls != 3 {
		t.Errorf("filtered listings bypass the cache, expected 3 calls, got %d", repo.listCalls)
	}
}

func TestGetDisasters_Filters(t *testing.T) {
	repo := &mockRepo{disasters: sampleDisasters()}
	router := setupTestRouter(repo, nil, &mockIngestor{}, testToken)

	w := do(router, "GET", "/api/disasters?type=flood&min_severity=orange&country=ph&since=2025-01-01&limit=10&offset=5", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	f := repo.lastFilter
	if f.Type == nil || *f.Type != models.DisasterTypeFlood {
		t.Errorf("expected flood type filter, got %v", f.Type)
	}
	if f.MinSeverity == nil || *f.MinSeverity != models.SeverityOrange {
		t.Errorf("expected ORANGE min severity, got %v", f.MinSeverity)
	}
	if f.Country != "PH" || f.Limit != 10 || f.Offset != 5 || f.Since == nil {
		t.Errorf("unexpected filter: %+v", f)
	}

	if w := do(router, "GET", "/api/disasters?type=meteor", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", w.Code)
	}
	if w := do(router, "GET", "/api/disasters?since=yesterday", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", w.Code)
	}
}

func TestGetDisaster(t *testing.T) {
	router := setupTestRouter(&mockRepo{disasters: sampleDisasters()}, nil, &mockIngestor{}, testToken)

	w := do(router, "GET", "/api/disasters/gdacs:EQ123", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"severity_new":"RED"`) {
		t.Errorf("expected history in body, got %s", w.Body.String())
	}

	if w := do(router, "GET", "/api/disasters/usgs:nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetSummary(t *testing.T) {
	router := setupTestRouter(&mockRepo{disasters: sampleDisasters()}, nil, &mockIngestor{}, testToken)

	w := do(router, "GET", "/api/summary", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var s repository.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("failed to parse summary: %v", err)
	}
	if s.Total != 2 {
		t.Errorf("expected total 2, got %d", s.Total)
	}
}

func TestIngest_RequiresBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
	}{
		{"missing", testToken, ""},
		{"wrong", testToken, "guess"},
		{"unconfigured", "", "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &mockIngestor{}
			router := setupTestRouter(&mockRepo{}, nil, ing, tt.configured)

			w := do(router, "POST", "/api/ingest/gdacs", "", tt.sent)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
			if ing.feed != "" {
				t.Errorf("pipeline must not run on auth failure")
			}
		})
	}
}

func TestIngestFeed_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		feed     string
		result   models.BatchResult
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", "gdacs", models.BatchResult{Processed: 3, New: 2, Updated: 1}, nil, http.StatusOK, ""},
		{"partial", "gdacs", models.BatchResult{Processed: 3, New: 2, Errors: []models.ItemError{{ID: "gdacs:9", Error: "boom"}}}, nil, http.StatusMultiStatus, "PARTIAL_FAILURE"},
		{"unknown", "twitter", models.BatchResult{}, nil, http.StatusBadRequest, "UNKNOWN_FEED"},
		{"upstream", "gdacs", models.BatchResult{}, fmt.Errorf("%w: gdacs: 503", ingestion.ErrFetch), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"unexpected", "gdacs", models.BatchResult{}, fmt.Errorf("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(&mockRepo{}, nil, &mockIngestor{result: tt.result, err: tt.err}, testToken)

			w := do(router, "POST", "/api/ingest/"+tt.feed, "", testToken)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}

			env := decodeEnvelope(t, w)
			if env.Success != (tt.wantErr == "") {
				t.Errorf("unexpected success flag %v", env.Success)
			}
			if tt.wantErr != "" && (env.Error == nil || env.Error.Code != tt.wantErr) {
				t.Errorf("expected error code %s, got %+v", tt.wantErr, env.Error)
			}
			if tt.wantErr == "" && (env.Data == nil || env.Data.New != tt.result.New) {
				t.Errorf("expected data %+v, got %+v", tt.result, env.Data)
			}
		})
	}
}

func TestIngestFeed_PartialListsItemErrors(t *testing.T) {
	res := models.BatchResult{Processed: 2, New: 1, Errors: []models.ItemError{{ID: "gdacs:9", Error: "boom"}}}
	router := setupTestRouter(&mockRepo{}, nil, &mockIngestor{result: res}, testToken)

	w := do(router, "POST", "/api/ingest/gdacs", "", testToken)
	if !strings.Contains(w.Body.String(), `"details":[{"id":"gdacs:9","error":"boom"}]`) {
		t.Errorf("expected itemised details, got %s", w.Body.String())
	}
}

func TestIngestEmail(t *testing.T) {
	ing := &mockIngestor{result: models.BatchResult{Processed: 1, New: 1}}
	router := setupTestRouter(&mockRepo{}, nil, ing, testToken)

	w := do(router, "POST", "/api/ingest/email", `{"subject":"alert","body":"Title: quake"}`, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ing.subject != "alert" {
		t.Errorf("expected subject to reach the pipeline, got %q", ing.subject)
	}

	if w := do(router, "POST", "/api/ingest/email", `{"subject":"alert"}`, testToken); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without body, got %d", w.Code)
	}
	if w := do(router, "POST", "/api/ingest/email", `not json`, testToken); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", w.Code)
	}
}

func TestIngestRawEmail(t *testing.T) {
	ing := &mockIngestor{result: models.BatchResult{Processed: 1, New: 1}}
	router := setupTestRouter(&mockRepo{}, nil, ing, testToken)

	raw := "From: a@gdacs.org\r\nSubject: x\r\n\r\nTitle: quake\r\n"
	w := do(router, "POST", "/api/ingest/email/raw", raw, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Equal(ing.raw, []byte(raw)) {
		t.Errorf("raw body not passed through")
	}

	ing.err = fmt.Errorf("%w: %q", mailbox.ErrSenderNotAllowed, "a@gdacs.org")
	if w := do(router, "POST", "/api/ingest/email/raw", raw, testToken); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for rejected sender, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(router, "GET", "/ping", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	if w := do(router, "GET", "/ping", "", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router := setupTestRouter(&mockRepo{}, nil, &mockIngestor{}, testToken)

	w := do(router, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %s", body["status"])
	}
}
