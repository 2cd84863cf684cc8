package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-monitor/internal/metrics"
	"incident-monitor/internal/middleware"
	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/feeds"
	"incident-monitor/internal/services/incidents"
	"incident-monitor/internal/services/llm"
	"incident-monitor/internal/services/pipeline"
)

type scriptedGateway struct {
	mu      sync.Mutex
	replies []any
	calls   int
}

func (g *scriptedGateway) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.replies) == 0 {
		return "", errors.New("unexpected gateway call")
	}
	next := g.replies[0]
	g.replies = g.replies[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

const (
	positiveVerdict = `{"is_fatal_road_accident": true, "confidence": 0.9, "reason": "incidente mortale"}`
	negativeVerdict = `{"is_fatal_road_accident": false, "confidence": 0.9, "reason": "infortunio sul lavoro"}`
	extraction      = `{"event_date": "2026-03-10", "city": "Milano", "region": "Lombardia", "deceased_count": 1, "accident_type": "auto-bici"}`
	summary         = "Sintesi dell'incidente."
	articleBody     = `{"article_url": "https://example.it/a", "article_title": "Ciclista investito a Milano", "source_name": "Il Giorno"}`
)

type testServer struct {
	handler http.Handler
	gateway *scriptedGateway
	store   *repo.MemoryRepository
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter, replies ...any) *testServer {
	t.Helper()
	gateway := &scriptedGateway{replies: replies}
	store := repo.NewMemoryRepository()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipeline(registry)
	require.NoError(t, err)

	classifier := pipeline.NewClassifier(gateway, store, pipeline.DefaultClassifierConfig(), m)
	extractor := pipeline.NewExtractor(gateway, store, pipeline.DefaultExtractorConfig(), m)
	processor := pipeline.NewProcessor(classifier, extractor, m)

	router := NewRouter(RouterOptions{RateLimiter: limiter})
	router.RegisterPipelineRoutes(NewPipelineHandler(classifier, extractor, processor))
	router.RegisterAPIRoutes(
		NewIncidentHandler(incidents.NewService(store, nil)),
		NewFeedHandler(feeds.NewService(store)),
	)
	router.RegisterHealthRoutes(store.Ping)
	router.RegisterMetricsRoutes(registry)

	return &testServer{handler: router, gateway: gateway, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://dashboard.example.it")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestClassifyArticle(t *testing.T) {
	s := newTestServer(t, nil, positiveVerdict)

	rec, body := s.do(t, http.MethodPost, "/functions/v1/classify-article", articleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["should_extract"])
	classification := body["classification"].(map[string]any)
	assert.Equal(t, true, classification["is_fatal_road_accident"])
	assert.Equal(t, 0.9, classification["confidence"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPipelineEndpoints_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		reply  any
		status int
		code   string
	}{
		{"classify_missing_title", "/functions/v1/classify-article", `{"article_url": "https://example.it/a"}`, nil, http.StatusBadRequest, codeValidation},
		{"classify_bad_json", "/functions/v1/classify-article", `{`, nil, http.StatusBadRequest, codeValidation},
		{"classify_rate_limited", "/functions/v1/classify-article", articleBody, llm.ErrRateLimited, http.StatusTooManyRequests, codeRateLimit},
		{"classify_payment_required", "/functions/v1/classify-article", articleBody, llm.ErrPaymentRequired, http.StatusPaymentRequired, codePaymentRequired},
		{"classify_gateway_error", "/functions/v1/classify-article", articleBody, &llm.GatewayError{StatusCode: 503}, http.StatusInternalServerError, codeInternal},
		{"extract_missing_url", "/functions/v1/extract-incident", `{"article_title": "x"}`, nil, http.StatusBadRequest, codeValidation},
		{"extract_rate_limited", "/functions/v1/extract-incident", articleBody, llm.ErrRateLimited, http.StatusTooManyRequests, codeRateLimit},
		{"extract_parse_failure", "/functions/v1/extract-incident", articleBody, "niente JSON", http.StatusInternalServerError, codeInternal},
		{"process_missing_url", "/functions/v1/process-article", `{"article_title": "x"}`, nil, http.StatusBadRequest, codeValidation},
		{"process_rate_limited", "/functions/v1/process-article", articleBody, llm.ErrRateLimited, http.StatusInternalServerError, codeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var replies []any
			if tt.reply != nil {
				replies = append(replies, tt.reply)
			}
			s := newTestServer(t, nil, replies...)

			rec, body := s.do(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
			if tt.reply == nil {
				assert.Zero(t, s.gateway.calls)
			}
		})
	}
}

func TestExtractIncident(t *testing.T) {
	s := newTestServer(t, nil, extraction, summary)

	rec, body := s.do(t, http.MethodPost, "/functions/v1/extract-incident", articleBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["is_new_incident"])
	assert.Equal(t, summary, body["ai_summary"])
	extracted := body["extracted"].(map[string]any)
	assert.Equal(t, "Milano", extracted["city"])

	id := body["incident_id"].(string)
	incident, err := s.store.GetIncident(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "auto-bici", incident.AccidentType)
}

func TestProcessArticle(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		s := newTestServer(t, nil, negativeVerdict)

		rec, body := s.do(t, http.MethodPost, "/functions/v1/process-article", articleBody)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["processed"])
		assert.Equal(t, pipeline.NotFatalReason, body["reason"])
		assert.NotContains(t, body, "incident_id")
		assert.Equal(t, 1, s.gateway.calls)
	})

	t.Run("processed", func(t *testing.T) {
		s := newTestServer(t, nil, positiveVerdict, extraction, summary)

		rec, body := s.do(t, http.MethodPost, "/functions/v1/process-article", articleBody)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["processed"])
		assert.Equal(t, true, body["is_new_incident"])
		assert.NotEmpty(t, body["incident_id"])
		assert.Equal(t, summary, body["ai_summary"])
		assert.Equal(t, 3, s.gateway.calls)
	})
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/process-article", nil)
	req.Header.Set("Origin", "https://dashboard.example.it")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, x-client-info, apikey, content-type")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec, _ = s.do(t, http.MethodOptions, "/functions/v1/classify-article", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.gateway.calls)
}

func TestIncidentRoutes(t *testing.T) {
	s := newTestServer(t, nil, extraction, summary)
	_, created := s.do(t, http.MethodPost, "/functions/v1/extract-incident", articleBody)
	id := created["incident_id"].(string)

	rec, body := s.do(t, http.MethodGet, "/api/v1/incidents?region=Lombardia", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["incidents"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["id"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/incidents?region=Sicilia", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["incidents"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/incidents?date_from=ieri", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, body["code"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/incidents/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Milano", body["city"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/incidents/"+id+"/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "Il Giorno", sources[0].(map[string]any)["source_name"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/incidents/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, body["code"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total_incidents"])
	assert.Equal(t, 1.0, body["total_deceased"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil, positiveVerdict)

	rec, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = s.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	s.do(t, http.MethodPost, "/functions/v1/classify-article", articleBody)

	rec, _ = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `incident_classifications_total{verdict="positive"} 1`)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	router := NewRouter(RouterOptions{})
	router.RegisterHealthRoutes(func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(1, nil), positiveVerdict, positiveVerdict)

	rec, _ := s.do(t, http.MethodPost, "/functions/v1/classify-article", articleBody)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/functions/v1/classify-article", articleBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT", body["code"])
	assert.Equal(t, 1, s.gateway.calls)

	// Health checks are not limited.
	rec, _ = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFeedRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/v1/feeds", `{"name": "Il Giorno", "feed_url": "https://www.ilgiorno.it/cronaca"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	assert.Equal(t, "web", body["feed_type"])
	assert.Equal(t, true, body["is_active"])

	rec, body = s.do(t, http.MethodPost, "/api/v1/feeds", `{"name": "Senza URL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, body["code"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/feeds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["feeds"], 1)

	rec, body = s.do(t, http.MethodPatch, "/api/v1/feeds/"+id, `{"is_active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_active"])

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/feeds/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/feeds/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = s.do(t, http.MethodDelete, "/api/v1/feeds/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, body["code"])
}

func TestFeedPreflightAllowsMutations(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/feeds/abc", nil)
	req.Header.Set("Origin", "https://dashboard.example.it")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
