package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinpulse/internal/config"
	"coinpulse/internal/market/fetcher"
	"coinpulse/internal/market/resource"
	"coinpulse/internal/obs"
)

// stubSource answers by endpoint and remembers what was asked.
type stubSource struct {
	mu       sync.Mutex
	outcomes map[string]fetcher.Outcome
	calls    map[string]int
	params   map[string]url.Values
}

func newStubSource() *stubSource {
	return &stubSource{
		outcomes: make(map[string]fetcher.Outcome),
		calls:    make(map[string]int),
		params:   make(map[string]url.Values),
	}
}

func (s *stubSource) FetchFrom(_ context.Context, _ string, endpoint string, params url.Values) fetcher.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	s.params[endpoint] = params
	if o, ok := s.outcomes[endpoint]; ok {
		return o
	}
	return fetcher.Outcome{Kind: fetcher.Failure, Source: fetcher.SourceNone, Err: &fetcher.FetchError{Kind: fetcher.KindUpstream, Status: 500, Endpoint: endpoint}}
}

func (s *stubSource) live(endpoint, body string) {
	s.outcomes[endpoint] = fetcher.Outcome{Kind: fetcher.Success, Payload: json.RawMessage(body), Fresh: true, Source: fetcher.SourceLive}
}

func (s *stubSource) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func newTestApp(t *testing.T, src *stubSource) *fiber.App {
	t.Helper()
	hub := resource.NewHub(src, config.DefaultPolicies(), nil)
	return New(&config.FinalConfig{}, hub, obs.NewMetrics()).App()
}

func doJSON(t *testing.T, app *fiber.App, method, target string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp, out
}

func TestRegisterRoutes_Health(t *testing.T) {
	app := newTestApp(t, newStubSource())
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestRegisterRoutes_KeepsIncomingRequestID(t *testing.T) {
	app := newTestApp(t, newStubSource())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))
}

func TestGlobal_LiveData(t *testing.T) {
	src := newStubSource()
	src.live("/global", `{"data":{"active_cryptocurrencies":9000}}`)
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/crypto/global")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "live", resp.Header.Get("X-Data-Source"))
	assert.Empty(t, resp.Header.Get("X-Data-Stale"))
	assert.Equal(t, false, body["is_loading"])
	assert.Equal(t, false, body["is_error"])

	data := body["data"].(map[string]any)["data"].(map[string]any)
	assert.EqualValues(t, 9000, data["active_cryptocurrencies"])
}

func TestGlobal_ReadsWithinDedupWindowShareOneFetch(t *testing.T) {
	src := newStubSource()
	src.live("/global", `{"data":{}}`)
	app := newTestApp(t, src)

	doJSON(t, app, http.MethodGet, "/api/crypto/global")
	doJSON(t, app, http.MethodGet, "/api/crypto/global")
	assert.Equal(t, 1, src.Calls("/global"))

	resp, _ := doJSON(t, app, http.MethodPost, "/api/refresh/global")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, src.Calls("/global"))
}

func TestMarkets_FallbackIsMarkedStale(t *testing.T) {
	src := newStubSource()
	src.outcomes["/coins/markets"] = fetcher.Outcome{
		Kind:    fetcher.FallbackServed,
		Payload: json.RawMessage(`[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":43250.5}]`),
		Source:  fetcher.SourceFallback,
		Err:     &fetcher.FetchError{Kind: fetcher.KindRateLimited, Status: 429},
	}
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/crypto/markets?vs_currency=eur&per_page=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fallback", resp.Header.Get("X-Data-Source"))
	assert.Equal(t, "true", resp.Header.Get("X-Data-Stale"))
	assert.Equal(t, "markets:eur:10", body["name"])

	src.mu.Lock()
	params := src.params["/coins/markets"]
	src.mu.Unlock()
	assert.Equal(t, "eur", params.Get("vs_currency"))
	assert.Equal(t, "10", params.Get("per_page"))
	assert.Equal(t, "true", params.Get("sparkline"))
}

func TestMarkets_RejectsBadQuery(t *testing.T) {
	app := newTestApp(t, newStubSource())
	for _, target := range []string{
		"/api/crypto/markets?per_page=0",
		"/api/crypto/markets?per_page=1000",
		"/api/crypto/markets?vs_currency=US-D",
	} {
		resp, _ := doJSON(t, app, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
	}
}

func TestTrending_FailureWithoutData(t *testing.T) {
	src := newStubSource()
	src.outcomes["/search/trending"] = fetcher.Outcome{
		Kind:   fetcher.Failure,
		Source: fetcher.SourceNone,
		Err:    &fetcher.FetchError{Kind: fetcher.KindRateLimited, Status: 429, Endpoint: "/search/trending"},
	}
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/crypto/trending")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, true, body["is_error"])
	assert.Equal(t, false, body["is_loading"])
	assert.Equal(t, "rate_limited", body["error_kind"])
	assert.Nil(t, body["data"])
}

func TestFearGreed_Reading(t *testing.T) {
	src := newStubSource()
	src.live("/fng/", `{"data":[{"value":"74","value_classification":"Greed","timestamp":"1717200000"}]}`)
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/fear-greed-index")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "74", data["value"])
	assert.Equal(t, "Greed", data["value_classification"])
}

func TestCoinRoutes(t *testing.T) {
	src := newStubSource()
	src.live("/coins/bitcoin", `{"id":"bitcoin","symbol":"btc","name":"Bitcoin"}`)
	src.live("/coins/bitcoin/market_chart", `{"prices":[[1717200000000,67000.1]]}`)
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/crypto/coins/bitcoin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "coin:bitcoin", body["name"])

	resp, body = doJSON(t, app, http.MethodGet, "/api/crypto/coins/bitcoin/history?days=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "history:bitcoin:1", body["name"])

	src.mu.Lock()
	params := src.params["/coins/bitcoin/market_chart"]
	src.mu.Unlock()
	assert.Equal(t, "1", params.Get("days"))

	resp, _ = doJSON(t, app, http.MethodGet, "/api/crypto/coins/Bit$coin")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, app, http.MethodGet, "/api/crypto/coins/bitcoin/history?days=soon")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboard_CollectsCoreResources(t *testing.T) {
	src := newStubSource()
	src.live("/global", `{"data":{}}`)
	src.live("/search/trending", `{"coins":[]}`)
	src.live("/coins/markets", `[]`)
	src.outcomes["/fng/"] = fetcher.Outcome{
		Kind:    fetcher.StaleCacheHit,
		Payload: json.RawMessage(`{"data":[{"value":"50","value_classification":"Neutral","timestamp":"0"}]}`),
		Source:  fetcher.SourceStale,
		Err:     &fetcher.FetchError{Kind: fetcher.KindNetwork},
	}
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Data-Stale"))
	for _, name := range []string{"markets", "global", "trending", "fear_greed"} {
		assert.Contains(t, body, name)
	}
	fng := body["fear_greed"].(map[string]any)
	assert.Equal(t, "stale", fng["source"])
}

func TestRefresh_UnknownResource(t *testing.T) {
	app := newTestApp(t, newStubSource())
	resp, _ := doJSON(t, app, http.MethodPost, "/api/refresh/portfolio")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevalidate(t *testing.T) {
	src := newStubSource()
	src.live("/global", `{"data":{}}`)
	app := newTestApp(t, src)

	resp, body := doJSON(t, app, http.MethodPost, "/api/revalidate/focus")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// fear and greed ignores focus
	assert.EqualValues(t, 3, body["fetched"])

	resp, _ = doJSON(t, app, http.MethodPost, "/api/revalidate/mount")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, app, http.MethodPost, "/api/revalidate/whenever")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, newStubSource())
	doJSON(t, app, http.MethodGet, "/health")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `coinpulse_http_requests_total{route="/health",status_class="2xx"} 1`)
}
