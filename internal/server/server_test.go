package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cambiowatch/cambiowatch/internal/config"
	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	apperrors "github.com/cambiowatch/cambiowatch/internal/errors"
	"github.com/cambiowatch/cambiowatch/internal/server/handlers"
)

func testServer(t *testing.T, api config.APIConfig) (*Server, *engine.State) {
	t.Helper()
	state := engine.NewState()
	svc := &engine.Service{State: state}
	if api.AllowedOrigins == nil {
		api.AllowedOrigins = []string{"http://localhost:3000"}
	}
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, api, Deps{
		Service: svc,
		Stream:  state,
	})
	return srv, state
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestAPIRoutesCarrySecurityHeaders(t *testing.T) {
	srv, state := testServer(t, config.APIConfig{})
	state.PublishRates([]core.RateObservation{{
		Provider:   core.ProviderKambista,
		BuyRate:    decimal.RequireFromString("3.745"),
		SellRate:   decimal.RequireFromString("3.765"),
		ObservedAt: time.Now().UTC(),
	}}, time.Now().UTC())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"provider":"kambista"`)
}

func TestAPIRejectsForeignOrigin(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIRateLimit(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{RateLimit: 2, RateWindow: time.Minute})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Probes are outside the API limiter.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshWithoutEngineIsServerError(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRatesStreamPushesSnapshots(t *testing.T) {
	srv, state := testServer(t, config.APIConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(t.Context()) })

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/rates/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var initial handlers.RatesResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Rates)

	require.Eventually(t, func() bool { return srv.stream.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	state.PublishRates([]core.RateObservation{{
		Provider:   core.ProviderRextie,
		BuyRate:    decimal.RequireFromString("3.74"),
		SellRate:   decimal.RequireFromString("3.77"),
		ObservedAt: time.Now().UTC(),
	}}, time.Now().UTC())

	var update handlers.RatesResponse
	require.NoError(t, conn.ReadJSON(&update))
	require.Len(t, update.Rates, 1)
	assert.Equal(t, core.ProviderRextie, update.Rates[0].Provider)
}

func TestRatesStreamRejectsForeignOrigin(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/rates/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminSignalEndpointRequiresKey(t *testing.T) {
	srv, _ := testServer(t, config.APIConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
