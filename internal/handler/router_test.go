package handler

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TestRouter_ProtectedRoutesRequireToken は/api配下の全ルートがトークンなしで401になることを検証する。
func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/tracked-users"},
		{http.MethodPost, "/api/tracked-users"},
		{http.MethodDelete, "/api/tracked-users/alice"},
		{http.MethodPut, "/api/tracked-users/alice/session"},
		{http.MethodPost, "/api/tracked-users/alice/sync"},
		{http.MethodGet, "/api/solutions"},
		{http.MethodGet, "/api/solutions/123"},
		{http.MethodPost, "/api/admin/sync/run"},
	}

	r := NewRouter(testRouterDeps(t))
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := doRequest(t, r, rt.method, rt.path, "", "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

// TestRouter_Health はDBの疎通に応じたヘルスチェック結果を検証する。
func TestRouter_Health(t *testing.T) {
	deps := testRouterDeps(t)
	if w := doRequest(t, NewRouter(deps), http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	deps = testRouterDeps(t)
	deps.DB = &mockPinger{err: errors.New("connection refused")}
	if w := doRequest(t, NewRouter(deps), http.MethodGet, "/health", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestRouter_Metrics はメトリクスが認証なしで公開されることを検証する。
func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "leetsync_test_total", Help: "test"}))

	deps := testRouterDeps(t)
	deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	w := doRequest(t, NewRouter(deps), http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); !strings.Contains(body, "leetsync_test_total") {
		t.Errorf("metrics body does not include the registered counter: %s", body)
	}
}

// TestRouter_UnknownRoute は未定義ルートが404になることを検証する。
func TestRouter_UnknownRoute(t *testing.T) {
	w := doRequest(t, NewRouter(testRouterDeps(t)), http.MethodGet, "/api/feeds", "", "acct-1")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
