package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fixedStats struct{ sessions, sources, targets int }

func (f fixedStats) Stats() (int, int, int) { return f.sessions, f.sources, f.targets }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestHandler_ExposesRuntimeAndSessionGauges(t *testing.T) {
	m := New(fixedStats{sessions: 3, sources: 2, targets: 5})
	body := scrape(t, m)

	for _, want := range []string{
		"go_goroutines",
		"token_beam_sessions_active 3",
		"token_beam_sessions_sources 2",
		"token_beam_sessions_targets 5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestRecorders(t *testing.T) {
	m := New(nil)
	m.SessionCreated()
	m.SessionCreated()
	m.SessionClosed("expired")
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Message("sync")
	m.Rejected("invalid_payload")
	m.Relayed(3)
	m.Relayed(0)
	m.OriginBlocked()

	body := scrape(t, m)
	for _, want := range []string{
		"token_beam_sessions_created_total 2",
		`token_beam_sessions_closed_total{reason="expired"} 1`,
		"token_beam_ws_connections 1",
		`token_beam_ws_messages_total{type="sync"} 1`,
		`token_beam_ws_rejected_total{reason="invalid_payload"} 1`,
		"token_beam_ws_relayed_total 3",
		"token_beam_origins_blocked_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionCreated()
	m.SessionClosed("empty")
	m.ConnOpened()
	m.ConnClosed()
	m.Message("ping")
	m.Rejected("x")
	m.Relayed(1)
	m.OriginBlocked()

	called := false
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil middleware should pass through")
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New(nil)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/admin/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/sessions/abc", nil))

	body := scrape(t, m)
	want := `token_beam_http_requests_total{method="GET",path="/api/admin/sessions/{id}",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in metrics output", want)
	}
}
