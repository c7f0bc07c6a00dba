package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	registry := NewRegistry()
	m := New(registry)

	m.XPAwardedTotal.WithLabelValues("GAME_COMPLETION").Add(60)
	m.SessionsTotal.WithLabelValues("COMPLETED").Inc()
	m.ObservePipeline(time.Now().Add(-10 * time.Millisecond))

	if got := testutil.ToFloat64(m.XPAwardedTotal.WithLabelValues("GAME_COMPLETION")); got != 60 {
		t.Errorf("Expected 60 XP, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"progression_xp_awarded_total", "progression_completion_pipeline_seconds", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %s in exposition", name)
		}
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.LevelUpsTotal.Inc()
	if got := testutil.ToFloat64(m.LevelUpsTotal); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}
}
