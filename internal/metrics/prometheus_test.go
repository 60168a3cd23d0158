package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Instruments(t *testing.T) {
	m := New()
	var inst live.Instruments = m

	inst.SessionStarted()
	inst.SessionStarted()
	inst.SessionEnded(live.StateClosed)
	inst.FrameSent()
	inst.FrameDropped()
	inst.SendFailed()
	inst.ChunkScheduled(0.25)
	inst.Interrupted(3)
	inst.TurnCompleted(2)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsEnded.WithLabelValues("closed")); got != 1 {
		t.Errorf("ended closed = %v", got)
	}
	if got := testutil.ToFloat64(m.SourcesStopped); got != 3 {
		t.Errorf("sources stopped = %v", got)
	}
	if got := testutil.ToFloat64(m.EntriesAppended); got != 2 {
		t.Errorf("entries = %v", got)
	}
	if got := testutil.ToFloat64(m.FramesSent) + testutil.ToFloat64(m.FramesDropped) + testutil.ToFloat64(m.SendFailures); got != 3 {
		t.Errorf("frame counters = %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.FrameSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voice_bridge_frames_sent_total 1") {
		t.Error("exposition should include the frame counter")
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/voice/sessions/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/voice/sessions/abc", nil))

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/voice/sessions/:id", "404"))
	if got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}
