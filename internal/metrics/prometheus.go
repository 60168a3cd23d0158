package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge and HTTP collectors on a private registry.
// It implements live.Instruments.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	StartFailures   prometheus.Counter

	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	SendFailures  prometheus.Counter

	ChunksScheduled prometheus.Counter
	ChunkDuration   prometheus.Histogram
	Interruptions   prometheus.Counter
	SourcesStopped  prometheus.Counter
	TurnsCompleted  prometheus.Counter
	EntriesAppended prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_bridge_active_sessions",
			Help: "Current number of active live sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_sessions_started_total",
			Help: "Total number of live sessions that reached the active state",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_sessions_ended_total",
			Help: "Total number of live sessions ended, by final state",
		}, []string{"state"}),

		StartFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_start_failures_total",
			Help: "Total number of sessions that failed to start",
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_frames_sent_total",
			Help: "Total number of captured audio frames sent upstream",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_frames_dropped_total",
			Help: "Total number of captured frames dropped because the send queue was full",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_send_failures_total",
			Help: "Total number of frames the remote endpoint rejected",
		}),

		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_chunks_scheduled_total",
			Help: "Total number of inbound audio chunks scheduled for playback",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_bridge_chunk_duration_seconds",
			Help:    "Playback duration of inbound audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}),
		SourcesStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_sources_stopped_total",
			Help: "Total number of playback sources cut short by interruptions",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_turns_completed_total",
			Help: "Total number of completed conversation turns",
		}),
		EntriesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_transcript_entries_total",
			Help: "Total number of transcript entries appended",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_bridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(state live.State) {
	m.SessionsEnded.WithLabelValues(string(state)).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) StartFailed()  { m.StartFailures.Inc() }
func (m *Metrics) FrameSent()    { m.FramesSent.Inc() }
func (m *Metrics) FrameDropped() { m.FramesDropped.Inc() }
func (m *Metrics) SendFailed()   { m.SendFailures.Inc() }

func (m *Metrics) ChunkScheduled(seconds float64) {
	m.ChunksScheduled.Inc()
	m.ChunkDuration.Observe(seconds)
}

func (m *Metrics) Interrupted(stopped int) {
	m.Interruptions.Inc()
	m.SourcesStopped.Add(float64(stopped))
}

func (m *Metrics) TurnCompleted(entries int) {
	m.TurnsCompleted.Inc()
	m.EntriesAppended.Add(float64(entries))
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
