package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
)

const defaultFlushInterval = 10 * time.Second

// Counters buffers bridge events in memory and flushes them to the daily
// metrics hash. It implements live.Instruments.
type Counters struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger

	sessions      atomic.Int64
	turns         atomic.Int64
	interruptions atomic.Int64
	framesSent    atomic.Int64
	framesDropped atomic.Int64
	sendFailures  atomic.Int64
	errors        atomic.Int64
}

func NewCounters(store *Store, interval time.Duration, log *slog.Logger) *Counters {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Counters{
		store:    store,
		interval: interval,
		log:      log.With("component", "session_counters"),
	}
}

func (c *Counters) SessionStarted() { c.sessions.Add(1) }

func (c *Counters) SessionEnded(state live.State) {
	if state == live.StateErrored {
		c.errors.Add(1)
	}
}

func (c *Counters) StartFailed() { c.errors.Add(1) }

func (c *Counters) FrameSent()             { c.framesSent.Add(1) }
func (c *Counters) FrameDropped()          { c.framesDropped.Add(1) }
func (c *Counters) SendFailed()            { c.sendFailures.Add(1) }
func (c *Counters) ChunkScheduled(float64) {}
func (c *Counters) Interrupted(int)        { c.interruptions.Add(1) }

func (c *Counters) TurnCompleted(entries int) {
	if entries > 0 {
		c.turns.Add(1)
	}
}

// Run flushes on every tick until ctx is cancelled, then flushes once more.
func (c *Counters) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.log.Warn("final metrics flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Warn("metrics flush failed", "error", err)
			}
		}
	}
}

func (c *Counters) Flush(ctx context.Context) error {
	fields := map[string]int64{
		FieldSessions:      c.sessions.Swap(0),
		FieldTurns:         c.turns.Swap(0),
		FieldInterruptions: c.interruptions.Swap(0),
		FieldFramesSent:    c.framesSent.Swap(0),
		FieldFramesDropped: c.framesDropped.Swap(0),
		FieldSendFailures:  c.sendFailures.Swap(0),
		FieldErrors:        c.errors.Swap(0),
	}

	if err := c.store.IncrementMetrics(ctx, fields); err != nil {
		c.restore(fields)
		return err
	}
	return nil
}

func (c *Counters) restore(fields map[string]int64) {
	c.sessions.Add(fields[FieldSessions])
	c.turns.Add(fields[FieldTurns])
	c.interruptions.Add(fields[FieldInterruptions])
	c.framesSent.Add(fields[FieldFramesSent])
	c.framesDropped.Add(fields[FieldFramesDropped])
	c.sendFailures.Add(fields[FieldSendFailures])
	c.errors.Add(fields[FieldErrors])
}
