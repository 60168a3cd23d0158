package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/session"
	"github.com/eleven-am/voice-bridge/internal/transcript"
)

const (
	recorderQueueSize = 256
	recorderTimeout   = 5 * time.Second
)

type SessionStore interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	UpdateState(ctx context.Context, id, state, statusText string) (*session.Session, error)
}

type TranscriptStore interface {
	Append(ctx context.Context, sessionID, userID string, entries ...live.Entry) ([]*transcript.Entry, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*transcript.Entry, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

// Recorder persists session records, finalized transcript entries and
// events on a single worker so bridge callbacks never wait on storage.
// Jobs run in submission order; a full queue drops the job.
type Recorder struct {
	sessions    SessionStore
	transcripts TranscriptStore
	events      EventPublisher
	jobs        chan job
	logger      *slog.Logger
}

type job struct {
	name      string
	sessionID string
	run       func(ctx context.Context) error
}

func NewRecorder(sessions SessionStore, transcripts TranscriptStore, events EventPublisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sessions:    sessions,
		transcripts: transcripts,
		events:      events,
		jobs:        make(chan job, recorderQueueSize),
		logger:      logger.With("component", "recorder"),
	}
}

// Run executes jobs until ctx ends, then drains what is already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case j := <-r.jobs:
			r.exec(ctx, j)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
			defer cancel()
			for {
				select {
				case j := <-r.jobs:
					r.exec(drainCtx, j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) exec(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, recorderTimeout)
	defer cancel()
	if err := j.run(ctx); err != nil {
		r.logger.Warn("record failed", "job", j.name, "session_id", j.sessionID, "error", err)
	}
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		r.logger.Warn("record queue full, dropping job", "job", j.name, "session_id", j.sessionID)
	}
}

func (r *Recorder) SessionOpened(sess *session.Session) {
	if r.sessions == nil {
		return
	}
	rec := *sess
	r.enqueue(job{name: "session_opened", sessionID: rec.ID, run: func(ctx context.Context) error {
		return r.sessions.CreateSession(ctx, &rec)
	}})
}

func (r *Recorder) StatusChanged(sessionID string, st live.Status) {
	if r.sessions != nil {
		r.enqueue(job{name: "status_changed", sessionID: sessionID, run: func(ctx context.Context) error {
			_, err := r.sessions.UpdateState(ctx, sessionID, string(st.State), st.Text)
			return err
		}})
	}
	r.Publish(sessionID, MessageTypeStatus, st)
}

func (r *Recorder) EntryFinalized(sessionID, userID string, e live.Entry) {
	if r.transcripts != nil {
		r.enqueue(job{name: "entry_finalized", sessionID: sessionID, run: func(ctx context.Context) error {
			_, err := r.transcripts.Append(ctx, sessionID, userID, e)
			return err
		}})
	}
	r.Publish(sessionID, MessageTypeTranscriptEntry, e)
}

func (r *Recorder) Publish(sessionID string, t MessageType, payload any) {
	if r.events == nil {
		return
	}
	msg, err := NewMessage(t, payload)
	if err != nil {
		r.logger.Warn("encode event", "type", t, "error", err)
		return
	}
	ev := &Event{SessionID: sessionID, Type: t, Payload: msg.Payload, Timestamp: msg.Timestamp}
	r.enqueue(job{name: "publish", sessionID: sessionID, run: func(ctx context.Context) error {
		return r.events.Publish(ctx, ev)
	}})
}
