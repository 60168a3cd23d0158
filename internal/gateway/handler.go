package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/eleven-am/voice-bridge/internal/session"
	"github.com/eleven-am/voice-bridge/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	defaultTranscriptLimit = 100
	maxTranscriptLimit     = 500
	sseKeepAliveInterval   = 30 * time.Second
)

type EventSubscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan *Event, error)
}

type Handler struct {
	manager     *live.Manager
	recorder    *Recorder
	transcripts TranscriptStore
	events      EventSubscriber
	logger      *slog.Logger
}

func NewHandler(manager *live.Manager, recorder *Recorder, transcripts TranscriptStore, events EventSubscriber, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NewRecorder(nil, nil, nil, logger)
	}
	return &Handler{
		manager:     manager,
		recorder:    recorder,
		transcripts: transcripts,
		events:      events,
		logger:      logger.With("component", "voice_gateway"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleWebSocket)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id/live", h.GetLiveState)
	g.GET("/sessions/:id/transcript", h.GetTranscript)
	g.DELETE("/sessions/:id/transcript", h.DeleteTranscript)
	g.GET("/sessions/:id/events", h.StreamEvents)
}

func (h *Handler) HandleWebSocket(c echo.Context) error {
	userID := UserIDFromContext(c)

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	ctx := c.Request().Context()
	conn := NewConn(ws, h.logger)
	vs := &voiceSession{
		userID:   userID,
		ctx:      ctx,
		conn:     conn,
		recorder: h.recorder,
		logger:   h.logger,
	}

	bridge, err := h.manager.Create(live.BridgeOptions{
		UserID:     userID,
		Microphone: conn.Microphone(),
		Speaker:    conn.Speaker(),
		Callbacks:  vs.callbacks(),
	})
	if err != nil {
		h.logger.Error("failed to create bridge", "error", err)
		_ = conn.Close()
		return nil
	}
	vs.bind(bridge)
	conn.OnControl(vs.handleControl)

	cfg := bridge.Config()
	status := bridge.Status()
	h.recorder.SessionOpened(&session.Session{
		ID:         vs.id,
		UserID:     userID,
		State:      string(status.State),
		StatusText: status.Text,
		Voice:      cfg.Voice,
		Model:      cfg.Model,
	})

	_ = conn.Send(MessageTypeSessionReady, SessionReadyPayload{
		SessionID:        vs.id,
		InputSampleRate:  cfg.InputSampleRate,
		OutputSampleRate: cfg.OutputSampleRate,
		Voice:            cfg.Voice,
		Model:            cfg.Model,
	})
	_ = conn.Send(MessageTypeStatus, status)

	h.logger.Info("voice client connected", "session_id", vs.id, "user_id", userID)

	go conn.WritePump(ctx)
	conn.ReadPump(ctx)

	vs.close(h.manager)
	if dropped := conn.droppedMessages(); dropped > 0 {
		h.logger.Warn("messages dropped on slow client", "session_id", vs.id, "count", dropped)
	}
	return nil
}

func (h *Handler) ListSessions(c echo.Context) error {
	infos := h.manager.List()
	userID := c.QueryParam("user_id")

	resp := SessionListResponse{Sessions: make([]live.BridgeInfo, 0, len(infos))}
	for _, info := range infos {
		if userID != "" && info.UserID != userID {
			continue
		}
		resp.Sessions = append(resp.Sessions, info)
		if info.State == live.StateActive {
			resp.Active++
		}
	}
	resp.Total = len(resp.Sessions)
	return c.JSON(http.StatusOK, resp)
}

// GetLiveState reports the in-memory state of a bridge hosted by this
// process: status, pending transcription, display log and playback queue.
func (h *Handler) GetLiveState(c echo.Context) error {
	id := c.Param("id")
	bridge, ok := h.manager.Get(id)
	if !ok {
		return shared.NotFound("session_not_live", "session is not hosted by this server")
	}
	return c.JSON(http.StatusOK, bridge.Snapshot())
}

func (h *Handler) GetTranscript(c echo.Context) error {
	if h.transcripts == nil {
		return shared.ServiceUnavailable("transcripts_unavailable", "transcript storage is not configured")
	}

	id := c.Param("id")
	limit, offset, err := parsePage(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	entries, err := h.transcripts.ListBySession(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("list transcript", "error", err, "session_id", id)
		return shared.InternalError("transcript_failed", "failed to load transcript")
	}
	total, err := h.transcripts.CountBySession(ctx, id)
	if err != nil {
		h.logger.Error("count transcript", "error", err, "session_id", id)
		return shared.InternalError("transcript_failed", "failed to load transcript")
	}

	resp := TranscriptResponse{
		SessionID: id,
		Entries:   make([]TranscriptEntryResponse, 0, len(entries)),
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, TranscriptEntryResponse{
			Seq:       e.Seq,
			Role:      e.Role,
			Text:      e.Text,
			SpokenAt:  e.SpokenAt,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteTranscript removes the persisted entries and clears the live log of
// the session when it is hosted here.
func (h *Handler) DeleteTranscript(c echo.Context) error {
	if h.transcripts == nil {
		return shared.ServiceUnavailable("transcripts_unavailable", "transcript storage is not configured")
	}

	id := c.Param("id")
	deleted, err := h.transcripts.DeleteBySession(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("delete transcript", "error", err, "session_id", id)
		return shared.InternalError("transcript_failed", "failed to delete transcript")
	}

	if bridge, ok := h.manager.Get(id); ok {
		bridge.ClearTranscript()
	}
	return c.JSON(http.StatusOK, TranscriptDeleteResponse{SessionID: id, Deleted: deleted})
}

func (h *Handler) StreamEvents(c echo.Context) error {
	if h.events == nil {
		return shared.ServiceUnavailable("events_unavailable", "event stream is not configured")
	}

	id := c.Param("id")
	ctx := c.Request().Context()
	events, err := h.events.Subscribe(ctx, id)
	if err != nil {
		h.logger.Error("subscribe to session events", "error", err, "session_id", id)
		return shared.InternalError("subscribe_failed", "failed to subscribe to session events")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := writeKeepAlive(w); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func parsePage(c echo.Context) (int, int, error) {
	limit := defaultTranscriptLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTranscriptLimit {
			return 0, 0, shared.BadRequest("invalid_limit", "limit must be between 1 and "+strconv.Itoa(maxTranscriptLimit))
		}
		limit = n
	}

	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, shared.BadRequest("invalid_offset", "offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}
