package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/voice-bridge/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		logger: logger.With("component", "session_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions/history", h.ListHistory)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.DeleteSession)
	g.GET("/metrics/daily", h.GetMetrics)
}

type MetricsListResponse struct {
	Days    int        `json:"days"`
	Metrics []*Metrics `json:"metrics"`
	Totals  Metrics    `json:"totals"`
}

type HistoryResponse struct {
	Sessions []*Session `json:"sessions"`
	Total    int        `json:"total"`
}

// ListHistory returns stored session records, including ended sessions no
// longer held in memory. The user_id query parameter narrows the list.
func (h *Handler) ListHistory(c echo.Context) error {
	userID := c.QueryParam("user_id")

	sessions, err := h.store.ListByUser(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err, "user_id", userID)
		return shared.InternalError("list_failed", "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Sessions: sessions, Total: len(sessions)})
}

func (h *Handler) DeleteSession(c echo.Context) error {
	id := c.Param("id")

	err := h.store.DeleteSession(c.Request().Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		h.logger.Error("failed to delete session", "error", err, "session_id", id)
		return shared.InternalError("delete_failed", "failed to delete session")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("id")

	sess, err := h.store.GetSession(c.Request().Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		h.logger.Error("failed to get session", "error", err, "session_id", id)
		return shared.InternalError("get_failed", "failed to get session")
	}

	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetMetrics(c echo.Context) error {
	days := 7
	if v := c.QueryParam("days"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 && d <= 30 {
			days = d
		}
	}

	metrics, err := h.store.GetMetrics(c.Request().Context(), days)
	if err != nil {
		h.logger.Error("failed to get metrics", "error", err)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}

	resp := MetricsListResponse{Days: days, Metrics: metrics}
	if resp.Metrics == nil {
		resp.Metrics = []*Metrics{}
	}
	for _, m := range metrics {
		resp.Totals.Sessions += m.Sessions
		resp.Totals.Turns += m.Turns
		resp.Totals.Interruptions += m.Interruptions
		resp.Totals.FramesSent += m.FramesSent
		resp.Totals.FramesDropped += m.FramesDropped
		resp.Totals.SendFailures += m.SendFailures
		resp.Totals.Errors += m.Errors
	}

	return c.JSON(http.StatusOK, resp)
}
