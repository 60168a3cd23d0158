package session

import (
	"time"
)

type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	State        string     `json:"state"`
	StatusText   string     `json:"status_text"`
	Voice        string     `json:"voice"`
	Model        string     `json:"model"`
	Starts       int64      `json:"starts"`
	StartedAt    time.Time  `json:"started_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) RedisKey() string {
	return SessionRedisKey(s.ID)
}

func SessionRedisKey(id string) string {
	return "voice:session:" + id
}

const (
	FieldSessions      = "sessions"
	FieldTurns         = "turns"
	FieldInterruptions = "interruptions"
	FieldFramesSent    = "frames_sent"
	FieldFramesDropped = "frames_dropped"
	FieldSendFailures  = "send_failures"
	FieldErrors        = "errors"
)

type Metrics struct {
	Date          string `json:"date"`
	Sessions      int64  `json:"sessions"`
	Turns         int64  `json:"turns"`
	Interruptions int64  `json:"interruptions"`
	FramesSent    int64  `json:"frames_sent"`
	FramesDropped int64  `json:"frames_dropped"`
	SendFailures  int64  `json:"send_failures"`
	Errors        int64  `json:"errors"`
}

func MetricsRedisKey(date string) string {
	return "voice:metrics:" + date
}
