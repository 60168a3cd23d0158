package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-bridge/internal/live"
)

// voiceSession ties one browser connection to one bridge.
type voiceSession struct {
	id       string
	userID   string
	ctx      context.Context
	conn     *Conn
	bridge   *live.Bridge
	recorder *Recorder
	logger   *slog.Logger
	starts   sync.WaitGroup
}

func (s *voiceSession) callbacks() live.Callbacks {
	return live.Callbacks{
		OnStatus: func(st live.Status) {
			_ = s.conn.Send(MessageTypeStatus, st)
			s.recorder.StatusChanged(s.id, st)
		},
		OnTranscript: func(in, out string) {
			delta := TranscriptDeltaPayload{Input: in, Output: out}
			_ = s.conn.Send(MessageTypeTranscriptDelta, delta)
			s.recorder.Publish(s.id, MessageTypeTranscriptDelta, delta)
		},
		OnEntry: func(e live.Entry) {
			_ = s.conn.Send(MessageTypeTranscriptEntry, e)
			s.recorder.EntryFinalized(s.id, s.userID, e)
		},
		OnCleared: func() {
			_ = s.conn.Send(MessageTypeTranscriptCleared, nil)
			s.recorder.Publish(s.id, MessageTypeTranscriptCleared, nil)
		},
	}
}

func (s *voiceSession) bind(bridge *live.Bridge) {
	s.bridge = bridge
	s.id = bridge.ID()
	s.logger = s.logger.With("session_id", s.id)
}

func (s *voiceSession) handleControl(msg *Message) {
	switch msg.Type {
	case MessageTypeSessionStart:
		var p SessionStartPayload
		if err := msg.Decode(&p); err != nil {
			s.conn.SendError("invalid_payload", err.Error())
			return
		}
		// Playback is scheduled on the browser's AudioContext clock, so
		// start_at values are meaningless until it is known.
		if p.CurrentTime == nil {
			s.conn.SendError("missing_clock", "session.start requires current_time")
			return
		}
		s.conn.Grant(p)
		s.bridge.Reconfigure(p.Voice, p.Instruction)

		s.starts.Add(1)
		go func() {
			defer s.starts.Done()
			s.start()
		}()
	case MessageTypeSessionStop:
		s.bridge.Stop()
	case MessageTypeTranscriptClear:
		s.bridge.ClearTranscript()
	default:
		s.conn.SendError("unknown_message_type", "unsupported message type: "+string(msg.Type))
	}
}

func (s *voiceSession) start() {
	err := s.bridge.Start(s.ctx)
	if err == nil || errors.Is(err, live.ErrStartAborted) {
		return
	}

	code := startErrorCode(err)
	s.logger.Warn("session start failed", "code", code, "error", err)
	s.conn.SendError(code, err.Error())
}

func (s *voiceSession) close(manager *live.Manager) {
	if err := manager.Remove(s.id); err != nil {
		s.bridge.Stop()
	}
	s.starts.Wait()
	s.bridge.Wait()
	s.logger.Info("voice session closed")
}

func startErrorCode(err error) string {
	var perr *live.PermissionError
	var cerr *live.ConnectionError
	switch {
	case errors.As(err, &perr):
		return "microphone_unavailable"
	case errors.As(err, &cerr):
		return "connection_failed"
	case errors.Is(err, live.ErrAlreadyActive):
		return "session_active"
	default:
		return "start_failed"
	}
}
