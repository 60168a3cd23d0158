package gemini

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type session struct {
	conn   liveSession
	closed atomic.Bool
	log    *slog.Logger
}

func newSession(conn liveSession, log *slog.Logger) *session {
	return &session{conn: conn, log: log}
}

func (s *session) Send(media live.Media) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: media.Data, MIMEType: media.MIMEType},
	})
}

func (s *session) Receive() (*live.ServerMessage, error) {
	msg, err := s.conn.Receive()
	if err != nil {
		if s.closed.Load() || isNormalClose(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	return ConvertMessage(msg), nil
}

func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ConvertMessage extracts audio parts, transcription text and turn flags.
// Non-audio inline parts are ignored.
func ConvertMessage(msg *genai.LiveServerMessage) *live.ServerMessage {
	out := &live.ServerMessage{}
	if msg == nil {
		return out
	}
	out.GoAway = msg.GoAway != nil

	content := msg.ServerContent
	if content == nil {
		return out
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if mt := part.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
				continue
			}
			out.Audio = append(out.Audio, part.InlineData.Data)
		}
	}

	if content.InputTranscription != nil {
		out.InputTranscription = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		out.OutputTranscription = content.OutputTranscription.Text
	}
	out.TurnComplete = content.TurnComplete
	out.Interrupted = content.Interrupted
	return out
}
