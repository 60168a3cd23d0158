package gateway

import (
	"encoding/json"
	"time"

	"github.com/eleven-am/voice-bridge/internal/live"
)

type MessageType string

const (
	MessageTypeSessionStart    MessageType = "session.start"
	MessageTypeSessionStop     MessageType = "session.stop"
	MessageTypePlaybackClock   MessageType = "playback.clock"
	MessageTypePlaybackEnded   MessageType = "playback.ended"
	MessageTypeTranscriptClear MessageType = "transcript.clear"

	MessageTypeSessionReady      MessageType = "session.ready"
	MessageTypeStatus            MessageType = "status"
	MessageTypeTranscriptDelta   MessageType = "transcript.delta"
	MessageTypeTranscriptEntry   MessageType = "transcript.entry"
	MessageTypeTranscriptCleared MessageType = "transcript.cleared"
	MessageTypeAudioPlay         MessageType = "audio.play"
	MessageTypeAudioStop         MessageType = "audio.stop"
	MessageTypeError             MessageType = "error"
)

// Message is the JSON envelope of every text frame in both directions.
// Binary frames carry captured audio as float32 little-endian samples.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

func NewMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{Type: t, Timestamp: time.Now()}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = data
	return msg, nil
}

func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

type SessionStartPayload struct {
	Microphone  bool     `json:"microphone"`
	SampleRate  int      `json:"sample_rate,omitempty"`
	CurrentTime *float64 `json:"current_time,omitempty"`
	Voice       string   `json:"voice,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

type PlaybackClockPayload struct {
	CurrentTime float64 `json:"current_time"`
}

type PlaybackEndedPayload struct {
	SourceID uint64 `json:"source_id"`
}

type SessionReadyPayload struct {
	SessionID        string `json:"session_id"`
	InputSampleRate  int    `json:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
	Voice            string `json:"voice"`
	Model            string `json:"model"`
}

type TranscriptDeltaPayload struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type AudioPlayPayload struct {
	SourceID   uint64  `json:"source_id"`
	StartAt    float64 `json:"start_at"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Data       string  `json:"data"`
}

type AudioStopPayload struct {
	SourceID uint64 `json:"source_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is what a session publishes for out-of-band observers.
type Event struct {
	SessionID string          `json:"session_id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type SessionListResponse struct {
	Sessions []live.BridgeInfo `json:"sessions"`
	Total    int               `json:"total"`
	Active   int               `json:"active"`
}

type TranscriptEntryResponse struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	SpokenAt  time.Time `json:"spoken_at"`
	CreatedAt time.Time `json:"created_at"`
}

type TranscriptResponse struct {
	SessionID string                    `json:"session_id"`
	Entries   []TranscriptEntryResponse `json:"entries"`
	Total     int64                     `json:"total"`
	Limit     int                       `json:"limit"`
	Offset    int                       `json:"offset"`
}

type TranscriptDeleteResponse struct {
	SessionID string `json:"session_id"`
	Deleted   int64  `json:"deleted"`
}
