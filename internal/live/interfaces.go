package live

import (
	"context"

	"github.com/eleven-am/voice-bridge/internal/audio"
)

const ModalityAudio = "AUDIO"

// ConnectConfig is the setup payload sent when the remote session opens.
type ConnectConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	ResponseModalities  []string
	InputTranscription  bool
	OutputTranscription bool
}

// Media is one realtime input message. Data is raw PCM; transports
// base64-encode it on the wire.
type Media struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

// ServerMessage is the subset of a remote message the bridge acts on.
// Fields are applied in declaration order.
type ServerMessage struct {
	Audio               [][]byte
	InputTranscription  string
	OutputTranscription string
	TurnComplete        bool
	Interrupted         bool
	GoAway              bool
}

type Remote interface {
	Send(media Media) error
	// Receive blocks for the next message. A clean remote close is io.EOF.
	Receive() (*ServerMessage, error)
	Close() error
}

type Dialer interface {
	Connect(ctx context.Context, cfg ConnectConfig) (Remote, error)
}

type Microphone interface {
	// Open requests access to the device. Denial is a *PermissionError.
	Open(ctx context.Context, sampleRate, frameSize int) (CaptureStream, error)
}

type CaptureStream interface {
	Start() error
	ReadFrame(ctx context.Context) ([]float32, error)
	Close() error
}

type Speaker interface {
	Open(sampleRate, channels int) (Output, error)
}

// Output is a playback context with its own clock in seconds.
// onEnded must be called asynchronously, never from inside Play or Stop.
type Output interface {
	CurrentTime() float64
	Play(buf *audio.Buffer, at float64, onEnded func()) (Source, error)
	Close() error
}

type Source interface {
	Stop() error
}

// Callbacks feed the display layer. They run outside the bridge lock and
// must not block.
type Callbacks struct {
	OnStatus     func(Status)
	OnTranscript func(input, output string)
	OnEntry      func(Entry)
	OnCleared    func()
}

// Instruments receives counters from the bridge. Implementations must be
// safe for concurrent use.
type Instruments interface {
	SessionStarted()
	SessionEnded(state State)
	StartFailed()
	FrameSent()
	FrameDropped()
	SendFailed()
	ChunkScheduled(seconds float64)
	Interrupted(stopped int)
	TurnCompleted(entries int)
}

type nopInstruments struct{}

func (nopInstruments) SessionStarted()        {}
func (nopInstruments) SessionEnded(State)     {}
func (nopInstruments) StartFailed()           {}
func (nopInstruments) FrameSent()             {}
func (nopInstruments) FrameDropped()          {}
func (nopInstruments) SendFailed()            {}
func (nopInstruments) ChunkScheduled(float64) {}
func (nopInstruments) Interrupted(int)        {}
func (nopInstruments) TurnCompleted(int)      {}

type multiInstruments []Instruments

// MultiInstruments fans every event out to each non-nil instrument.
func MultiInstruments(instruments ...Instruments) Instruments {
	var m multiInstruments
	for _, i := range instruments {
		if i != nil {
			m = append(m, i)
		}
	}
	if len(m) == 0 {
		return nopInstruments{}
	}
	return m
}

func (m multiInstruments) SessionStarted() {
	for _, i := range m {
		i.SessionStarted()
	}
}

func (m multiInstruments) SessionEnded(state State) {
	for _, i := range m {
		i.SessionEnded(state)
	}
}

func (m multiInstruments) StartFailed() {
	for _, i := range m {
		i.StartFailed()
	}
}

func (m multiInstruments) FrameSent() {
	for _, i := range m {
		i.FrameSent()
	}
}

func (m multiInstruments) FrameDropped() {
	for _, i := range m {
		i.FrameDropped()
	}
}

func (m multiInstruments) SendFailed() {
	for _, i := range m {
		i.SendFailed()
	}
}

func (m multiInstruments) ChunkScheduled(seconds float64) {
	for _, i := range m {
		i.ChunkScheduled(seconds)
	}
}

func (m multiInstruments) Interrupted(stopped int) {
	for _, i := range m {
		i.Interrupted(stopped)
	}
}

func (m multiInstruments) TurnCompleted(entries int) {
	for _, i := range m {
		i.TurnCompleted(entries)
	}
}
