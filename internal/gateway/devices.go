package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/eleven-am/voice-bridge/internal/audio"
	"github.com/eleven-am/voice-bridge/internal/live"
)

var (
	ErrMicrophoneDenied = errors.New("browser did not grant the microphone")
	ErrOutputClosed     = errors.New("playback output closed")
	errSourceFinished   = errors.New("source already ended")
)

func (c *Conn) Microphone() live.Microphone {
	return connMicrophone{conn: c}
}

func (c *Conn) Speaker() live.Speaker {
	return connSpeaker{conn: c}
}

type connMicrophone struct {
	conn *Conn
}

// Open hands out the binary frames of the socket. The browser decides the
// frame size, so frameSize is not enforced; a client capture rate different
// from sampleRate is resampled.
func (m connMicrophone) Open(_ context.Context, sampleRate, _ int) (live.CaptureStream, error) {
	c := m.conn
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.micAllowed {
		return nil, ErrMicrophoneDenied
	}

drain:
	for {
		select {
		case <-c.frames:
		default:
			break drain
		}
	}

	s := &captureStream{conn: c}
	c.targetRate = sampleRate
	c.capture = s
	return s, nil
}

type captureStream struct {
	conn    *Conn
	mu      sync.Mutex
	started bool
	closed  bool
}

func (s *captureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnClosed
	}
	s.started = true
	return nil
}

func (s *captureStream) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case frame := <-s.conn.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.conn.done:
		return nil, ErrConnClosed
	}
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.started = false
	s.mu.Unlock()

	c := s.conn
	c.mu.Lock()
	if c.capture == s {
		c.capture = nil
	}
	c.mu.Unlock()
	return nil
}

func (s *captureStream) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// handleAudio queues one binary frame for the active capture stream. Frames
// arriving while nothing captures, or faster than they are read, are dropped.
func (c *Conn) handleAudio(data []byte) {
	c.mu.Lock()
	s := c.capture
	from, to := c.clientRate, c.targetRate
	c.mu.Unlock()

	if s == nil || !s.running() {
		return
	}

	samples := audio.BytesToFloat32(data)
	if len(samples) == 0 {
		return
	}
	if from > 0 && to > 0 && from != to {
		samples = audio.Resample(samples, from, to)
	}

	select {
	case c.frames <- samples:
	default:
		c.logger.Debug("capture buffer full, dropping frame", "samples", len(samples))
	}
}

type connSpeaker struct {
	conn *Conn
}

func (sp connSpeaker) Open(sampleRate, channels int) (live.Output, error) {
	c := sp.conn
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}

	o := &playbackOutput{
		conn:       c,
		sampleRate: sampleRate,
		channels:   channels,
		sources:    make(map[uint64]*playbackSource),
	}
	c.mu.Lock()
	c.output = o
	c.mu.Unlock()
	return o, nil
}

// playbackOutput schedules buffers on the browser's AudioContext. The
// browser reports when each source finishes with playback.ended.
type playbackOutput struct {
	conn       *Conn
	sampleRate int
	channels   int

	mu      sync.Mutex
	closed  bool
	sources map[uint64]*playbackSource
}

func (o *playbackOutput) CurrentTime() float64 {
	return o.conn.clock()
}

func (o *playbackOutput) Play(buf *audio.Buffer, at float64, onEnded func()) (live.Source, error) {
	c := o.conn

	c.mu.Lock()
	c.nextSource++
	id := c.nextSource
	c.mu.Unlock()

	src := &playbackSource{id: id, output: o, onEnded: onEnded}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrOutputClosed
	}
	o.sources[id] = src
	o.mu.Unlock()

	err := c.enqueue(MessageTypeAudioPlay, AudioPlayPayload{
		SourceID:   id,
		StartAt:    at,
		Duration:   buf.Seconds(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Data:       audio.EncodeBase64(buf.PCM16()),
	}, id)
	if err != nil {
		o.remove(id)
		return nil, err
	}
	return src, nil
}

func (o *playbackOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.sources = make(map[uint64]*playbackSource)
	o.mu.Unlock()

	c := o.conn
	c.mu.Lock()
	if c.output == o {
		c.output = nil
	}
	c.mu.Unlock()
	return nil
}

func (o *playbackOutput) remove(id uint64) (*playbackSource, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src, ok := o.sources[id]
	if ok {
		delete(o.sources, id)
	}
	return src, ok
}

func (o *playbackOutput) has(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sources[id]
	return ok
}

type playbackSource struct {
	id      uint64
	output  *playbackOutput
	onEnded func()
}

// Stop tells the browser to stop the source. A source that already ended
// or was stopped returns a PlaybackStopError.
func (s *playbackSource) Stop() error {
	if _, ok := s.output.remove(s.id); !ok {
		return &live.PlaybackStopError{SourceID: s.id, Err: errSourceFinished}
	}
	if err := s.output.conn.Send(MessageTypeAudioStop, AudioStopPayload{SourceID: s.id}); err != nil {
		return &live.PlaybackStopError{SourceID: s.id, Err: err}
	}
	return nil
}

// sourceQueued reports whether a queued audio.play is still wanted.
func (c *Conn) sourceQueued(id uint64) bool {
	c.mu.Lock()
	o := c.output
	c.mu.Unlock()
	return o != nil && o.has(id)
}

func (c *Conn) sourceEnded(id uint64) {
	c.mu.Lock()
	o := c.output
	c.mu.Unlock()
	if o == nil {
		return
	}

	src, ok := o.remove(id)
	if !ok {
		return
	}
	if src.onEnded != nil {
		src.onEnded()
	}
}
