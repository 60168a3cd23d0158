package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/voice-bridge/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pcmChunk returns a silent PCM16 chunk of the given length at 24 kHz mono.
func pcmChunk(seconds float64) []byte {
	samples := int(seconds * audio.OutputSampleRate)
	return make([]byte, samples*2)
}

type fakeRemote struct {
	mu      sync.Mutex
	sent    []Media
	sendErr error

	msgs      chan *ServerMessage
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		msgs:   make(chan *ServerMessage),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (r *fakeRemote) Send(m Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, m)
	return nil
}

func (r *fakeRemote) Receive() (*ServerMessage, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case err := <-r.errs:
		return nil, err
	case <-r.closed:
		return nil, io.EOF
	}
}

func (r *fakeRemote) Close() error {
	r.closes.Add(1)
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeRemote) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *fakeRemote) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *fakeRemote) setSendErr(err error) {
	r.mu.Lock()
	r.sendErr = err
	r.mu.Unlock()
}

// deliver hands msg to the receive loop and returns once it was handled.
func (r *fakeRemote) deliver(t *testing.T, msg *ServerMessage) {
	t.Helper()
	for _, m := range []*ServerMessage{msg, nil} {
		select {
		case r.msgs <- m:
		case <-time.After(2 * time.Second):
			t.Fatal("receive loop did not pick up message")
		}
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	remotes []*fakeRemote
	configs []ConnectConfig
	err     error
	gate    chan struct{}
}

func (d *fakeDialer) Connect(ctx context.Context, cfg ConnectConfig) (Remote, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	r := newFakeRemote()
	d.remotes = append(d.remotes, r)
	return r, nil
}

func (d *fakeDialer) remote(i int) *fakeRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remotes[i]
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

type fakeMicrophone struct {
	mu       sync.Mutex
	openErr  error
	startErr error
	streams  []*fakeStream
}

func (m *fakeMicrophone) Open(ctx context.Context, sampleRate, frameSize int) (CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &fakeStream{
		frames:   make(chan []float32, 16),
		done:     make(chan struct{}),
		startErr: m.startErr,
		rate:     sampleRate,
		size:     frameSize,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMicrophone) stream(i int) *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[i]
}

type fakeStream struct {
	frames    chan []float32
	done      chan struct{}
	closeOnce sync.Once
	startErr  error
	started   atomic.Bool
	rate      int
	size      int
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started.Store(true)
	return nil
}

func (s *fakeStream) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type fakePlay struct {
	at       float64
	duration float64
	src      *fakeSource
}

type fakeOutput struct {
	mu     sync.Mutex
	now    float64
	plays  []fakePlay
	closed bool
}

func (o *fakeOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) setTime(t float64) {
	o.mu.Lock()
	o.now = t
	o.mu.Unlock()
}

func (o *fakeOutput) Play(buf *audio.Buffer, at float64, onEnded func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{id: uint64(len(o.plays) + 1), onEnded: onEnded}
	o.plays = append(o.plays, fakePlay{at: at, duration: buf.Seconds(), src: src})
	return src, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) play(i int) fakePlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plays[i]
}

func (o *fakeOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.plays)
}

func (o *fakeOutput) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeSource struct {
	mu      sync.Mutex
	id      uint64
	stops   int
	ended   bool
	onEnded func()
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.ended || s.stops > 1 {
		return &PlaybackStopError{SourceID: s.id, Err: ErrSourceStopped}
	}
	return nil
}

// end simulates natural completion.
func (s *fakeSource) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.onEnded()
}

func (s *fakeSource) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeSpeaker struct {
	mu      sync.Mutex
	openErr error
	outputs []*fakeOutput
}

func (s *fakeSpeaker) Open(sampleRate, channels int) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	o := &fakeOutput{}
	s.outputs = append(s.outputs, o)
	return o, nil
}

func (s *fakeSpeaker) output(i int) *fakeOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[i]
}

type recorder struct {
	mu          sync.Mutex
	statuses    []Status
	entries     []Entry
	transcripts [][2]string
	cleared     int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatus: func(s Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnTranscript: func(in, out string) {
			r.mu.Lock()
			r.transcripts = append(r.transcripts, [2]string{in, out})
			r.mu.Unlock()
		},
		OnEntry: func(e Entry) {
			r.mu.Lock()
			r.entries = append(r.entries, e)
			r.mu.Unlock()
		},
		OnCleared: func() {
			r.mu.Lock()
			r.cleared++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.State
	}
	return out
}

func (r *recorder) lastStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

type countingInstruments struct {
	started, ended, startFailed, sent, dropped, failed, scheduled, interrupted, turns atomic.Int32
}

func (c *countingInstruments) SessionStarted()        { c.started.Add(1) }
func (c *countingInstruments) SessionEnded(State)     { c.ended.Add(1) }
func (c *countingInstruments) StartFailed()           { c.startFailed.Add(1) }
func (c *countingInstruments) FrameSent()             { c.sent.Add(1) }
func (c *countingInstruments) FrameDropped()          { c.dropped.Add(1) }
func (c *countingInstruments) SendFailed()            { c.failed.Add(1) }
func (c *countingInstruments) ChunkScheduled(float64) { c.scheduled.Add(1) }
func (c *countingInstruments) Interrupted(int)        { c.interrupted.Add(1) }
func (c *countingInstruments) TurnCompleted(int)      { c.turns.Add(1) }

type harness struct {
	bridge  *Bridge
	dialer  *fakeDialer
	mic     *fakeMicrophone
	speaker *fakeSpeaker
	rec     *recorder
	inst    *countingInstruments
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dialer:  &fakeDialer{},
		mic:     &fakeMicrophone{},
		speaker: &fakeSpeaker{},
		rec:     &recorder{},
		inst:    &countingInstruments{},
	}
	b, err := New(cfg, Dependencies{
		Dialer:      h.dialer,
		Microphone:  h.mic,
		Speaker:     h.speaker,
		Callbacks:   h.rec.callbacks(),
		Instruments: h.inst,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bridge = b
	t.Cleanup(b.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

var errBoom = errors.New("boom")
