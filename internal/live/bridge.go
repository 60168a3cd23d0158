package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Dependencies struct {
	Dialer      Dialer
	Microphone  Microphone
	Speaker     Speaker
	Callbacks   Callbacks
	Instruments Instruments
}

// Bridge couples one microphone and one speaker to a remote live session.
// At most one session is active per bridge.
type Bridge struct {
	id          string
	cfg         Config
	dialer      Dialer
	mic         Microphone
	speaker     Speaker
	callbacks   Callbacks
	instruments Instruments
	log         *slog.Logger

	reconciler *Reconciler

	mu         sync.Mutex
	state      State
	session    *activeSession
	last       *activeSession
	attempt    uint64
	abortStart context.CancelFunc
	startedAt  time.Time
}

type activeSession struct {
	remote    Remote
	capture   CaptureStream
	output    Output
	scheduler *Scheduler
	sendQ     chan Media
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *slog.Logger
}

// Snapshot is a point-in-time copy of the bridge for display and diagnostics.
type Snapshot struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         Status    `json:"status"`
	Voice          string    `json:"voice"`
	Model          string    `json:"model"`
	Input          string    `json:"input"`
	Output         string    `json:"output"`
	Entries        []Entry   `json:"entries"`
	PendingSources int       `json:"pending_sources"`
	NextStartTime  float64   `json:"next_start_time"`
	StartedAt      time.Time `json:"started_at"`
}

func New(cfg Config, deps Dependencies, log *slog.Logger) (*Bridge, error) {
	if deps.Dialer == nil || deps.Microphone == nil || deps.Speaker == nil {
		return nil, ErrMissingDevices
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Instruments == nil {
		deps.Instruments = nopInstruments{}
	}

	id := uuid.New().String()
	return &Bridge{
		id:          id,
		cfg:         cfg.withDefaults(),
		dialer:      deps.Dialer,
		mic:         deps.Microphone,
		speaker:     deps.Speaker,
		callbacks:   deps.Callbacks,
		instruments: deps.Instruments,
		log:         log.With("component", "live_bridge", "bridge_id", id),
		reconciler:  NewReconciler(),
		state:       StateIdle,
	}, nil
}

func (b *Bridge) ID() string {
	return b.id
}

func (b *Bridge) UserID() string {
	return b.Config().UserID
}

func (b *Bridge) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Reconfigure replaces the voice and system instruction used by the next
// Start. Empty values keep the current setting.
func (b *Bridge) Reconfigure(voice, instruction string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if voice != "" {
		b.cfg.Voice = voice
	}
	if instruction != "" {
		b.cfg.SystemInstruction = instruction
	}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Bridge) Active() bool {
	return b.State() == StateActive
}

func (b *Bridge) Transcript() []Entry {
	return b.reconciler.Entries()
}

// Start opens the microphone, the playback output and the remote session,
// in that order. Any failure leaves the bridge Errored with nothing open.
func (b *Bridge) Start(ctx context.Context) error {
	var n notifications

	b.mu.Lock()
	if b.state == StateActive || b.state == StateConnecting {
		if b.cfg.RestartPolicy != RestartReplace {
			b.mu.Unlock()
			return ErrAlreadyActive
		}
		b.log.Info("replacing running session")
		if b.abortStart != nil {
			b.abortStart()
			b.abortStart = nil
		}
		if b.teardownLocked(StateClosed, &n) {
			b.instruments.SessionEnded(StateClosed)
		}
	}

	b.attempt++
	attempt := b.attempt
	cfg := b.cfg
	startCtx, abort := context.WithCancel(ctx)
	defer abort()
	b.abortStart = abort

	b.reconciler.Reset()
	n.add(b.clearedNotification())
	b.setStateLocked(StateConnecting, &n)
	b.mu.Unlock()
	n.flush()

	capture, err := b.mic.Open(startCtx, cfg.InputSampleRate, cfg.FrameSize)
	if err != nil {
		return b.failStart(attempt, asPermissionError(err))
	}

	output, err := b.speaker.Open(cfg.OutputSampleRate, cfg.Channels)
	if err != nil {
		b.closeQuietly("capture", capture)
		return b.failStart(attempt, fmt.Errorf("open playback output: %w", err))
	}

	remote, err := b.dialer.Connect(startCtx, cfg.connectConfig())
	if err != nil {
		b.closeQuietly("capture", capture)
		b.closeQuietly("output", output)
		return b.failStart(attempt, &ConnectionError{Op: "connect", Err: err})
	}

	n = nil
	b.mu.Lock()
	if b.attempt != attempt || b.state != StateConnecting {
		b.mu.Unlock()
		b.closeQuietly("remote", remote)
		b.closeQuietly("capture", capture)
		b.closeQuietly("output", output)
		return ErrStartAborted
	}

	if err := capture.Start(); err != nil {
		b.mu.Unlock()
		b.closeQuietly("remote", remote)
		b.closeQuietly("capture", capture)
		b.closeQuietly("output", output)
		return b.failStart(attempt, asPermissionError(fmt.Errorf("start capture: %w", err)))
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		remote:    remote,
		capture:   capture,
		output:    output,
		scheduler: NewScheduler(output, cfg.OutputSampleRate, cfg.Channels, b.log),
		sendQ:     make(chan Media, cfg.SendQueueSize),
		cancel:    cancel,
		log:       b.log.With("attempt", attempt),
	}
	b.session = sess
	b.last = sess
	b.startedAt = time.Now()
	b.abortStart = nil
	b.setStateLocked(StateActive, &n)

	sess.wg.Add(3)
	go b.receiveLoop(sess)
	go b.captureLoop(sessCtx, sess)
	go b.sendLoop(sessCtx, sess)
	b.mu.Unlock()

	b.instruments.SessionStarted()
	b.log.Info("live session started", "model", cfg.Model, "voice", cfg.Voice)
	n.flush()
	return nil
}

func (b *Bridge) failStart(attempt uint64, err error) error {
	var n notifications

	b.mu.Lock()
	if b.attempt != attempt {
		b.mu.Unlock()
		return ErrStartAborted
	}
	b.abortStart = nil
	b.setStateLocked(StateErrored, &n)
	b.mu.Unlock()

	b.instruments.StartFailed()
	b.log.Error("failed to start live session", "error", err)
	n.flush()
	return err
}

// Stop tears down whatever is open and moves to Closed. It is safe to call
// from any state and more than once.
func (b *Bridge) Stop() {
	var n notifications

	b.mu.Lock()
	b.attempt++
	if b.abortStart != nil {
		b.abortStart()
		b.abortStart = nil
	}
	hadSession := b.teardownLocked(StateClosed, &n)
	b.mu.Unlock()

	if hadSession {
		b.instruments.SessionEnded(StateClosed)
		b.log.Info("live session stopped")
	}
	n.flush()
}

// Wait blocks until the goroutines of the last session have exited.
func (b *Bridge) Wait() {
	b.mu.Lock()
	sess := b.last
	b.mu.Unlock()
	if sess != nil {
		sess.wg.Wait()
	}
}

func (b *Bridge) teardownLocked(final State, n *notifications) bool {
	sess := b.session
	b.session = nil

	if sess != nil {
		sess.cancel()
		b.closeQuietly("remote", sess.remote)
		if stopped := sess.scheduler.StopAll(); stopped > 0 {
			sess.log.Debug("stopped pending sources", "count", stopped)
		}
		b.closeQuietly("capture", sess.capture)
		b.closeQuietly("output", sess.output)
	}

	if b.state != final {
		b.setStateLocked(final, n)
	}
	return sess != nil
}

func (b *Bridge) receiveLoop(sess *activeSession) {
	defer sess.wg.Done()

	for {
		msg, err := sess.remote.Receive()
		if err != nil {
			b.remoteEnded(sess, err)
			return
		}
		if msg != nil {
			b.handleMessage(sess, msg)
		}
	}
}

func (b *Bridge) remoteEnded(sess *activeSession, err error) {
	var n notifications

	b.mu.Lock()
	if b.session != sess {
		b.mu.Unlock()
		return
	}

	final := StateClosed
	if !errors.Is(err, io.EOF) {
		final = StateErrored
	}
	b.teardownLocked(final, &n)
	b.mu.Unlock()

	b.instruments.SessionEnded(final)
	if final == StateErrored {
		b.log.Error("live session failed", "error", &ConnectionError{Op: "receive", Err: err})
	} else {
		b.log.Info("live session closed by remote")
	}
	n.flush()
}

func (b *Bridge) handleMessage(sess *activeSession, msg *ServerMessage) {
	var n notifications

	b.mu.Lock()
	if b.session != sess {
		b.mu.Unlock()
		return
	}

	for _, chunk := range msg.Audio {
		scheduled, err := sess.scheduler.Enqueue(chunk)
		if err != nil {
			sess.log.Warn("dropping audio chunk", "bytes", len(chunk), "error", err)
			continue
		}
		b.instruments.ChunkScheduled(scheduled.Duration)
	}

	if msg.InputTranscription != "" || msg.OutputTranscription != "" {
		if msg.InputTranscription != "" {
			b.reconciler.AppendInput(msg.InputTranscription)
		}
		if msg.OutputTranscription != "" {
			b.reconciler.AppendOutput(msg.OutputTranscription)
		}
		in, out := b.reconciler.Pending()
		n.add(b.transcriptNotification(in, out))
	}

	if msg.TurnComplete {
		entries := b.reconciler.CompleteTurn()
		for _, e := range entries {
			n.add(b.entryNotification(e))
		}
		n.add(b.transcriptNotification("", ""))
		b.instruments.TurnCompleted(len(entries))
	}

	if msg.Interrupted {
		stopped := sess.scheduler.Interrupt()
		b.instruments.Interrupted(stopped)
		sess.log.Debug("playback interrupted", "stopped", stopped)
	}

	if msg.GoAway {
		sess.log.Warn("remote announced disconnect")
	}
	b.mu.Unlock()

	n.flush()
}

// ClearTranscript empties the finalized log. The current turn keeps
// accumulating.
func (b *Bridge) ClearTranscript() {
	b.reconciler.ClearLog()
	if fn := b.clearedNotification(); fn != nil {
		fn()
	}
}

func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	in, out := b.reconciler.Pending()
	snap := Snapshot{
		ID:        b.id,
		UserID:    b.cfg.UserID,
		Status:    b.statusLocked(),
		Voice:     b.cfg.Voice,
		Model:     b.cfg.Model,
		Input:     in,
		Output:    out,
		Entries:   b.reconciler.Entries(),
		StartedAt: b.startedAt,
	}
	if b.session != nil {
		snap.PendingSources = b.session.scheduler.Pending()
		snap.NextStartTime = b.session.scheduler.NextStartTime()
	}
	return snap
}

func (b *Bridge) statusLocked() Status {
	return Status{
		State:  b.state,
		Text:   b.cfg.statusText(b.state),
		Active: b.state == StateActive,
	}
}

func (b *Bridge) setStateLocked(state State, n *notifications) {
	b.state = state
	if b.callbacks.OnStatus != nil {
		status := b.statusLocked()
		n.add(func() { b.callbacks.OnStatus(status) })
	}
}

func (b *Bridge) transcriptNotification(in, out string) func() {
	if b.callbacks.OnTranscript == nil {
		return nil
	}
	return func() { b.callbacks.OnTranscript(in, out) }
}

func (b *Bridge) entryNotification(e Entry) func() {
	if b.callbacks.OnEntry == nil {
		return nil
	}
	return func() { b.callbacks.OnEntry(e) }
}

func (b *Bridge) clearedNotification() func() {
	if b.callbacks.OnCleared == nil {
		return nil
	}
	return b.callbacks.OnCleared
}

func (b *Bridge) closeQuietly(what string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		b.log.Debug("close failed", "resource", what, "error", err)
	}
}

// notifications are display callbacks collected under the lock and run
// after it is released.
type notifications []func()

func (n *notifications) add(fn func()) {
	if fn != nil {
		*n = append(*n, fn)
	}
}

func (n notifications) flush() {
	for _, fn := range n {
		fn()
	}
}
