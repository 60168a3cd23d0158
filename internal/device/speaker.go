package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/eleven-am/voice-bridge/internal/audio"
	"github.com/eleven-am/voice-bridge/internal/live"
)

var ErrOutputClosed = errors.New("playback output closed")

type player interface {
	Play()
	Pause()
	Close() error
}

// Speaker plays scheduled buffers on the default output device. oto allows
// one context per process, so the first Open fixes the format.
type Speaker struct {
	once       sync.Once
	otoCtx     *oto.Context
	initErr    error
	sampleRate int
	channels   int
	log        *slog.Logger
}

func NewSpeaker(log *slog.Logger) *Speaker {
	if log == nil {
		log = slog.Default()
	}
	return &Speaker{log: log.With("component", "speaker")}
}

func (s *Speaker) Open(sampleRate, channels int) (live.Output, error) {
	s.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			s.initErr = fmt.Errorf("init speaker: %w", err)
			return
		}
		<-ready
		s.otoCtx = ctx
		s.sampleRate = sampleRate
		s.channels = channels
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	if sampleRate != s.sampleRate || channels != s.channels {
		return nil, fmt.Errorf("speaker already running at %d Hz x %d", s.sampleRate, s.channels)
	}

	return newOutput(func(r io.Reader) player { return s.otoCtx.NewPlayer(r) }, s.log), nil
}

type output struct {
	newPlayer func(io.Reader) player
	origin    time.Time

	mu      sync.Mutex
	seq     uint64
	sources map[uint64]*source
	closed  bool
	log     *slog.Logger
}

func newOutput(newPlayer func(io.Reader) player, log *slog.Logger) *output {
	return &output{
		newPlayer: newPlayer,
		origin:    time.Now(),
		sources:   make(map[uint64]*source),
		log:       log,
	}
}

// CurrentTime is seconds since the output was opened.
func (o *output) CurrentTime() float64 {
	return time.Since(o.origin).Seconds()
}

func (o *output) Play(buf *audio.Buffer, at float64, onEnded func()) (live.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOutputClosed
	}

	o.seq++
	src := &source{
		id:       o.seq,
		out:      o,
		data:     audio.Float32ToBytes(buf.Samples),
		duration: buf.Duration(),
		onEnded:  onEnded,
	}
	o.sources[src.id] = src

	delay := time.Duration((at - o.CurrentTime()) * float64(time.Second))
	src.mu.Lock()
	src.timer = time.AfterFunc(max(delay, 0), src.begin)
	src.mu.Unlock()
	return src, nil
}

func (o *output) forget(id uint64) {
	o.mu.Lock()
	delete(o.sources, id)
	o.mu.Unlock()
}

func (o *output) Close() error {
	o.mu.Lock()
	o.closed = true
	sources := make([]*source, 0, len(o.sources))
	for _, src := range o.sources {
		sources = append(sources, src)
	}
	o.sources = make(map[uint64]*source)
	o.mu.Unlock()

	for _, src := range sources {
		_ = src.Stop()
	}
	return nil
}

type source struct {
	id       uint64
	out      *output
	data     []byte
	duration time.Duration
	onEnded  func()

	mu     sync.Mutex
	timer  *time.Timer
	player player
	done   bool
}

func (s *source) begin() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.player = s.out.newPlayer(bytes.NewReader(s.data))
	s.player.Play()
	s.timer = time.AfterFunc(s.duration, s.finish)
	s.mu.Unlock()
}

func (s *source) finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	p := s.player
	s.player = nil
	s.mu.Unlock()

	if p != nil {
		_ = p.Close()
	}
	s.out.forget(s.id)
	if s.onEnded != nil {
		s.onEnded()
	}
}

func (s *source) Stop() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return &live.PlaybackStopError{SourceID: s.id, Err: live.ErrSourceStopped}
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	p := s.player
	s.player = nil
	s.mu.Unlock()

	s.out.forget(s.id)
	if p != nil {
		p.Pause()
		return p.Close()
	}
	return nil
}
