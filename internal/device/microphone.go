package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/voice-bridge/internal/audio"
	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/gen2brain/malgo"
)

var ErrCaptureClosed = errors.New("capture stream closed")

const frameBacklog = 8

// Microphone captures float32 mono frames from the default input device.
type Microphone struct {
	log *slog.Logger
}

func NewMicrophone(log *slog.Logger) *Microphone {
	if log == nil {
		log = slog.Default()
	}
	return &Microphone{log: log.With("component", "microphone")}
}

func (m *Microphone) Open(ctx context.Context, sampleRate, frameSize int) (live.CaptureStream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, &live.PermissionError{Err: err}
	}

	stream := &captureStream{
		mctx:      mctx,
		assembler: newFrameAssembler(frameSize),
		frames:    make(chan []float32, frameBacklog),
		done:      make(chan struct{}),
		log:       m.log,
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: stream.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, &live.PermissionError{Err: err}
	}
	stream.device = dev

	m.log.Debug("microphone opened", "sample_rate", sampleRate, "frame_size", frameSize)
	return stream, nil
}

type captureStream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu        sync.Mutex
	assembler *frameAssembler
	frames    chan []float32
	dropped   atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func (s *captureStream) Start() error {
	return s.device.Start()
}

func (s *captureStream) onData(_, input []byte, _ uint32) {
	samples := audio.BytesToFloat32(input)

	s.mu.Lock()
	ready := s.assembler.push(samples)
	s.mu.Unlock()

	for _, frame := range ready {
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *captureStream) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return nil, ErrCaptureClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *captureStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.device != nil {
			err = s.device.Stop()
			s.device.Uninit()
		}
		if uerr := s.mctx.Uninit(); uerr != nil && err == nil {
			err = uerr
		}
		s.mctx.Free()
		if n := s.dropped.Load(); n > 0 {
			s.log.Warn("capture frames dropped", "count", n)
		}
	})
	return err
}

// frameAssembler cuts a stream of samples into fixed-size frames.
type frameAssembler struct {
	size    int
	pending []float32
}

func newFrameAssembler(size int) *frameAssembler {
	if size <= 0 {
		size = live.DefaultFrameSize
	}
	return &frameAssembler{size: size, pending: make([]float32, 0, size)}
}

func (a *frameAssembler) push(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > 0 {
		n := min(a.size-len(a.pending), len(samples))
		a.pending = append(a.pending, samples[:n]...)
		samples = samples[n:]

		if len(a.pending) == a.size {
			out = append(out, a.pending)
			a.pending = make([]float32, 0, a.size)
		}
	}
	return out
}
