package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/eleven-am/voice-bridge/internal/audio"
)

func TestFrameAssembler(t *testing.T) {
	a := newFrameAssembler(4)

	if got := a.push([]float32{1, 2, 3}); len(got) != 0 {
		t.Fatalf("partial push returned %d frames", len(got))
	}

	got := a.push([]float32{4, 5, 6, 7, 8, 9})
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
	if got[0][0] != 1 || got[0][3] != 4 || got[1][0] != 5 || got[1][3] != 8 {
		t.Errorf("frames = %v", got)
	}
	if len(a.pending) != 1 || a.pending[0] != 9 {
		t.Errorf("pending = %v", a.pending)
	}
}

func TestFrameAssembler_FramesAreIndependent(t *testing.T) {
	a := newFrameAssembler(2)
	first := a.push([]float32{1, 2})[0]
	a.push([]float32{3, 4})
	if first[0] != 1 || first[1] != 2 {
		t.Errorf("earlier frame was overwritten: %v", first)
	}
}

func TestFrameAssembler_DefaultSize(t *testing.T) {
	if a := newFrameAssembler(0); a.size != 4096 {
		t.Errorf("size = %d", a.size)
	}
}

func TestCaptureStream_DeliversFrames(t *testing.T) {
	s := &captureStream{
		assembler: newFrameAssembler(2),
		frames:    make(chan []float32, 1),
		done:      make(chan struct{}),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	s.onData(nil, audio.Float32ToBytes([]float32{0.25, -0.25, 0.5, 0.5}), 4)

	frame, err := s.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame[0] != 0.25 || frame[1] != -0.25 {
		t.Errorf("frame = %v", frame)
	}
	if s.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1 with a full backlog", s.dropped.Load())
	}

	close(s.done)
	if _, err := s.ReadFrame(context.Background()); !errors.Is(err, ErrCaptureClosed) {
		t.Errorf("error = %v, want ErrCaptureClosed", err)
	}
}

func TestCaptureStream_ReadFrameHonoursContext(t *testing.T) {
	s := &captureStream{frames: make(chan []float32), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v", err)
	}
}
