package live

import (
	"bytes"
	"testing"
)

func TestEncodeFrame_ClampsAndPacks(t *testing.T) {
	media := EncodeFrame([]float32{0.0, 1.0, -1.0}, 16000)

	want := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if !bytes.Equal(media.Data, want) {
		t.Errorf("data = % x, want % x", media.Data, want)
	}
	if media.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mime = %q", media.MIMEType)
	}
}

func TestEncodeFrame_OutOfRange(t *testing.T) {
	media := EncodeFrame([]float32{2.5, -3.0}, 16000)
	want := []byte{0xFF, 0x7F, 0x00, 0x80}
	if !bytes.Equal(media.Data, want) {
		t.Errorf("data = % x, want % x", media.Data, want)
	}
}

func TestBridge_SendsCapturedFramesInOrder(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	stream := h.mic.stream(0)
	stream.frames <- []float32{0.5}
	stream.frames <- []float32{-0.5}
	stream.frames <- []float32{}

	remote := h.dialer.remote(0)
	waitFor(t, "two frames sent", func() bool { return remote.sentCount() == 2 })

	remote.mu.Lock()
	first, second := remote.sent[0], remote.sent[1]
	remote.mu.Unlock()

	if !bytes.Equal(first.Data, []byte{0x00, 0x40}) {
		t.Errorf("first frame = % x", first.Data)
	}
	if !bytes.Equal(second.Data, []byte{0x00, 0xC0}) {
		t.Errorf("second frame = % x", second.Data)
	}
	if h.inst.sent.Load() != 2 {
		t.Errorf("sent counter = %d", h.inst.sent.Load())
	}
}

func TestBridge_SendFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	remote := h.dialer.remote(0)
	remote.setSendErr(errBoom)

	stream := h.mic.stream(0)
	stream.frames <- []float32{0.1}
	waitFor(t, "send failure counted", func() bool { return h.inst.failed.Load() == 1 })

	if h.bridge.State() != StateActive {
		t.Fatalf("state = %s, want active", h.bridge.State())
	}

	remote.setSendErr(nil)
	stream.frames <- []float32{0.2}
	waitFor(t, "later frame sent", func() bool { return remote.sentCount() == 1 })
}

func TestBridge_UsesConfiguredCaptureFormat(t *testing.T) {
	h := newHarness(t, Config{FrameSize: 2048})
	h.start(t)

	stream := h.mic.stream(0)
	if stream.rate != 16000 {
		t.Errorf("capture rate = %d, want 16000", stream.rate)
	}
	if stream.size != 2048 {
		t.Errorf("frame size = %d, want 2048", stream.size)
	}
	if !stream.started.Load() {
		t.Error("capture should be started once active")
	}
}
