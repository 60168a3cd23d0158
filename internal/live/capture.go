package live

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eleven-am/voice-bridge/internal/audio"
)

// EncodeFrame turns captured float samples into a realtime input message.
func EncodeFrame(samples []float32, sampleRate int) Media {
	return Media{
		Data:     audio.EncodePCM16(samples),
		MIMEType: audio.PCMMimeType(sampleRate),
	}
}

func (b *Bridge) captureLoop(ctx context.Context, sess *activeSession) {
	defer sess.wg.Done()
	log := sess.log.With("loop", "capture")

	for {
		frame, err := sess.capture.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				log.Warn("capture ended", "error", err)
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		media := EncodeFrame(frame, b.cfg.InputSampleRate)
		select {
		case sess.sendQ <- media:
		case <-ctx.Done():
			return
		default:
			b.instruments.FrameDropped()
			log.Debug("send queue full, frame dropped", "samples", len(frame))
		}
	}
}

func (b *Bridge) sendLoop(ctx context.Context, sess *activeSession) {
	defer sess.wg.Done()
	log := sess.log.With("loop", "send")

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case media := <-sess.sendQ:
			seq++
			if err := sess.remote.Send(media); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.instruments.SendFailed()
				logSendFailure(log, &TransientSendFailure{Seq: seq, Err: err})
				continue
			}
			b.instruments.FrameSent()
		}
	}
}

func logSendFailure(log *slog.Logger, err *TransientSendFailure) {
	log.Warn("send frame failed", "seq", err.Seq, "error", err.Err)
}
