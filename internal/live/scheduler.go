package live

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-bridge/internal/audio"
)

// Scheduled describes one chunk placed on the playback timeline.
type Scheduled struct {
	ID       uint64
	Start    float64
	Duration float64
}

// Scheduler lays decoded chunks back to back on the output clock and keeps
// the set of sources that have not ended yet.
type Scheduler struct {
	mu         sync.Mutex
	out        Output
	sampleRate int
	channels   int
	nextStart  float64
	sources    map[uint64]Source
	seq        uint64
	log        *slog.Logger
}

func NewScheduler(out Output, sampleRate, channels int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	if channels <= 0 {
		channels = audio.Channels
	}
	return &Scheduler{
		out:        out,
		sampleRate: sampleRate,
		channels:   channels,
		sources:    make(map[uint64]Source),
		log:        log.With("component", "playback_scheduler"),
	}
}

// Enqueue decodes a PCM16 chunk and starts it at max(nextStart, now).
func (s *Scheduler) Enqueue(pcm []byte) (Scheduled, error) {
	buf := audio.NewBuffer(pcm, s.sampleRate, s.channels)
	if buf.Frames() == 0 {
		return Scheduled{}, ErrEmptyChunk
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.nextStart
	if now := s.out.CurrentTime(); now > start {
		start = now
	}

	s.seq++
	id := s.seq
	src, err := s.out.Play(buf, start, func() { s.remove(id) })
	if err != nil {
		return Scheduled{}, err
	}

	dur := buf.Seconds()
	s.sources[id] = src
	s.nextStart = start + dur

	return Scheduled{ID: id, Start: start, Duration: dur}, nil
}

// Interrupt stops every pending source and rewinds the timeline so the next
// chunk plays immediately.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.stopAllLocked()
	s.nextStart = 0
	return n
}

// StopAll stops every pending source without touching the timeline.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAllLocked()
}

func (s *Scheduler) stopAllLocked() int {
	n := len(s.sources)
	for id, src := range s.sources {
		if err := src.Stop(); err != nil {
			var stopErr *PlaybackStopError
			if errors.As(err, &stopErr) || errors.Is(err, ErrSourceStopped) {
				s.log.Debug("source already ended", "source_id", id)
			} else {
				s.log.Debug("stop source failed", "source_id", id, "error", err)
			}
		}
	}
	s.sources = make(map[uint64]Source)
	return n
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	delete(s.sources, id)
	s.mu.Unlock()
}

func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}
