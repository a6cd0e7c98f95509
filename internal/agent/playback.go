package agent

import (
	"sync"
	"time"

	"tablecast/internal/domain"
)

// PlaybackRate is the sample rate of the agent's streamed voice.
const PlaybackRate = 24000

// Scheduler assigns gapless playback windows to the agent's audio chunks.
// Chunks may arrive faster or slower than real time; a running next-start
// watermark guarantees that consecutive windows never overlap and never gap
// as long as arrival keeps up with playback.
type Scheduler struct {
	sink domain.AudioSink
	now  func() time.Time

	mu      sync.Mutex
	next    time.Time
	muted   bool
	seq     int
	pending map[int]func()
}

// NewScheduler creates a scheduler that plays through the given sink.
func NewScheduler(sink domain.AudioSink) *Scheduler {
	return &Scheduler{
		sink:    sink,
		now:     time.Now,
		pending: make(map[int]func()),
	}
}

// Schedule assigns the chunk its playback window and hands it to the sink.
// The returned start is max(now, watermark); the watermark advances by the
// chunk's duration either way. While muted the window math still runs but
// nothing reaches the sink.
func (s *Scheduler) Schedule(pcm []int16) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	if s.next.After(start) {
		start = s.next
	}
	duration := time.Duration(len(pcm)) * time.Second / PlaybackRate
	s.next = start.Add(duration)

	if s.muted || s.sink == nil {
		return start
	}

	id := s.seq
	s.seq++
	cancel := s.sink.PlayAt(pcm, PlaybackRate, start)
	s.pending[id] = func() {
		cancel()
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
	return start
}

// CancelPending discards every chunk that has not started playing and resets
// the watermark, so the next chunk starts immediately.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int]func())
	s.next = time.Time{}
	s.mu.Unlock()

	for _, cancel := range pending {
		cancel()
	}
}

// SetMuted toggles playback suppression. The session keeps running either
// way; only scheduling into the sink is affected.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Muted reports whether playback is currently suppressed.
func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}
