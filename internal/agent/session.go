package agent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"tablecast/internal/domain"
	"tablecast/internal/mixer"
)

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DialFunc opens the agent transport. Injectable for tests.
type DialFunc func(handler domain.AgentHandler) (domain.AgentTransport, error)

const defaultFrameInterval = time.Second

// Options configures a Session.
type Options struct {
	Key   string
	URL   string
	Model string

	Mixer      *mixer.AudioMixer
	Compositor *mixer.Compositor
	Actions    Actions
	Sink       domain.AudioSink

	// StopCapture releases local capture sources during teardown.
	StopCapture func()
	// FrameInterval overrides the composite frame cadence.
	FrameInterval time.Duration
	// Dial overrides the transport dialer.
	Dial DialFunc
}

// Session owns the live agent connection: it streams the mixed audio and the
// periodic composite frame out, schedules the agent's voice for gapless
// playback, and answers its tool calls. It implements domain.AgentHandler.
type Session struct {
	mixer       *mixer.AudioMixer
	compositor  *mixer.Compositor
	registry    *Registry
	scheduler   *Scheduler
	stopCapture func()

	frameInterval time.Duration
	dial          DialFunc

	mu        sync.Mutex
	state     State
	transport domain.AgentTransport
	stop      chan struct{}
	torn      bool
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	s := &Session{
		mixer:         opts.Mixer,
		compositor:    opts.Compositor,
		registry:      NewRegistry(opts.Actions),
		scheduler:     NewScheduler(opts.Sink),
		stopCapture:   opts.StopCapture,
		frameInterval: opts.FrameInterval,
		dial:          opts.Dial,
	}
	if s.frameInterval <= 0 {
		s.frameInterval = defaultFrameInterval
	}
	if s.dial == nil && opts.Key != "" {
		s.dial = func(handler domain.AgentHandler) (domain.AgentTransport, error) {
			return Dial(opts.URL, opts.Key, opts.Model, handler)
		}
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOutputMuted suppresses playback of the agent's voice without touching
// the session: frames and audio keep flowing, tool calls keep working.
func (s *Session) SetOutputMuted(muted bool) {
	s.scheduler.SetMuted(muted)
}

// OutputMuted reports the playback suppression flag.
func (s *Session) OutputMuted() bool {
	return s.scheduler.Muted()
}

// Connect opens the live session. It fails with ErrMissingCredential before
// acquiring any resource when no key is configured.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.dial == nil {
		s.mu.Unlock()
		return domain.ErrMissingCredential
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("agent connect from %s state", state)
	}
	s.state = StateOpening
	s.mu.Unlock()

	transport, err := s.dial(s)
	if err != nil {
		s.mu.Lock()
		s.state = StateErrored
		s.mu.Unlock()
		return fmt.Errorf("agent connect: %w", err)
	}

	s.mu.Lock()
	if s.torn {
		// Close raced the dial; release what we just acquired.
		s.mu.Unlock()
		transport.Close()
		return fmt.Errorf("agent connect: session closed")
	}
	s.transport = transport
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go s.audioLoop(stop)
	go s.frameLoop(stop)
	return nil
}

// Close tears the session down: frame timer, transport, capture, mixer taps,
// scheduled audio, in that order. Every step runs even if an earlier one has
// nothing to release. Idempotent and safe from any state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	if s.state != StateErrored {
		s.state = StateClosed
	}
	transport := s.transport
	stop := s.stop
	s.transport = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if transport != nil {
		transport.Close()
	}
	if s.stopCapture != nil {
		s.stopCapture()
	}
	if s.mixer != nil {
		s.mixer.DetachAll()
	}
	s.scheduler.CancelPending()
	log.Printf("[agent] session closed")
}

func (s *Session) audioLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-s.mixer.Output():
			if !ok {
				return
			}
			transport := s.currentTransport()
			if transport == nil {
				return
			}
			if err := transport.SendAudio(pcmBytes(frame)); err != nil {
				log.Printf("[agent] send audio: %v", err)
				return
			}
		}
	}
}

func (s *Session) frameLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, ok := s.compositor.Composite()
			if !ok {
				continue
			}
			transport := s.currentTransport()
			if transport == nil {
				return
			}
			if err := transport.SendImage(frame); err != nil {
				log.Printf("[agent] send frame: %v", err)
				return
			}
		}
	}
}

func (s *Session) currentTransport() domain.AgentTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// OnReady implements domain.AgentHandler.
func (s *Session) OnReady() {
	s.mu.Lock()
	if s.state == StateOpening {
		s.state = StateOpen
	}
	s.mu.Unlock()
}

// OnAudioChunk implements domain.AgentHandler.
func (s *Session) OnAudioChunk(pcm []byte) {
	s.scheduler.Schedule(pcmSamples(pcm))
}

// OnToolCall implements domain.AgentHandler. Every call is answered exactly
// once, with an error result when dispatch fails.
func (s *Session) OnToolCall(id, name string, args json.RawMessage) {
	go func() {
		result := s.registry.Dispatch(name, args)
		transport := s.currentTransport()
		if transport == nil {
			log.Printf("[agent] dropping tool response %s: session closed", id)
			return
		}
		if err := transport.SendToolResponse(id, name, result); err != nil {
			log.Printf("[agent] send tool response %s: %v", id, err)
		}
	}()
}

// OnInterrupted implements domain.AgentHandler.
func (s *Session) OnInterrupted() {
	log.Printf("[agent] interrupted, dropping pending audio")
	s.scheduler.CancelPending()
}

// OnClosed implements domain.AgentHandler.
func (s *Session) OnClosed(err error) {
	if err != nil {
		log.Printf("[agent] transport closed: %v", err)
		s.mu.Lock()
		if !s.torn {
			s.state = StateErrored
		}
		s.mu.Unlock()
	}
	s.Close()
}

// pcmBytes encodes PCM16 samples as little-endian bytes.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// pcmSamples decodes little-endian bytes as PCM16 samples.
func pcmSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}
