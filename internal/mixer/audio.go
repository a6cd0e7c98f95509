// Package mixer owns the local capture graph: it merges the microphone and
// every live peer's audio into the single mono stream the agent session
// consumes, and composites camera and peer stills into the single frame the
// agent sees. Graph membership is mutated only through Attach/Detach,
// driven by the mesh's live participant set.
package mixer

import (
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"tablecast/internal/domain"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the mix rate handed to the agent.
	SampleRate = 16000
	// PeerSampleRate is the rate of inbound PCMU peer audio.
	PeerSampleRate = 8000
	// FrameDuration is the mixing cadence.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is one frame at the mix rate.
	FrameSamples = SampleRate / 50

	tapQueueDepth = 8
	outQueueDepth = 16
)

type peerTap struct {
	id     string
	frames chan []int16
	stop   chan struct{}
}

// AudioMixer merges the microphone with zero or more peer taps into one
// outbound PCM16 stream, and exposes the local mic as µ-law frames for the
// mesh. The RMS of each mixed frame is published as a live level meter.
type AudioMixer struct {
	mu   sync.Mutex
	taps map[string]*peerTap

	micFrames chan []int16
	out       chan []int16
	ulawOut   chan []byte

	level atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewAudioMixer creates a mixer fed by the given microphone source. The mic
// is always connected; peer taps come and go with mesh membership.
func NewAudioMixer(mic <-chan []int16) *AudioMixer {
	m := &AudioMixer{
		taps:      make(map[string]*peerTap),
		micFrames: make(chan []int16, tapQueueDepth),
		out:       make(chan []int16, outQueueDepth),
		ulawOut:   make(chan []byte, outQueueDepth),
		closed:    make(chan struct{}),
	}
	go m.micLoop(mic)
	go m.mixLoop()
	return m
}

// Output yields mixed PCM16 frames at the mix rate.
func (m *AudioMixer) Output() <-chan []int16 { return m.out }

// OutboundUlaw yields the local microphone as µ-law 8 kHz frames for the
// peer tracks. Peers receive the raw mic, not the mix, so nobody hears
// their own audio back.
func (m *AudioMixer) OutboundUlaw() <-chan []byte { return m.ulawOut }

// Level returns the RMS of the most recent mixed frame, normalized to 0..1.
func (m *AudioMixer) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// AttachPeer taps an inbound peer audio track into the mix. Attaching an id
// that is already attached replaces the old tap.
func (m *AudioMixer) AttachPeer(id string, track domain.RTPAudioReader) {
	m.DetachPeer(id)

	tap := &peerTap{
		id:     id,
		frames: make(chan []int16, tapQueueDepth),
		stop:   make(chan struct{}),
	}
	m.mu.Lock()
	m.taps[id] = tap
	m.mu.Unlock()
	log.Printf("[mixer] attached peer %s", id)

	go m.tapLoop(tap, track)
}

// DetachPeer removes one peer's tap from the mix.
func (m *AudioMixer) DetachPeer(id string) {
	m.mu.Lock()
	tap, ok := m.taps[id]
	if ok {
		delete(m.taps, id)
	}
	m.mu.Unlock()
	if ok {
		close(tap.stop)
		log.Printf("[mixer] detached peer %s", id)
	}
}

// DetachAll removes every peer tap, leaving only the microphone.
func (m *AudioMixer) DetachAll() {
	m.mu.Lock()
	taps := m.taps
	m.taps = make(map[string]*peerTap)
	m.mu.Unlock()
	for _, tap := range taps {
		close(tap.stop)
	}
}

// Attached returns the ids of the currently attached peer taps.
func (m *AudioMixer) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.taps))
	for id := range m.taps {
		out = append(out, id)
	}
	return out
}

// Close stops the mix loop and detaches every tap. Idempotent.
func (m *AudioMixer) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.DetachAll()
	})
}

func (m *AudioMixer) micLoop(mic <-chan []int16) {
	for {
		select {
		case <-m.closed:
			return
		case frame, ok := <-mic:
			if !ok {
				return
			}
			select {
			case m.micFrames <- frame:
			default:
				// capture outran the mix; drop the oldest
				select {
				case <-m.micFrames:
				default:
				}
				m.micFrames <- frame
			}
			select {
			case m.ulawOut <- EncodeUlaw(DownsampleHalf(frame)):
			default:
			}
		}
	}
}

func (m *AudioMixer) mixLoop() {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			frames := m.collect()
			mixed := mixFrames(frames)
			m.level.Store(math.Float64bits(rmsLevel(mixed)))
			select {
			case m.out <- mixed:
			default:
			}
		}
	}
}

// collect drains at most one pending frame from the mic and each tap. A
// source with nothing buffered contributes silence for this tick.
func (m *AudioMixer) collect() [][]int16 {
	var frames [][]int16
	select {
	case f := <-m.micFrames:
		frames = append(frames, f)
	default:
	}

	m.mu.Lock()
	taps := make([]*peerTap, 0, len(m.taps))
	for _, t := range m.taps {
		taps = append(taps, t)
	}
	m.mu.Unlock()

	for _, t := range taps {
		select {
		case f := <-t.frames:
			frames = append(frames, f)
		default:
		}
	}
	return frames
}

// tapLoop decodes one peer's PCMU packets into mix-rate frames until the
// track ends or the tap is detached.
func (m *AudioMixer) tapLoop(tap *peerTap, track domain.RTPAudioReader) {
	var pending []int16
	for {
		select {
		case <-tap.stop:
			return
		case <-m.closed:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[mixer] peer %s track read: %v", tap.id, err)
			}
			m.DetachPeer(tap.id)
			return
		}

		pending = append(pending, Upsample2x(DecodeUlaw(pkt.Payload))...)
		for len(pending) >= FrameSamples {
			frame := make([]int16, FrameSamples)
			copy(frame, pending[:FrameSamples])
			pending = pending[FrameSamples:]
			select {
			case tap.frames <- frame:
			case <-tap.stop:
				return
			default:
				// queue full: the mix fell behind, drop the frame
			}
		}
	}
}

// mixFrames sums aligned PCM16 frames with saturation.
func mixFrames(frames [][]int16) []int16 {
	mixed := make([]int16, FrameSamples)
	for _, f := range frames {
		for i := 0; i < len(f) && i < FrameSamples; i++ {
			v := int32(mixed[i]) + int32(f[i])
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			mixed[i] = int16(v)
		}
	}
	return mixed
}

// rmsLevel is the root-mean-square of a frame, normalized to 0..1.
func rmsLevel(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(len(frame))) / math.MaxInt16
}

// DecodeUlaw expands µ-law bytes to PCM16 at the peer rate.
func DecodeUlaw(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

// EncodeUlaw compresses PCM16 at the peer rate to µ-law bytes.
func EncodeUlaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// Upsample2x doubles the sample rate by linear interpolation.
func Upsample2x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[2*i] = s
		if i+1 < len(in) {
			out[2*i+1] = int16((int32(s) + int32(in[i+1])) / 2)
		} else {
			out[2*i+1] = s
		}
	}
	return out
}

// DownsampleHalf halves the sample rate by dropping every other sample.
func DownsampleHalf(in []int16) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = in[2*i]
	}
	return out
}
