package mixer

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/zaf/g711"
)

func TestMixFrames_Saturates(t *testing.T) {
	loud := make([]int16, FrameSamples)
	for i := range loud {
		loud[i] = 30000
	}
	quiet := make([]int16, FrameSamples)
	for i := range quiet {
		quiet[i] = -30000
	}

	mixed := mixFrames([][]int16{loud, loud})
	if mixed[0] != math.MaxInt16 {
		t.Errorf("expected positive saturation at %d, got %d", math.MaxInt16, mixed[0])
	}

	mixed = mixFrames([][]int16{quiet, quiet})
	if mixed[0] != math.MinInt16 {
		t.Errorf("expected negative saturation at %d, got %d", math.MinInt16, mixed[0])
	}

	mixed = mixFrames([][]int16{loud, quiet})
	if mixed[0] != 0 {
		t.Errorf("expected cancellation to 0, got %d", mixed[0])
	}
}

func TestRMSLevel(t *testing.T) {
	if got := rmsLevel(make([]int16, FrameSamples)); got != 0 {
		t.Errorf("expected 0 for silence, got %f", got)
	}

	square := make([]int16, FrameSamples)
	for i := range square {
		square[i] = math.MaxInt16
	}
	if got := rmsLevel(square); math.Abs(got-1) > 0.001 {
		t.Errorf("expected ~1 for a full-scale square, got %f", got)
	}

	if got := rmsLevel(nil); got != 0 {
		t.Errorf("expected 0 for an empty frame, got %f", got)
	}
}

func TestUpsample2x(t *testing.T) {
	in := []int16{0, 100, 200}
	out := Upsample2x(in)

	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	want := []int16{0, 50, 100, 150, 200, 200}
	for i, s := range want {
		if out[i] != s {
			t.Errorf("sample %d: expected %d, got %d", i, s, out[i])
		}
	}

	if Upsample2x(nil) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestUlawRoundTrip_PreservesShape(t *testing.T) {
	in := []int16{0, 1000, -1000, 8000, -8000, 30000, -30000}
	out := DecodeUlaw(EncodeUlaw(in))
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	for i := range in {
		// µ-law is lossy; the sign and rough magnitude must survive
		if in[i] == 0 {
			continue
		}
		if (in[i] > 0) != (out[i] > 0) {
			t.Errorf("sample %d changed sign: %d -> %d", i, in[i], out[i])
		}
		if math.Abs(float64(out[i]-in[i])) > math.Abs(float64(in[i]))*0.1+100 {
			t.Errorf("sample %d drifted too far: %d -> %d", i, in[i], out[i])
		}
	}
}

// fakeTrack yields a fixed number of PCMU packets, then reports EOF.
type fakeTrack struct {
	packets int
	sample  int16
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if f.packets == 0 {
		return nil, nil, io.EOF
	}
	f.packets--
	payload := make([]byte, PeerSampleRate/50) // one 20 ms PCMU frame
	b := g711.EncodeUlawFrame(f.sample)
	for i := range payload {
		payload[i] = b
	}
	return &rtp.Packet{Payload: payload}, nil, nil
}

func TestAudioMixer_PeerTapReachesOutput(t *testing.T) {
	mic := make(chan []int16)
	m := NewAudioMixer(mic)
	defer m.Close()

	m.AttachPeer("peer-1", &fakeTrack{packets: 50, sample: 12000})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-m.Output():
			for _, s := range frame {
				if s != 0 {
					if m.Level() <= 0 {
						t.Error("expected a positive level once audio flows")
					}
					return
				}
			}
		case <-deadline:
			t.Fatal("no peer audio reached the mix output")
		}
	}
}

// blockingTrack never produces a packet; it parks the tap goroutine the way
// a silent live track would.
type blockingTrack struct {
	release chan struct{}
}

func (b *blockingTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-b.release
	return nil, nil, io.EOF
}

func TestAudioMixer_AttachDetachTracksMembership(t *testing.T) {
	mic := make(chan []int16)
	m := NewAudioMixer(mic)
	defer m.Close()

	release := make(chan struct{})
	defer close(release)

	m.AttachPeer("a", &blockingTrack{release: release})
	m.AttachPeer("b", &blockingTrack{release: release})
	m.AttachPeer("a", &blockingTrack{release: release}) // replace, not duplicate

	if got := len(m.Attached()); got != 2 {
		t.Errorf("expected 2 taps, got %d", got)
	}

	m.DetachPeer("a")
	if got := m.Attached(); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected only b attached, got %v", got)
	}

	m.DetachAll()
	if got := len(m.Attached()); got != 0 {
		t.Errorf("expected no taps, got %d", got)
	}

	// detaching an unknown id is a no-op
	m.DetachPeer("ghost")
}

func TestAudioMixer_CloseIdempotent(t *testing.T) {
	m := NewAudioMixer(make(chan []int16))
	m.Close()
	m.Close() // must not panic
}

func TestDownsampleHalf(t *testing.T) {
	in := []int16{1, 2, 3, 4, 5, 6}
	out := DownsampleHalf(in)
	want := []int16{1, 3, 5}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}
