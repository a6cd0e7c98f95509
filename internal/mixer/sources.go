package mixer

import (
	"encoding/binary"
	"image"
	_ "image/png" // cameras may answer snapshot requests with PNG
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// ReaderAudioSource turns a raw PCM16 little-endian stream (e.g. arecord on
// stdin) into mix-rate frames. The channel closes when the stream ends.
func ReaderAudioSource(r io.Reader) <-chan []int16 {
	out := make(chan []int16, tapQueueDepth)
	go func() {
		defer close(out)
		buf := make([]byte, FrameSamples*2)
		for {
			if _, err := io.ReadFull(r, buf); err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					log.Printf("[mixer] mic read: %v", err)
				}
				return
			}
			frame := make([]int16, FrameSamples)
			for i := range frame {
				frame[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
			}
			out <- frame
		}
	}()
	return out
}

// SnapshotSource polls a camera's snapshot URL and retains the latest
// decoded frame. It implements domain.FrameSource for local cameras.
type SnapshotSource struct {
	id  string
	url string

	mu     sync.Mutex
	latest image.Image

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSnapshotSource starts polling the given URL at the given interval.
func NewSnapshotSource(id, url string, interval time.Duration) *SnapshotSource {
	s := &SnapshotSource{
		id:     id,
		url:    url,
		closed: make(chan struct{}),
	}
	go s.poll(interval)
	return s
}

// ID implements domain.FrameSource.
func (s *SnapshotSource) ID() string { return s.id }

// Remote implements domain.FrameSource.
func (s *SnapshotSource) Remote() bool { return false }

// Latest implements domain.FrameSource.
func (s *SnapshotSource) Latest() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != nil
}

// Close stops polling. Idempotent.
func (s *SnapshotSource) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *SnapshotSource) poll(interval time.Duration) {
	client := &http.Client{Timeout: interval}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.fetch(client)
		}
	}
}

func (s *SnapshotSource) fetch(client *http.Client) {
	resp, err := client.Get(s.url)
	if err != nil {
		log.Printf("[mixer] camera %s: %v", s.id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[mixer] camera %s: http %d", s.id, resp.StatusCode)
		return
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		log.Printf("[mixer] camera %s decode: %v", s.id, err)
		return
	}
	s.mu.Lock()
	s.latest = img
	s.mu.Unlock()
}
