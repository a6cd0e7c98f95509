package mixer

import (
	"encoding/binary"
	"io"
	"log"
	"sync"
	"time"
)

// WriterSink plays scheduled PCM16 chunks by writing them little-endian to
// an io.Writer (e.g. stdout piped into aplay) at their scheduled start time.
// Writes are serialized so overlapping goroutines cannot interleave chunks.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink around the given writer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// PlayAt implements domain.AudioSink. The chunk is written when its start
// time arrives; the returned cancel discards it if it has not started yet.
func (s *WriterSink) PlayAt(pcm []int16, sampleRate int, at time.Time) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		if d := time.Until(at); d > 0 {
			select {
			case <-stop:
				return
			case <-time.After(d):
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		buf := make([]byte, len(pcm)*2)
		for i, sample := range pcm {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(sample))
		}
		s.mu.Lock()
		_, err := s.w.Write(buf)
		s.mu.Unlock()
		if err != nil {
			log.Printf("[mixer] playback write: %v", err)
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}
