package mesh

// Still frames can exceed the media channel's message limit, so they travel
// as flagged chunks: a start bit opens a frame, an end bit completes it.
// The channel is unordered and lossy; a chunk from a newer frame simply
// restarts reassembly, so a dropped chunk costs one still, never a stall.

const (
	chunkFlagStart byte = 0x01
	chunkFlagEnd   byte = 0x02

	chunkPayloadSize = 15 * 1024
)

// ChunkStill splits one encoded still into media-channel chunks. A frame
// that fits in a single chunk carries both flags.
func ChunkStill(frame []byte) [][]byte {
	if len(frame) == 0 {
		return nil
	}

	var chunks [][]byte
	for offset := 0; offset < len(frame); offset += chunkPayloadSize {
		end := offset + chunkPayloadSize
		if end > len(frame) {
			end = len(frame)
		}

		var flags byte
		if offset == 0 {
			flags |= chunkFlagStart
		}
		if end == len(frame) {
			flags |= chunkFlagEnd
		}

		chunk := make([]byte, 1+end-offset)
		chunk[0] = flags
		copy(chunk[1:], frame[offset:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// StillAssembler reassembles chunked stills. It maintains per-sender state,
// preventing corruption when multiple peers stream at once.
type StillAssembler struct {
	buf     []byte
	started bool
}

// Push consumes one chunk and returns the completed frame, or nil while the
// frame is still partial. A start chunk discards any half-built frame.
func (a *StillAssembler) Push(chunk []byte) []byte {
	if len(chunk) < 1 {
		return nil
	}

	flags := chunk[0]
	payload := chunk[1:]

	if flags&chunkFlagStart != 0 {
		a.buf = append(a.buf[:0], payload...)
		a.started = true
	} else {
		if !a.started {
			// middle chunk of a frame whose start we never saw
			return nil
		}
		a.buf = append(a.buf, payload...)
	}

	if flags&chunkFlagEnd != 0 {
		frame := make([]byte, len(a.buf))
		copy(frame, a.buf)
		a.buf = a.buf[:0]
		a.started = false
		return frame
	}
	return nil
}
