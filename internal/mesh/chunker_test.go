package mesh

import (
	"bytes"
	"testing"
)

func TestChunkStill_SmallFrameSingleChunk(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	chunks := ChunkStill(frame)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0][0] != chunkFlagStart|chunkFlagEnd {
		t.Errorf("expected start+end flags, got %#x", chunks[0][0])
	}
	if !bytes.Equal(chunks[0][1:], frame) {
		t.Errorf("payload mismatch")
	}
}

func TestChunkStill_RoundTrip(t *testing.T) {
	frame := make([]byte, 3*chunkPayloadSize+17)
	for i := range frame {
		frame[i] = byte(i % 251)
	}

	chunks := ChunkStill(frame)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	var a StillAssembler
	var got []byte
	for i, c := range chunks {
		out := a.Push(c)
		if i < len(chunks)-1 && out != nil {
			t.Fatalf("chunk %d completed the frame early", i)
		}
		got = out
	}
	if !bytes.Equal(got, frame) {
		t.Error("reassembled frame differs from the original")
	}
}

func TestStillAssembler_StartResetsPartialFrame(t *testing.T) {
	var a StillAssembler

	// first frame loses its end chunk
	a.Push([]byte{chunkFlagStart, 0xAA, 0xBB})

	// a complete second frame arrives
	got := a.Push([]byte{chunkFlagStart | chunkFlagEnd, 0x01, 0x02})
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("expected the new frame only, got %v", got)
	}
}

func TestStillAssembler_OrphanMiddleChunkDropped(t *testing.T) {
	var a StillAssembler
	if got := a.Push([]byte{0x00, 0x01}); got != nil {
		t.Errorf("expected nil for an orphan middle chunk, got %v", got)
	}
	if got := a.Push([]byte{chunkFlagEnd, 0x02}); got != nil {
		t.Errorf("expected nil for an orphan end chunk, got %v", got)
	}
	if got := a.Push(nil); got != nil {
		t.Errorf("expected nil for an empty chunk, got %v", got)
	}
}

func TestChunkStill_EmptyFrame(t *testing.T) {
	if chunks := ChunkStill(nil); chunks != nil {
		t.Errorf("expected no chunks for an empty frame, got %d", len(chunks))
	}
}
