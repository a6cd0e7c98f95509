package signal

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"tablecast/internal/domain"
)

type recordingHandler struct {
	claimID    string
	claimTaken bool
	claims     int

	offerFrom string
	offerSDP  domain.SDPPayload

	candidateFrom string
	candidate     domain.ICECandidatePayload

	peerOut string
}

func (h *recordingHandler) OnClaimResult(id string, taken bool) {
	h.claims++
	h.claimID, h.claimTaken = id, taken
}
func (h *recordingHandler) OnRemoteOffer(from string, sdp domain.SDPPayload) {
	h.offerFrom, h.offerSDP = from, sdp
}
func (h *recordingHandler) OnRemoteAnswer(from string, sdp domain.SDPPayload) {}
func (h *recordingHandler) OnRemoteCandidate(from string, c domain.ICECandidatePayload) {
	h.candidateFrom, h.candidate = from, c
}
func (h *recordingHandler) OnPeerOut(id string) { h.peerOut = id }

func encodePayload(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestDispatch_ClaimResult(t *testing.T) {
	h := &recordingHandler{}
	c := NewClient("ws://unused", h)

	code := 1
	c.dispatch(message{Method: "CLAIM_RESULT", ID: "tbl-1234", Code: &code, Message: "taken"})
	if !h.claimTaken || h.claimID != "tbl-1234" {
		t.Errorf("expected taken claim for tbl-1234, got %+v", h)
	}

	code = 0
	c.dispatch(message{Method: "CLAIM_RESULT", ID: "tbl-5678", Code: &code})
	if h.claimTaken || h.claimID != "tbl-5678" {
		t.Errorf("expected successful claim for tbl-5678, got %+v", h)
	}
}

func TestDispatch_RelayOffer(t *testing.T) {
	h := &recordingHandler{}
	c := NewClient("ws://unused", h)

	sdp := domain.SDPPayload{Type: "offer", SDP: "v=0\r\ntest"}
	c.dispatch(message{
		Method:  "RELAY",
		From:    "guest-1",
		Kind:    domain.RelayOffer,
		Payload: encodePayload(t, sdp),
	})

	if h.offerFrom != "guest-1" || h.offerSDP.SDP != sdp.SDP {
		t.Errorf("offer not dispatched: %+v", h)
	}
}

func TestDispatch_RelayCandidate(t *testing.T) {
	h := &recordingHandler{}
	c := NewClient("ws://unused", h)

	cand := domain.ICECandidatePayload{SDPMid: "0", SDPMLineIndex: 0, Candidate: "candidate:1"}
	c.dispatch(message{
		Method:  "RELAY",
		From:    "guest-2",
		Kind:    domain.RelayCandidate,
		Payload: encodePayload(t, cand),
	})

	if h.candidateFrom != "guest-2" || h.candidate.Candidate != "candidate:1" {
		t.Errorf("candidate not dispatched: %+v", h)
	}
}

func TestDispatch_MalformedPayloadIsDropped(t *testing.T) {
	h := &recordingHandler{}
	c := NewClient("ws://unused", h)

	c.dispatch(message{Method: "RELAY", From: "x", Kind: domain.RelayOffer, Payload: "%%%not-base64"})
	if h.offerFrom != "" {
		t.Error("malformed payload must not reach the handler")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := NewClient("ws://unused", &recordingHandler{})
	c.Close()
	c.Close() // second close must not panic or block
}
