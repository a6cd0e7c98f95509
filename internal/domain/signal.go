package domain

// SDPPayload is the JSON structure for SDP offer/answer relay messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate relay messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// Relay payload kinds carried by the rendezvous server.
const (
	RelayOffer     = "OFFER"
	RelayAnswer    = "ANSWER"
	RelayCandidate = "CANDIDATE"
)
