package domain

import (
	"encoding/json"
	"image"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// ProfileStore is the external player/catalog database. All name arguments
// are matched case-insensitively.
type ProfileStore interface {
	FindOrCreatePlayer(name string) (PlayerProfile, error)
	LookupCardByName(name string) (CardData, error)
	SaveSessionConfig(format, rules string) error
	RecordMatchResult(winner string, losers []string, matchType string) error
	HeadToHeadStats(player, opponent string) (HeadToHead, error)
}

// Signaler manages the rendezvous WebSocket connection.
type Signaler interface {
	Connect() error
	Claim(desiredID string)
	SendOffer(to string, sdp SDPPayload)
	SendAnswer(to string, sdp SDPPayload)
	SendCandidate(to string, candidate ICECandidatePayload)
	Close()
}

// SignalHandler receives rendezvous events.
type SignalHandler interface {
	OnClaimResult(id string, taken bool)
	OnRemoteOffer(from string, sdp SDPPayload)
	OnRemoteAnswer(from string, sdp SDPPayload)
	OnRemoteCandidate(from string, candidate ICECandidatePayload)
	OnPeerOut(id string)
}

// RTPAudioReader yields RTP packets from an inbound peer audio track.
type RTPAudioReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// FrameSource supplies the most recent still from a camera or remote peer.
// Latest reports false until the source has produced its first frame.
type FrameSource interface {
	ID() string
	Remote() bool
	Latest() (image.Image, bool)
}

// AudioSink plays one PCM16 mono chunk starting at the given wall-clock
// time. The returned cancel discards the chunk if it has not started yet.
type AudioSink interface {
	PlayAt(pcm []int16, sampleRate int, at time.Time) (cancel func())
}

// AgentTransport is the outbound half of the live agent session.
type AgentTransport interface {
	SendAudio(pcm []byte) error
	SendImage(jpeg []byte) error
	SendToolResponse(callID, name string, result map[string]any) error
	Close()
}

// AgentHandler receives events from the live agent. Every OnToolCall must be
// answered with exactly one correlated tool response, even on failure.
type AgentHandler interface {
	OnReady()
	OnAudioChunk(pcm []byte)
	OnToolCall(id, name string, args json.RawMessage)
	OnInterrupted()
	OnClosed(err error)
}
