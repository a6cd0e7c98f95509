// Package mesh maintains the local network identity and the set of live
// peer connections for a table. A hub claims the room identity and answers
// inbound connections; spokes dial the hub. Each participant carries one
// reliable "state" data channel for snapshot broadcasts, one unreliable
// "media" channel for still frames, and one PCMU audio track each way.
package mesh

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"tablecast/internal/domain"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Roles a mesh node can take.
const (
	RoleHub   = "hub"
	RoleSpoke = "spoke"
)

const (
	identityPrefix = "tbl-"
	claimTimeout   = 10 * time.Second
	dialTimeout    = 15 * time.Second
	claimAttempts  = 5
	audioFrameTime = 20 * time.Millisecond
)

// Participant connection lifecycle. Closed is terminal: reconnection creates
// a fresh entry, it never revives an old one.
type participantState int

const (
	stateConnecting participantState = iota
	stateOpen
	stateClosed
)

// HubIdentity derives the hub's network identity from a room code.
func HubIdentity(room string) string {
	return identityPrefix + room
}

// NewRoomCode generates a short numeric room code for humans to relay.
func NewRoomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64())
}

// Handler receives mesh events. Calls arrive from connection callbacks; the
// handler must not block.
type Handler interface {
	PeerJoined(id string)
	PeerLeft(id string)
	StateReceived(from string, msg domain.WireMessage)
	PeerAudio(id string, track domain.RTPAudioReader)
}

type participant struct {
	id    string
	pc    *pion.PeerConnection
	audio *pion.TrackLocalStaticSample

	mu        sync.Mutex
	state     participantState
	stateCh   *pion.DataChannel
	mediaCh   *pion.DataChannel
	assembler StillAssembler
	latest    image.Image

	remoteDescSet chan struct{}
	descOnce      sync.Once
	opened        chan struct{}
	openOnce      sync.Once
}

func (p *participant) markRemoteDescSet() {
	p.descOnce.Do(func() { close(p.remoteDescSet) })
}

func (p *participant) markOpen() {
	p.openOnce.Do(func() { close(p.opened) })
}

// ID implements domain.FrameSource.
func (p *participant) ID() string { return p.id }

// Remote implements domain.FrameSource.
func (p *participant) Remote() bool { return true }

// Latest implements domain.FrameSource: the most recent still received on
// the participant's media channel.
func (p *participant) Latest() (image.Image, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.latest != nil
}

// Mesh owns the local identity and the live participant set.
type Mesh struct {
	api     *pion.API
	ice     []pion.ICEServer
	handler Handler

	signaler domain.Signaler

	mu           sync.Mutex
	localID      string
	room         string
	role         string
	participants map[string]*participant
	claimCh      chan bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a mesh. Call SetSignaler before Start to complete the wiring.
func New(ice []domain.ICEServer, handler Handler) (*Mesh, error) {
	m := &pion.MediaEngine{}
	pcmu := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmu, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	var servers []pion.ICEServer
	for _, s := range ice {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return &Mesh{
		api:          pion.NewAPI(pion.WithMediaEngine(m), pion.WithInterceptorRegistry(i)),
		ice:          servers,
		handler:      handler,
		participants: make(map[string]*participant),
		closed:       make(chan struct{}),
	}, nil
}

// SetSignaler injects the rendezvous client after construction to resolve
// the circular dependency (Mesh needs Signaler, signal needs SignalHandler).
func (m *Mesh) SetSignaler(s domain.Signaler) {
	m.signaler = s
}

// Start claims a network identity. Hubs derive it from the room code and
// silently retry with a fresh code when the identity is taken; spokes claim
// a random guest identity. It returns the assigned identity.
func (m *Mesh) Start(role, room string) (string, error) {
	m.mu.Lock()
	m.role = role
	m.claimCh = make(chan bool, 1)
	m.mu.Unlock()

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		switch role {
		case RoleHub:
			if room == "" {
				room = NewRoomCode()
			}
			id = HubIdentity(room)
		case RoleSpoke:
			id = "guest-" + uuid.NewString()[:8]
		default:
			return "", fmt.Errorf("start mesh: unknown role %q", role)
		}

		m.signaler.Claim(id)
		select {
		case taken := <-m.claimCh:
			if !taken {
				m.mu.Lock()
				m.localID = id
				m.room = room
				m.mu.Unlock()
				log.Printf("[mesh] identity %s claimed (role %s)", id, role)
				return id, nil
			}
			// regenerate and retry rather than surfacing the collision
			room = ""
		case <-time.After(claimTimeout):
			return "", fmt.Errorf("claim %s: no response from rendezvous", id)
		case <-m.closed:
			return "", fmt.Errorf("claim %s: mesh closed", id)
		}
	}
	return "", fmt.Errorf("start mesh: %w", domain.ErrIdentityUnavailable)
}

// Room returns the room code this mesh started with.
func (m *Mesh) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// LocalID returns the claimed network identity.
func (m *Mesh) LocalID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID
}

// ConnectTo dials the named peer (spoke only): one connection carrying the
// state and media channels plus the local audio track. It fails with
// ErrPeerUnreachable when the peer does not answer within the dial timeout;
// the caller surfaces that as a "check the room id" message and does not
// retry automatically.
func (m *Mesh) ConnectTo(remoteID string) error {
	p, err := m.newParticipant(remoteID)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", remoteID, err)
	}

	stateCh, err := p.pc.CreateDataChannel("state", nil)
	if err != nil {
		m.closeParticipant(remoteID, false)
		return fmt.Errorf("create state channel: %w", err)
	}
	m.wireStateChannel(p, stateCh)

	unordered := false
	var zeroRetransmits uint16
	mediaCh, err := p.pc.CreateDataChannel("media", &pion.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &zeroRetransmits,
	})
	if err != nil {
		m.closeParticipant(remoteID, false)
		return fmt.Errorf("create media channel: %w", err)
	}
	m.wireMediaChannel(p, mediaCh)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		m.closeParticipant(remoteID, false)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		m.closeParticipant(remoteID, false)
		return fmt.Errorf("set local description: %w", err)
	}
	m.signaler.SendOffer(remoteID, domain.SDPPayload{Type: "offer", SDP: offer.SDP})

	select {
	case <-p.opened:
		return nil
	case <-time.After(dialTimeout):
		m.closeParticipant(remoteID, true)
		return fmt.Errorf("connect to %s: %w", remoteID, domain.ErrPeerUnreachable)
	case <-m.closed:
		return fmt.Errorf("connect to %s: mesh closed", remoteID)
	}
}

// newParticipant creates and registers a Connecting entry. A live entry with
// the same id is replaced, never duplicated.
func (m *Mesh) newParticipant(remoteID string) (*participant, error) {
	m.closeParticipant(remoteID, true)

	pc, err := m.api.NewPeerConnection(pion.Configuration{ICEServers: m.ice})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	audio, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypePCMU,
		ClockRate: 8000,
		Channels:  1,
	}, "audio", "tablecast")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(audio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	p := &participant{
		id:            remoteID,
		pc:            pc,
		audio:         audio,
		remoteDescSet: make(chan struct{}),
		opened:        make(chan struct{}),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		j := c.ToJSON()
		if isLoopback(j.Candidate) {
			return
		}
		sdpMid := ""
		if j.SDPMid != nil {
			sdpMid = *j.SDPMid
		}
		idx := 0
		if j.SDPMLineIndex != nil {
			idx = int(*j.SDPMLineIndex)
		}
		m.signaler.SendCandidate(remoteID, domain.ICECandidatePayload{
			SDPMid:        sdpMid,
			SDPMLineIndex: idx,
			Candidate:     j.Candidate,
		})
	})

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		log.Printf("[mesh] inbound %s track from %s (%s)", track.Kind(), remoteID, track.Codec().MimeType)
		if track.Kind() == pion.RTPCodecTypeAudio {
			m.handler.PeerAudio(remoteID, track)
		}
	})

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		log.Printf("[mesh] %s connection state: %s", remoteID, s)
		switch s {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			m.closeParticipant(remoteID, true)
		}
	})

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		switch dc.Label() {
		case "state":
			m.wireStateChannel(p, dc)
		case "media":
			m.wireMediaChannel(p, dc)
		default:
			log.Printf("[mesh] ignoring unknown channel %q from %s", dc.Label(), remoteID)
		}
	})

	m.mu.Lock()
	m.participants[remoteID] = p
	m.mu.Unlock()
	return p, nil
}

func (m *Mesh) wireStateChannel(p *participant, dc *pion.DataChannel) {
	p.mu.Lock()
	p.stateCh = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.mu.Lock()
		p.state = stateOpen
		p.mu.Unlock()
		p.markOpen()
		log.Printf("[mesh] state channel open: %s", p.id)
		m.handler.PeerJoined(p.id)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		var wire domain.WireMessage
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			log.Printf("[mesh] bad state message from %s: %v", p.id, err)
			return
		}
		m.handler.StateReceived(p.id, wire)
	})
	dc.OnClose(func() {
		m.closeParticipant(p.id, true)
	})
}

func (m *Mesh) wireMediaChannel(p *participant, dc *pion.DataChannel) {
	p.mu.Lock()
	p.mediaCh = dc
	p.mu.Unlock()

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		p.mu.Lock()
		frame := p.assembler.Push(msg.Data)
		p.mu.Unlock()
		if frame == nil {
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			log.Printf("[mesh] bad still from %s: %v", p.id, err)
			return
		}
		p.mu.Lock()
		p.latest = img
		p.mu.Unlock()
	})
}

// AcceptOffer answers an inbound connection: register the participant, apply
// the offer, and relay the answer back. Hubs call this for every inbound
// offer (calls are always answered automatically).
func (m *Mesh) acceptOffer(from string, sdp domain.SDPPayload) {
	p, err := m.newParticipant(from)
	if err != nil {
		log.Printf("[mesh] accept offer from %s: %v", from, err)
		return
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  sdp.SDP,
	}); err != nil {
		log.Printf("[mesh] set remote offer from %s: %v", from, err)
		m.closeParticipant(from, false)
		return
	}
	p.markRemoteDescSet()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("[mesh] create answer for %s: %v", from, err)
		m.closeParticipant(from, false)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		log.Printf("[mesh] set local answer for %s: %v", from, err)
		m.closeParticipant(from, false)
		return
	}
	m.signaler.SendAnswer(from, domain.SDPPayload{Type: "answer", SDP: answer.SDP})
}

// OnClaimResult implements domain.SignalHandler.
func (m *Mesh) OnClaimResult(id string, taken bool) {
	m.mu.Lock()
	ch := m.claimCh
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- taken:
	default:
	}
}

// OnRemoteOffer implements domain.SignalHandler.
func (m *Mesh) OnRemoteOffer(from string, sdp domain.SDPPayload) {
	m.mu.Lock()
	role := m.role
	m.mu.Unlock()
	if role != RoleHub {
		log.Printf("[mesh] ignoring offer from %s: not a hub", from)
		return
	}
	m.acceptOffer(from, sdp)
}

// OnRemoteAnswer implements domain.SignalHandler.
func (m *Mesh) OnRemoteAnswer(from string, sdp domain.SDPPayload) {
	p := m.get(from)
	if p == nil {
		log.Printf("[mesh] answer from unknown peer %s", from)
		return
	}
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}); err != nil {
		log.Printf("[mesh] set remote answer from %s: %v", from, err)
		return
	}
	p.markRemoteDescSet()
}

// OnRemoteCandidate implements domain.SignalHandler. Candidates wait for the
// remote description before being applied.
func (m *Mesh) OnRemoteCandidate(from string, candidate domain.ICECandidatePayload) {
	p := m.get(from)
	if p == nil {
		return
	}
	go func() {
		select {
		case <-p.remoteDescSet:
		case <-m.closed:
			return
		}
		idx := uint16(candidate.SDPMLineIndex)
		mid := candidate.SDPMid
		if err := p.pc.AddICECandidate(pion.ICECandidateInit{
			Candidate:     candidate.Candidate,
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}); err != nil {
			log.Printf("[mesh] add candidate from %s: %v", from, err)
		}
	}()
}

// OnPeerOut implements domain.SignalHandler.
func (m *Mesh) OnPeerOut(id string) {
	m.closeParticipant(id, true)
}

// Send delivers a message to one participant, best-effort: a channel that is
// not open (or that closed while the message was in flight) is skipped.
func (m *Mesh) Send(id string, msg domain.WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[mesh] marshal wire message: %v", err)
		return
	}
	if p := m.get(id); p != nil {
		sendOnOpen(p, data)
	}
}

// Broadcast delivers a message to every participant, best-effort.
func (m *Mesh) Broadcast(msg domain.WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[mesh] marshal wire message: %v", err)
		return
	}
	for _, p := range m.snapshotParticipants() {
		sendOnOpen(p, data)
	}
}

func sendOnOpen(p *participant, data []byte) {
	p.mu.Lock()
	dc := p.stateCh
	open := p.state == stateOpen
	p.mu.Unlock()
	if !open || dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		// a close that raced the send is advisory, never fatal
		log.Printf("[mesh] send to %s: %v", p.id, err)
	}
}

// PublishAudio feeds µ-law 8 kHz frames to every participant's outbound
// audio track until the channel closes or the mesh tears down.
func (m *Mesh) PublishAudio(frames <-chan []byte) {
	go func() {
		for {
			select {
			case <-m.closed:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				for _, p := range m.snapshotParticipants() {
					if err := p.audio.WriteSample(media.Sample{
						Data:     frame,
						Duration: audioFrameTime,
					}); err != nil {
						log.Printf("[mesh] audio to %s: %v", p.id, err)
					}
				}
			}
		}
	}()
}

// PublishStill chunks one encoded still onto every open media channel.
func (m *Mesh) PublishStill(frame []byte) {
	chunks := ChunkStill(frame)
	for _, p := range m.snapshotParticipants() {
		p.mu.Lock()
		dc := p.mediaCh
		p.mu.Unlock()
		if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
			continue
		}
		for _, chunk := range chunks {
			if err := dc.Send(chunk); err != nil {
				log.Printf("[mesh] still to %s: %v", p.id, err)
				break
			}
		}
	}
}

// Participants returns the ids of all non-closed participants.
func (m *Mesh) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.participants))
	for id := range m.participants {
		out = append(out, id)
	}
	return out
}

// StillSource returns the participant's inbound stills as a FrameSource for
// the compositor and local monitoring.
func (m *Mesh) StillSource(id string) (domain.FrameSource, bool) {
	p := m.get(id)
	if p == nil {
		return nil, false
	}
	return p, true
}

// Teardown closes every participant and stops the publishers. Idempotent;
// the identity itself is released when the signaler closes.
func (m *Mesh) Teardown() {
	m.closeOnce.Do(func() {
		close(m.closed)
		for _, id := range m.Participants() {
			m.closeParticipant(id, false)
		}
		log.Printf("[mesh] torn down")
	})
}

func (m *Mesh) get(id string) *participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[id]
}

func (m *Mesh) snapshotParticipants() []*participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	return out
}

// closeParticipant removes and releases one entry. One peer's failure never
// touches the others.
func (m *Mesh) closeParticipant(id string, notify bool) {
	m.mu.Lock()
	p, ok := m.participants[id]
	if ok {
		delete(m.participants, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	wasOpen := p.state == stateOpen
	p.state = stateClosed
	p.latest = nil
	p.mu.Unlock()

	p.pc.Close()
	log.Printf("[mesh] participant %s closed", id)
	if notify && wasOpen {
		m.handler.PeerLeft(id)
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
