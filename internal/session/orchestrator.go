// Package session composes the store, the mesh, the capture graph, and the
// agent into one table session. Every mutation, whether a UI intent or an
// agent tool call, goes through the orchestrator so the shared state stays
// consistent and every change is broadcast to the peers.
package session

import (
	"fmt"
	"log"
	"sync"

	"tablecast/internal/agent"
	"tablecast/internal/domain"
	"tablecast/internal/mesh"
	"tablecast/internal/mixer"
	"tablecast/internal/state"
)

// Net is the slice of the mesh the orchestrator drives. *mesh.Mesh satisfies
// it; tests substitute a fake.
type Net interface {
	Send(id string, msg domain.WireMessage)
	Broadcast(msg domain.WireMessage)
	StillSource(id string) (domain.FrameSource, bool)
}

// Agent is the slice of the agent session the orchestrator owns.
type Agent interface {
	Connect() error
	Close()
	SetOutputMuted(muted bool)
	OutputMuted() bool
}

// Orchestrator routes every event between the components. It implements
// mesh.Handler for network events and agent.Actions for tool calls.
type Orchestrator struct {
	store      *state.Store
	profiles   domain.ProfileStore
	mixer      *mixer.AudioMixer
	compositor *mixer.Compositor

	mu    sync.Mutex
	net   Net
	agent Agent
	role  string
}

var (
	_ mesh.Handler  = (*Orchestrator)(nil)
	_ agent.Actions = (*Orchestrator)(nil)
)

// New creates an orchestrator. The mesh and agent are injected afterwards
// with SetNet and SetAgent: both need the orchestrator as their handler, so
// they cannot exist before it.
func New(store *state.Store, profiles domain.ProfileStore, am *mixer.AudioMixer, comp *mixer.Compositor, role string) *Orchestrator {
	return &Orchestrator{
		store:      store,
		profiles:   profiles,
		mixer:      am,
		compositor: comp,
		role:       role,
	}
}

// SetNet injects the mesh once it has been constructed.
func (o *Orchestrator) SetNet(n Net) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.net = n
}

// SetAgent injects the agent session once it has been constructed.
func (o *Orchestrator) SetAgent(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agent = a
}

func (o *Orchestrator) currentNet() Net {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.net
}

func (o *Orchestrator) currentAgent() Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agent
}

// Snapshot returns the current shared state for display.
func (o *Orchestrator) Snapshot() domain.SessionSnapshot {
	return o.store.Snapshot()
}

// broadcast pushes the latest committed state to every peer. Rapid
// successive mutations may coalesce on the receiving side; only the latest
// snapshot matters.
func (o *Orchestrator) broadcast() {
	net := o.currentNet()
	if net == nil {
		return
	}
	snap := o.store.Snapshot()
	net.Broadcast(domain.WireMessage{Type: domain.WireStateType, State: &snap})
}

// PeerJoined implements mesh.Handler: register the peer's stills with the
// compositor and, when hosting, bring the newcomer up to date.
func (o *Orchestrator) PeerJoined(id string) {
	log.Printf("[session] peer joined: %s", id)
	net := o.currentNet()
	if net == nil {
		return
	}
	if src, ok := net.StillSource(id); ok {
		o.compositor.AddSource(src)
	}
	if o.role == mesh.RoleHub {
		snap := o.store.Snapshot()
		net.Send(id, domain.WireMessage{Type: domain.WireStateType, State: &snap})
	}
}

// PeerLeft implements mesh.Handler: the peer's audio tap and still source go
// away with it.
func (o *Orchestrator) PeerLeft(id string) {
	log.Printf("[session] peer left: %s", id)
	o.mixer.DetachPeer(id)
	o.compositor.RemoveSource(id)
}

// StateReceived implements mesh.Handler. Inbound snapshots replace the local
// state; a hub relays them on so every spoke converges.
func (o *Orchestrator) StateReceived(from string, msg domain.WireMessage) {
	if msg.Type != domain.WireStateType || msg.State == nil {
		log.Printf("[session] ignoring %q message from %s", msg.Type, from)
		return
	}
	o.store.Apply(*msg.State)
	if o.role == mesh.RoleHub {
		o.broadcast()
	}
}

// PeerAudio implements mesh.Handler: inbound peer audio joins the mix. This
// is the only place mixer taps are added, so the graph tracks the live
// participant set exactly.
func (o *Orchestrator) PeerAudio(id string, track domain.RTPAudioReader) {
	o.mixer.AttachPeer(id, track)
}

// RegisterPlayers implements agent.Actions.
func (o *Orchestrator) RegisterPlayers(names []string) error {
	if _, err := o.store.RegisterPlayers(names); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// SetFormat implements agent.Actions. The format is persisted alongside the
// current house rules.
func (o *Orchestrator) SetFormat(format string) error {
	o.store.SetFormat(format)
	o.broadcast()
	if err := o.profiles.SaveSessionConfig(format, o.store.Rules()); err != nil {
		return fmt.Errorf("save session config: %w", err)
	}
	return nil
}

// SetCustomRules implements agent.Actions.
func (o *Orchestrator) SetCustomRules(rules string) error {
	o.store.SetCustomRules(rules)
	o.broadcast()
	if err := o.profiles.SaveSessionConfig(o.store.Format(), rules); err != nil {
		return fmt.Errorf("save session config: %w", err)
	}
	return nil
}

// SetPhase implements agent.Actions.
func (o *Orchestrator) SetPhase(phase string) error {
	o.store.SetPhase(phase)
	o.broadcast()
	return nil
}

// AdjustLife implements agent.Actions.
func (o *Orchestrator) AdjustLife(player string, delta int) error {
	if err := o.store.AdjustLife(player, delta); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// AdjustCommanderDamage implements agent.Actions.
func (o *Orchestrator) AdjustCommanderDamage(victim, attacker string, delta int) error {
	if err := o.store.AdjustCommanderDamage(victim, attacker, delta); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// PlayCard implements agent.Actions.
func (o *Orchestrator) PlayCard(player, card string) error {
	if _, err := o.store.PlayCard(player, card); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// RemoveCard implements agent.Actions.
func (o *Orchestrator) RemoveCard(player, card string) error {
	if err := o.store.RemoveCard(player, card); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// SetCardStatus implements agent.Actions. The op is "add" or "remove";
// tap/untap labels route to the card's tapped flag inside the store.
func (o *Orchestrator) SetCardStatus(player, card, label, op string) error {
	if err := o.store.SetCardStatus(player, card, label, op != "remove"); err != nil {
		return err
	}
	o.broadcast()
	return nil
}

// PlayerStats implements agent.Actions.
func (o *Orchestrator) PlayerStats(player, opponent string) (domain.HeadToHead, error) {
	return o.profiles.HeadToHeadStats(player, opponent)
}

// RecordWin implements agent.Actions. Everyone in the roster except the
// winner is recorded as a loser; the match type is the session's format.
func (o *Orchestrator) RecordWin(winner string) error {
	var losers []string
	for _, p := range o.store.Roster() {
		if !domain.EqualName(p.Name, winner) {
			losers = append(losers, p.Name)
		}
	}
	if err := o.profiles.RecordMatchResult(winner, losers, o.store.Format()); err != nil {
		return fmt.Errorf("record win for %s: %w", winner, err)
	}
	return nil
}

// ConnectAgent opens the live agent session. ErrMissingCredential comes back
// when no key is configured; the caller reports it and does not retry.
func (o *Orchestrator) ConnectAgent() error {
	a := o.currentAgent()
	if a == nil {
		return domain.ErrMissingCredential
	}
	return a.Connect()
}

// DisconnectAgent closes the live agent session. Safe without one.
func (o *Orchestrator) DisconnectAgent() {
	if a := o.currentAgent(); a != nil {
		a.Close()
	}
}

// SetAgentMuted suppresses the agent's voice without closing the session.
func (o *Orchestrator) SetAgentMuted(muted bool) {
	if a := o.currentAgent(); a != nil {
		a.SetOutputMuted(muted)
	}
}
