// Package state holds the authoritative in-memory session state: roster,
// life totals, commander damage, boards, and turn phase. It is the only
// structure mutated from multiple call sites (manual UI and agent tool
// dispatch); every operation takes the store lock for its full duration and
// none holds it across I/O, so partial mutations are never observable.
package state

import (
	"fmt"
	"log"
	"sync"

	"tablecast/internal/domain"

	"github.com/google/uuid"
)

// DefaultLife is the starting life total for a newly registered player.
const DefaultLife = 40

type playerState struct {
	profile domain.PlayerProfile
	life    int
	board   []domain.BattlefieldCard
	// damage received, keyed by attacker display name
	damage map[string]int
	// status labels per card instance id; presentation is derived at
	// snapshot time
	statuses map[string][]string
}

// Store is the single source of truth for session state.
type Store struct {
	profiles domain.ProfileStore

	mu      sync.Mutex
	roster  []*playerState
	phase   string
	format  string
	rules   string
	version uint64
}

// New creates an empty store backed by the given profile store.
func New(profiles domain.ProfileStore) *Store {
	return &Store{profiles: profiles}
}

// RegisterPlayers resolves each name against the profile store
// (case-insensitive lookup-or-create) and returns the profiles in call
// order. Names already in the roster are returned as-is: re-registration
// never resets an existing player's life or board. New players start with
// the default life total and an empty board.
func (s *Store) RegisterPlayers(names []string) ([]domain.PlayerProfile, error) {
	resolved := make([]domain.PlayerProfile, 0, len(names))
	var fresh []*playerState

	s.mu.Lock()
	existing := make([]*playerState, len(s.roster))
	copy(existing, s.roster)
	s.mu.Unlock()

	// Profile lookups suspend on external I/O, so they happen outside the
	// lock; the roster is re-checked when the results are committed.
	for _, name := range names {
		if ps := findPlayer(existing, name); ps != nil {
			resolved = append(resolved, ps.profile)
			continue
		}
		profile, err := s.profiles.FindOrCreatePlayer(name)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		resolved = append(resolved, profile)
		fresh = append(fresh, &playerState{
			profile:  profile,
			life:     DefaultLife,
			damage:   make(map[string]int),
			statuses: make(map[string][]string),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range fresh {
		// A concurrent registration may have added the same name while
		// the lookup was in flight; the earlier entry wins.
		if findPlayer(s.roster, ps.profile.Name) != nil {
			continue
		}
		s.roster = append(s.roster, ps)
		log.Printf("[state] registered %s (life %d)", ps.profile.Name, ps.life)
	}
	s.version++
	return resolved, nil
}

// SetPhase records the current turn phase.
func (s *Store) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.version++
}

// SetFormat records the game format (e.g. "commander").
func (s *Store) SetFormat(format string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.version++
}

// SetCustomRules records the table's house rules text.
func (s *Store) SetCustomRules(rules string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	s.version++
}

// Format returns the current game format.
func (s *Store) Format() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Rules returns the current house rules text.
func (s *Store) Rules() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

// AdjustLife applies a delta to a player's life total. Life is unbounded in
// both directions.
func (s *Store) AdjustLife(player string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := findPlayer(s.roster, player)
	if ps == nil {
		return fmt.Errorf("adjust life for %q: %w", player, domain.ErrUnknownPlayer)
	}
	ps.life += delta
	s.version++
	return nil
}

// AdjustCommanderDamage applies a delta to the damage victim has received
// from attacker's commander, clamped at zero.
func (s *Store) AdjustCommanderDamage(victim, attacker string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := findPlayer(s.roster, victim)
	if ps == nil {
		return fmt.Errorf("commander damage for %q: %w", victim, domain.ErrUnknownPlayer)
	}
	key := attackerKey(s.roster, attacker)
	v := ps.damage[key] + delta
	if v < 0 {
		v = 0
	}
	ps.damage[key] = v
	s.version++
	return nil
}

// PlayCard resolves the named card against the catalog and puts a new
// instance of it onto the player's board.
func (s *Store) PlayCard(player, cardName string) (domain.BattlefieldCard, error) {
	s.mu.Lock()
	ps := findPlayer(s.roster, player)
	s.mu.Unlock()
	if ps == nil {
		return domain.BattlefieldCard{}, fmt.Errorf("play card for %q: %w", player, domain.ErrUnknownPlayer)
	}

	// Catalog lookup suspends; the target player is re-resolved afterwards
	// rather than trusting the reference across the await.
	card, err := s.profiles.LookupCardByName(cardName)
	if err != nil {
		return domain.BattlefieldCard{}, fmt.Errorf("play %q: %w", cardName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ps = findPlayer(s.roster, player)
	if ps == nil {
		return domain.BattlefieldCard{}, fmt.Errorf("play card for %q: %w", player, domain.ErrUnknownPlayer)
	}
	bc := domain.BattlefieldCard{
		InstanceID: uuid.NewString(),
		CardID:     card.ID,
		Name:       card.Name,
		Controller: ps.profile.Name,
	}
	ps.board = append(ps.board, bc)
	s.version++
	log.Printf("[state] %s played %s", ps.profile.Name, card.Name)
	return bc, nil
}

// RemoveCard removes the first board entry matching the given instance id or
// (case-insensitive) card name. Removing a card that is not there is a no-op.
func (s *Store) RemoveCard(player, match string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := findPlayer(s.roster, player)
	if ps == nil {
		return fmt.Errorf("remove card for %q: %w", player, domain.ErrUnknownPlayer)
	}
	for i, bc := range ps.board {
		if matchCard(bc, match) {
			delete(ps.statuses, bc.InstanceID)
			ps.board = append(ps.board[:i], ps.board[i+1:]...)
			s.version++
			return nil
		}
	}
	return nil
}

// SetCardStatus adds or removes a status on the first matching card. The
// "tap"/"tapped"/"untap"/"untapped" labels route to the tapped boolean on
// the card, not the status set.
func (s *Store) SetCardStatus(player, match, label string, add bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := findPlayer(s.roster, player)
	if ps == nil {
		return fmt.Errorf("card status for %q: %w", player, domain.ErrUnknownPlayer)
	}
	for i := range ps.board {
		bc := &ps.board[i]
		if !matchCard(*bc, match) {
			continue
		}
		if tapped, ok := tapSynonym(label); ok {
			if add {
				bc.Tapped = tapped
			} else {
				bc.Tapped = !tapped
			}
			s.version++
			return nil
		}
		labels := ps.statuses[bc.InstanceID]
		if add {
			// membership is keyed by label; re-adding is a no-op
			for _, l := range labels {
				if domain.EqualName(l, label) {
					return nil
				}
			}
			ps.statuses[bc.InstanceID] = append(labels, label)
		} else {
			kept := labels[:0]
			for _, l := range labels {
				if !domain.EqualName(l, label) {
					kept = append(kept, l)
				}
			}
			ps.statuses[bc.InstanceID] = kept
		}
		s.version++
		return nil
	}
	return nil
}

// Roster returns the registered profiles in registration order.
func (s *Store) Roster() []domain.PlayerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PlayerProfile, len(s.roster))
	for i, ps := range s.roster {
		out[i] = ps.profile
	}
	return out
}

// Version increments on every committed mutation. Broadcast coalescing
// compares versions rather than snapshots.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns an immutable deep copy of the current state, suitable for
// broadcast and display.
func (s *Store) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.SessionSnapshot{
		Players: make([]domain.PlayerProfile, 0, len(s.roster)),
		Boards:  make(map[string][]domain.BattlefieldCard, len(s.roster)),
		Life:    make(map[string]int, len(s.roster)),
		Damage:  make(map[string]map[string]domain.CommanderDamage, len(s.roster)),
		Phase:   s.phase,
		Format:  s.format,
		Rules:   s.rules,
	}
	for _, ps := range s.roster {
		name := ps.profile.Name
		snap.Players = append(snap.Players, ps.profile)
		snap.Life[name] = ps.life

		board := make([]domain.BattlefieldCard, len(ps.board))
		for i, bc := range ps.board {
			copied := bc
			if labels := ps.statuses[bc.InstanceID]; len(labels) > 0 {
				copied.Statuses = make([]domain.StatusEffect, len(labels))
				for j, l := range labels {
					copied.Statuses[j] = domain.PresentStatus(l)
				}
			}
			board[i] = copied
		}
		snap.Boards[name] = board

		row := make(map[string]domain.CommanderDamage, len(ps.damage))
		for attacker, amount := range ps.damage {
			row[attacker] = domain.CommanderDamage{
				Amount: amount,
				Lethal: amount >= domain.LethalCommanderDamage,
			}
		}
		snap.Damage[name] = row
	}
	return snap
}

// Apply replaces the local state with a snapshot received from a peer.
// Profiles arrive already resolved, so no store lookups happen here.
func (s *Store) Apply(snap domain.SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make([]*playerState, 0, len(snap.Players))
	for _, p := range snap.Players {
		ps := &playerState{
			profile:  p,
			life:     snap.Life[p.Name],
			damage:   make(map[string]int),
			statuses: make(map[string][]string),
		}
		for attacker, d := range snap.Damage[p.Name] {
			ps.damage[attacker] = d.Amount
		}
		for _, bc := range snap.Boards[p.Name] {
			labels := make([]string, len(bc.Statuses))
			for i, st := range bc.Statuses {
				labels[i] = st.Label
			}
			if len(labels) > 0 {
				ps.statuses[bc.InstanceID] = labels
			}
			bc.Statuses = nil
			ps.board = append(ps.board, bc)
		}
		roster = append(roster, ps)
	}
	s.roster = roster
	s.phase = snap.Phase
	s.format = snap.Format
	s.rules = snap.Rules
	s.version++
}

func findPlayer(roster []*playerState, name string) *playerState {
	for _, ps := range roster {
		if domain.EqualName(ps.profile.Name, name) {
			return ps
		}
	}
	return nil
}

// attackerKey canonicalizes an attacker name to the roster spelling when the
// attacker is a registered player, so "bob" and "Bob" land in the same cell.
func attackerKey(roster []*playerState, attacker string) string {
	if ps := findPlayer(roster, attacker); ps != nil {
		return ps.profile.Name
	}
	return attacker
}

func matchCard(bc domain.BattlefieldCard, match string) bool {
	return bc.InstanceID == match || domain.EqualName(bc.Name, match)
}

func tapSynonym(label string) (tapped, ok bool) {
	switch {
	case domain.EqualName(label, "tap"), domain.EqualName(label, "tapped"):
		return true, true
	case domain.EqualName(label, "untap"), domain.EqualName(label, "untapped"):
		return false, true
	}
	return false, false
}
