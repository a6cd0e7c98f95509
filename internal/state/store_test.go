package state

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"tablecast/internal/domain"
)

// fakeProfiles is an in-test profile store with case-insensitive
// lookup-or-create, mirroring the external store's contract.
type fakeProfiles struct {
	players map[string]domain.PlayerProfile
	cards   map[string]domain.CardData
	created int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		players: make(map[string]domain.PlayerProfile),
		cards: map[string]domain.CardData{
			"sol ring":       {ID: "c-solring", Name: "Sol Ring", TypeLine: "Artifact"},
			"llanowar elves": {ID: "c-elves", Name: "Llanowar Elves", TypeLine: "Creature"},
		},
	}
}

func (f *fakeProfiles) FindOrCreatePlayer(name string) (domain.PlayerProfile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := f.players[key]; ok {
		return p, nil
	}
	f.created++
	p := domain.PlayerProfile{ID: fmt.Sprintf("p-%d", f.created), Name: strings.TrimSpace(name)}
	f.players[key] = p
	return p, nil
}

func (f *fakeProfiles) LookupCardByName(name string) (domain.CardData, error) {
	if c, ok := f.cards[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return domain.CardData{}, domain.ErrCardNotFound
}

func (f *fakeProfiles) SaveSessionConfig(format, rules string) error { return nil }
func (f *fakeProfiles) RecordMatchResult(winner string, losers []string, matchType string) error {
	return nil
}
func (f *fakeProfiles) HeadToHeadStats(player, opponent string) (domain.HeadToHead, error) {
	return domain.HeadToHead{}, nil
}

func TestRegisterPlayers_CaseInsensitiveReuse(t *testing.T) {
	profiles := newFakeProfiles()
	s := New(profiles)

	first, err := s.RegisterPlayers([]string{"Alice", "bob"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(first))
	}

	snap := s.Snapshot()
	if snap.Life["Alice"] != DefaultLife || snap.Life["bob"] != DefaultLife {
		t.Errorf("expected default life %d for both players, got %v", DefaultLife, snap.Life)
	}

	// Damage Alice so we can verify re-registration preserves her state.
	if err := s.AdjustLife("Alice", -7); err != nil {
		t.Fatalf("adjust life: %v", err)
	}
	if _, err := s.PlayCard("Alice", "Sol Ring"); err != nil {
		t.Fatalf("play card: %v", err)
	}

	second, err := s.RegisterPlayers([]string{"ALICE", "Carol"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Errorf("expected ALICE to resolve to the existing profile %s, got %s", first[0].ID, second[0].ID)
	}
	if profiles.created != 3 {
		t.Errorf("expected 3 created profiles total, got %d", profiles.created)
	}

	snap = s.Snapshot()
	if len(snap.Players) != 3 {
		t.Fatalf("expected roster of 3, got %d", len(snap.Players))
	}
	if snap.Life["Alice"] != DefaultLife-7 {
		t.Errorf("re-registration reset Alice's life: got %d", snap.Life["Alice"])
	}
	if len(snap.Boards["Alice"]) != 1 {
		t.Errorf("re-registration reset Alice's board: got %v", snap.Boards["Alice"])
	}
	if snap.Life["Carol"] != DefaultLife {
		t.Errorf("expected Carol at default life, got %d", snap.Life["Carol"])
	}
}

func TestAdjustCommanderDamage_ClampAndLethal(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"P1", "P2"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.AdjustCommanderDamage("P1", "P2", 21); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	d := s.Snapshot().Damage["P1"]["P2"]
	if d.Amount != 21 || !d.Lethal {
		t.Errorf("expected lethal 21, got %+v", d)
	}

	if err := s.AdjustCommanderDamage("P1", "P2", -1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	d = s.Snapshot().Damage["P1"]["P2"]
	if d.Amount != 20 || d.Lethal {
		t.Errorf("expected non-lethal 20, got %+v", d)
	}

	// Never below zero, for any sequence of deltas.
	if err := s.AdjustCommanderDamage("P1", "P2", -100); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if d := s.Snapshot().Damage["P1"]["P2"]; d.Amount != 0 {
		t.Errorf("expected clamp at 0, got %d", d.Amount)
	}

	// Mixed-case attacker lands in the same cell.
	if err := s.AdjustCommanderDamage("P1", "p2", 5); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if d := s.Snapshot().Damage["P1"]["P2"]; d.Amount != 5 {
		t.Errorf("expected case-folded attacker cell at 5, got %v", s.Snapshot().Damage["P1"])
	}
}

func TestPlayCard_TapRoutesToBoolean(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"Alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := s.PlayCard("Alice", "sol ring"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := s.SetCardStatus("Alice", "Sol Ring", "tapped", true); err != nil {
		t.Fatalf("status: %v", err)
	}

	board := s.Snapshot().Boards["Alice"]
	if len(board) != 1 {
		t.Fatalf("expected 1 card, got %d", len(board))
	}
	if !board[0].Tapped {
		t.Error("expected the card to be tapped")
	}
	if len(board[0].Statuses) != 0 {
		t.Errorf("tapped must not appear as a status effect, got %v", board[0].Statuses)
	}

	if err := s.SetCardStatus("Alice", "Sol Ring", "untap", true); err != nil {
		t.Fatalf("untap: %v", err)
	}
	if s.Snapshot().Boards["Alice"][0].Tapped {
		t.Error("expected the card to be untapped")
	}
}

func TestSetCardStatus_LabelSetSemantics(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"Alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.PlayCard("Alice", "Llanowar Elves"); err != nil {
		t.Fatalf("play: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.SetCardStatus("Alice", "Llanowar Elves", "Flying", true); err != nil {
			t.Fatalf("add status: %v", err)
		}
	}
	statuses := s.Snapshot().Boards["Alice"][0].Statuses
	if len(statuses) != 1 || statuses[0].Label != "Flying" {
		t.Errorf("expected a single Flying status, got %v", statuses)
	}

	if err := s.SetCardStatus("Alice", "Llanowar Elves", "flying", false); err != nil {
		t.Fatalf("remove status: %v", err)
	}
	if got := s.Snapshot().Boards["Alice"][0].Statuses; len(got) != 0 {
		t.Errorf("expected no statuses after removal, got %v", got)
	}
}

func TestRemoveCard_FirstMatchOnly(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"Alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := s.PlayCard("Alice", "Sol Ring")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, err := s.PlayCard("Alice", "Sol Ring"); err != nil {
		t.Fatalf("play: %v", err)
	}

	if err := s.RemoveCard("Alice", "sol ring"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	board := s.Snapshot().Boards["Alice"]
	if len(board) != 1 {
		t.Fatalf("expected 1 card left, got %d", len(board))
	}
	if board[0].InstanceID == first.InstanceID {
		t.Error("expected the first matching copy to be removed")
	}

	// Removing something that is not there is a no-op.
	if err := s.RemoveCard("Alice", "Black Lotus"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestMutations_UnknownPlayer(t *testing.T) {
	s := New(newFakeProfiles())
	if err := s.AdjustLife("Nobody", 1); !errors.Is(err, domain.ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}
	if _, err := s.PlayCard("Nobody", "Sol Ring"); !errors.Is(err, domain.ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestPlayCard_UnknownCard(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"Alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.PlayCard("Alice", "Not A Card"); !errors.Is(err, domain.ErrCardNotFound) {
		t.Errorf("expected ErrCardNotFound, got %v", err)
	}
}

func TestSnapshot_DoesNotAliasInternalState(t *testing.T) {
	s := New(newFakeProfiles())
	if _, err := s.RegisterPlayers([]string{"Alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.PlayCard("Alice", "Sol Ring"); err != nil {
		t.Fatalf("play: %v", err)
	}

	snap := s.Snapshot()
	snap.Life["Alice"] = -99
	snap.Boards["Alice"][0].Tapped = true
	snap.Players[0].Name = "Mallory"

	fresh := s.Snapshot()
	if fresh.Life["Alice"] != DefaultLife {
		t.Error("mutating a snapshot leaked into the store's life map")
	}
	if fresh.Boards["Alice"][0].Tapped {
		t.Error("mutating a snapshot leaked into the store's board")
	}
	if fresh.Players[0].Name != "Alice" {
		t.Error("mutating a snapshot leaked into the roster")
	}
}

func TestApply_RoundTripsThroughSnapshot(t *testing.T) {
	src := New(newFakeProfiles())
	if _, err := src.RegisterPlayers([]string{"Alice", "Bob"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := src.PlayCard("Alice", "Sol Ring"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := src.SetCardStatus("Alice", "Sol Ring", "Flying", true); err != nil {
		t.Fatalf("status: %v", err)
	}
	src.SetPhase("combat")
	if err := src.AdjustCommanderDamage("Bob", "Alice", 12); err != nil {
		t.Fatalf("damage: %v", err)
	}

	dst := New(newFakeProfiles())
	dst.Apply(src.Snapshot())

	got, want := dst.Snapshot(), src.Snapshot()
	if got.Phase != want.Phase {
		t.Errorf("phase: got %q, want %q", got.Phase, want.Phase)
	}
	if got.Life["Alice"] != want.Life["Alice"] {
		t.Errorf("life: got %d, want %d", got.Life["Alice"], want.Life["Alice"])
	}
	if len(got.Boards["Alice"]) != 1 || got.Boards["Alice"][0].Statuses[0].Label != "Flying" {
		t.Errorf("board did not survive apply: %+v", got.Boards["Alice"])
	}
	if got.Damage["Bob"]["Alice"].Amount != 12 {
		t.Errorf("damage did not survive apply: %+v", got.Damage["Bob"])
	}
}
