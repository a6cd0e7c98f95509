package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"tablecast/internal/domain"
)

// fakeActions records every invocation as a formatted string.
type fakeActions struct {
	calls []string
	err   error
	stats domain.HeadToHead
}

func (f *fakeActions) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeActions) RegisterPlayers(names []string) error {
	return f.record("register %v", names)
}
func (f *fakeActions) SetFormat(format string) error { return f.record("format %s", format) }
func (f *fakeActions) SetCustomRules(rules string) error {
	return f.record("rules %s", rules)
}
func (f *fakeActions) SetPhase(phase string) error { return f.record("phase %s", phase) }
func (f *fakeActions) AdjustLife(player string, delta int) error {
	return f.record("life %s %d", player, delta)
}
func (f *fakeActions) AdjustCommanderDamage(victim, attacker string, delta int) error {
	return f.record("damage %s %s %d", victim, attacker, delta)
}
func (f *fakeActions) PlayCard(player, card string) error {
	return f.record("play %s %s", player, card)
}
func (f *fakeActions) RemoveCard(player, card string) error {
	return f.record("remove %s %s", player, card)
}
func (f *fakeActions) SetCardStatus(player, card, label, op string) error {
	return f.record("status %s %s %s %s", player, card, label, op)
}
func (f *fakeActions) PlayerStats(player, opponent string) (domain.HeadToHead, error) {
	f.record("stats %s %s", player, opponent)
	return f.stats, f.err
}
func (f *fakeActions) RecordWin(winner string) error { return f.record("win %s", winner) }

func dispatch(t *testing.T, r *Registry, name, args string) map[string]any {
	t.Helper()
	result := r.Dispatch(name, json.RawMessage(args))
	if result == nil {
		t.Fatalf("tool %s produced no result", name)
	}
	return result
}

func TestDispatch_RoutesEveryTool(t *testing.T) {
	actions := &fakeActions{stats: domain.HeadToHead{Player: "Alice", Opponent: "Bob", Wins: 3, Losses: 1}}
	r := NewRegistry(actions)

	cases := []struct {
		name string
		args string
		want string
	}{
		{"register_players", `{"players":["Alice","Bob"]}`, "register [Alice Bob]"},
		{"set_format", `{"format":"commander"}`, "format commander"},
		{"set_custom_rules", `{"rules":"no proxies"}`, "rules no proxies"},
		{"manage_board", `{"action":"play","player":"Alice","card":"Sol Ring"}`, "play Alice Sol Ring"},
		{"manage_board", `{"action":"remove","player":"Alice","card":"Sol Ring"}`, "remove Alice Sol Ring"},
		{"manage_board", `{"action":"add_status","player":"Alice","card":"Sol Ring","status":"Flying"}`, "status Alice Sol Ring Flying add"},
		{"manage_board", `{"action":"tap","player":"Alice","card":"Sol Ring"}`, "status Alice Sol Ring tap add"},
		{"manage_board", `{"action":"untap","player":"Alice","card":"Sol Ring"}`, "status Alice Sol Ring untap add"},
		{"manage_board", `{"action":"set_phase","phase":"combat"}`, "phase combat"},
		{"manage_board", `{"action":"adjust_life","player":"Bob","amount":-3}`, "life Bob -3"},
		{"manage_board", `{"action":"adjust_commander_damage","player":"Bob","attacker":"Alice","amount":5}`, "damage Bob Alice 5"},
		{"get_player_stats", `{"player":"Alice","opponent":"Bob"}`, "stats Alice Bob"},
		{"record_win", `{"winner":"Alice"}`, "win Alice"},
	}

	for i, tc := range cases {
		result := dispatch(t, r, tc.name, tc.args)
		if _, failed := result["error"]; failed {
			t.Errorf("case %d (%s): unexpected error result %v", i, tc.name, result)
			continue
		}
		if got := actions.calls[len(actions.calls)-1]; got != tc.want {
			t.Errorf("case %d (%s): action %q, want %q", i, tc.name, got, tc.want)
		}
	}
}

func TestDispatch_StatsResultShape(t *testing.T) {
	actions := &fakeActions{stats: domain.HeadToHead{Player: "Alice", Opponent: "Bob", Wins: 3, Losses: 1}}
	r := NewRegistry(actions)

	result := dispatch(t, r, "get_player_stats", `{"player":"Alice","opponent":"Bob"}`)
	if result["wins"] != 3 || result["losses"] != 1 {
		t.Errorf("unexpected stats result: %v", result)
	}
	if result["matchesTotal"] != 4 {
		t.Errorf("expected matchesTotal 4, got %v", result["matchesTotal"])
	}
}

func TestDispatch_UnknownToolAnswersWithError(t *testing.T) {
	r := NewRegistry(&fakeActions{})

	result := dispatch(t, r, "cast_fireball", `{}`)
	if _, ok := result["error"]; !ok {
		t.Errorf("expected an error result, got %v", result)
	}
}

func TestDispatch_MalformedArgsAnswersWithError(t *testing.T) {
	actions := &fakeActions{}
	r := NewRegistry(actions)

	result := dispatch(t, r, "register_players", `{"players":"not-a-list"}`)
	if _, ok := result["error"]; !ok {
		t.Errorf("expected an error result, got %v", result)
	}
	if len(actions.calls) != 0 {
		t.Errorf("malformed args reached the actions: %v", actions.calls)
	}
}

func TestDispatch_UnknownBoardActionAnswersWithError(t *testing.T) {
	r := NewRegistry(&fakeActions{})

	result := dispatch(t, r, "manage_board", `{"action":"summon","player":"Alice"}`)
	if _, ok := result["error"]; !ok {
		t.Errorf("expected an error result, got %v", result)
	}
}

func TestDispatch_ActionFailureBecomesErrorResult(t *testing.T) {
	actions := &fakeActions{err: errors.New("store unavailable")}
	r := NewRegistry(actions)

	result := dispatch(t, r, "set_format", `{"format":"commander"}`)
	if result["error"] != "store unavailable" {
		t.Errorf("expected the failure in the result, got %v", result)
	}
}
