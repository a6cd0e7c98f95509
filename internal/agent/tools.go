package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"tablecast/internal/domain"
)

// Actions is the mutation surface tool calls execute against. The
// orchestrator implements it so agent-driven and UI-driven changes go
// through the same path.
type Actions interface {
	RegisterPlayers(names []string) error
	SetFormat(format string) error
	SetCustomRules(rules string) error
	SetPhase(phase string) error
	AdjustLife(player string, delta int) error
	AdjustCommanderDamage(victim, attacker string, delta int) error
	PlayCard(player, card string) error
	RemoveCard(player, card string) error
	SetCardStatus(player, card, label, op string) error
	PlayerStats(player, opponent string) (domain.HeadToHead, error)
	RecordWin(winner string) error
}

// Registry dispatches tool calls by name against a fixed set of tools.
// Dispatch always produces a result map, carrying an error description on
// failure, so every call can be answered.
type Registry struct {
	actions Actions
}

// NewRegistry creates a registry bound to the given actions.
func NewRegistry(actions Actions) *Registry {
	return &Registry{actions: actions}
}

type registerPlayersArgs struct {
	Players []string `json:"players"`
}

type setFormatArgs struct {
	Format string `json:"format"`
}

type setCustomRulesArgs struct {
	Rules string `json:"rules"`
}

type manageBoardArgs struct {
	Action   string `json:"action"`
	Player   string `json:"player"`
	Card     string `json:"card,omitempty"`
	Status   string `json:"status,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	Attacker string `json:"attacker,omitempty"`
}

type playerStatsArgs struct {
	Player   string `json:"player"`
	Opponent string `json:"opponent"`
}

type recordWinArgs struct {
	Winner string `json:"winner"`
}

// Dispatch executes one tool call and returns its result map. Unknown names
// and malformed arguments produce an error result, never a missing one.
func (r *Registry) Dispatch(name string, args json.RawMessage) map[string]any {
	log.Printf("[agent] tool call %s %s", name, string(args))

	result, err := r.run(name, args)
	if err != nil {
		log.Printf("[agent] tool %s failed: %v", name, err)
		return map[string]any{"error": err.Error()}
	}
	if result == nil {
		result = map[string]any{"ok": true}
	}
	return result
}

func (r *Registry) run(name string, args json.RawMessage) (map[string]any, error) {
	switch name {
	case "register_players":
		var a registerPlayersArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if len(a.Players) == 0 {
			return nil, fmt.Errorf("%w: register_players needs at least one name", domain.ErrToolDispatch)
		}
		return nil, r.actions.RegisterPlayers(a.Players)

	case "set_format":
		var a setFormatArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, r.actions.SetFormat(a.Format)

	case "set_custom_rules":
		var a setCustomRulesArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, r.actions.SetCustomRules(a.Rules)

	case "manage_board":
		var a manageBoardArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, r.manageBoard(a)

	case "get_player_stats":
		var a playerStatsArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		stats, err := r.actions.PlayerStats(a.Player, a.Opponent)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"player":       stats.Player,
			"opponent":     stats.Opponent,
			"wins":         stats.Wins,
			"losses":       stats.Losses,
			"matchesTotal": stats.Wins + stats.Losses,
		}, nil

	case "record_win":
		var a recordWinArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, r.actions.RecordWin(a.Winner)

	default:
		return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrToolDispatch, name)
	}
}

func (r *Registry) manageBoard(a manageBoardArgs) error {
	switch strings.ToLower(a.Action) {
	case "play":
		return r.actions.PlayCard(a.Player, a.Card)
	case "remove":
		return r.actions.RemoveCard(a.Player, a.Card)
	case "add_status":
		return r.actions.SetCardStatus(a.Player, a.Card, a.Status, "add")
	case "remove_status":
		return r.actions.SetCardStatus(a.Player, a.Card, a.Status, "remove")
	case "tap":
		return r.actions.SetCardStatus(a.Player, a.Card, "tap", "add")
	case "untap":
		return r.actions.SetCardStatus(a.Player, a.Card, "untap", "add")
	case "set_phase":
		return r.actions.SetPhase(a.Phase)
	case "adjust_life":
		return r.actions.AdjustLife(a.Player, a.Amount)
	case "adjust_commander_damage":
		return r.actions.AdjustCommanderDamage(a.Player, a.Attacker, a.Amount)
	default:
		return fmt.Errorf("%w: unknown board action %q", domain.ErrToolDispatch, a.Action)
	}
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: bad arguments: %v", domain.ErrToolDispatch, err)
	}
	return nil
}

// declarations describes the tool surface advertised at session setup.
func declarations() []functionDecl {
	return []functionDecl{
		{
			Name:        "register_players",
			Description: "Register the players at the table, in seating order. Players already registered keep their current life and board.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"players":{"type":"array","items":{"type":"string"},"description":"Display names in seating order"}
			},"required":["players"]}`),
		},
		{
			Name:        "set_format",
			Description: "Set the game format for this session, e.g. commander or standard.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"format":{"type":"string"}
			},"required":["format"]}`),
		},
		{
			Name:        "set_custom_rules",
			Description: "Record free-text house rules for this session.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"rules":{"type":"string"}
			},"required":["rules"]}`),
		},
		{
			Name:        "manage_board",
			Description: "Mutate the game state: play or remove a card, tap or untap it, add or remove a status, change the phase, or adjust life or commander damage.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"action":{"type":"string","enum":["play","remove","add_status","remove_status","tap","untap","set_phase","adjust_life","adjust_commander_damage"]},
				"player":{"type":"string","description":"The player the action applies to"},
				"card":{"type":"string","description":"Card name for board actions"},
				"status":{"type":"string","description":"Status label for add_status/remove_status"},
				"phase":{"type":"string","description":"Phase name for set_phase"},
				"amount":{"type":"integer","description":"Signed delta for adjust_life/adjust_commander_damage"},
				"attacker":{"type":"string","description":"Attacking commander's controller for adjust_commander_damage"}
			},"required":["action"]}`),
		},
		{
			Name:        "get_player_stats",
			Description: "Look up the head-to-head record between two players.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"player":{"type":"string"},
				"opponent":{"type":"string"}
			},"required":["player","opponent"]}`),
		},
		{
			Name:        "record_win",
			Description: "Record the end of the match with the given winner. Everyone else in the roster is recorded as a loser.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"winner":{"type":"string"}
			},"required":["winner"]}`),
		},
	}
}
