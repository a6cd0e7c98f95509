package domain

import "strings"

// EqualName compares player and card names the way every lookup in the
// system does: case-insensitively, ignoring surrounding whitespace.
func EqualName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PlayerProfile is a stable identity sourced from the profile store.
// It is immutable for the duration of a session.
type PlayerProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CardData is the catalog record a battlefield card references.
type CardData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TypeLine string `json:"typeLine,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// StatusEffect is a free-text label on a battlefield card plus its derived
// presentation. Membership is keyed by label.
type StatusEffect struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

// BattlefieldCard is one physical token on a player's board. InstanceID is
// unique per token so two copies of the same catalog card coexist.
type BattlefieldCard struct {
	InstanceID string         `json:"instanceId"`
	CardID     string         `json:"cardId"`
	Name       string         `json:"name"`
	Controller string         `json:"controller"`
	Tapped     bool           `json:"tapped"`
	Statuses   []StatusEffect `json:"statuses,omitempty"`
}

// LethalCommanderDamage is the damage total at which the lethal flag trips.
const LethalCommanderDamage = 21

// CommanderDamage is one cell of the commander-damage matrix.
type CommanderDamage struct {
	Amount int  `json:"amount"`
	Lethal bool `json:"lethal"`
}

// HeadToHead is the match history between two players.
type HeadToHead struct {
	Player   string `json:"player"`
	Opponent string `json:"opponent"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// SessionSnapshot is the broadcast payload: the full shared state of the
// table, recomputed after every mutation and consumed read-only by peers.
type SessionSnapshot struct {
	Players []PlayerProfile                       `json:"players"`
	Boards  map[string][]BattlefieldCard          `json:"boards"`
	Phase   string                                `json:"phase"`
	Life    map[string]int                        `json:"life"`
	Damage  map[string]map[string]CommanderDamage `json:"commanderDamage"`
	Format  string                                `json:"format,omitempty"`
	Rules   string                                `json:"rules,omitempty"`
}

// WireStateType is the single message type carried on the state channel.
// Every broadcast is a full snapshot; no delta messages are defined.
const WireStateType = "state"

// WireMessage is the tagged envelope sent over a peer state channel.
type WireMessage struct {
	Type  string           `json:"type"`
	State *SessionSnapshot `json:"state,omitempty"`
}

var statusPresentation = map[string][2]string{
	"flying":            {"wings", "#8ecae6"},
	"first strike":      {"bolt", "#ffb703"},
	"deathtouch":        {"skull", "#6a994e"},
	"lifelink":          {"heart", "#e5989b"},
	"hexproof":          {"shield", "#a2d2ff"},
	"summoning sickness": {"spiral", "#adb5bd"},
	"+1/+1 counter":     {"plus", "#80ed99"},
	"-1/-1 counter":     {"minus", "#e76f51"},
}

// PresentStatus derives the icon/color presentation for a status label.
// Unknown labels get a neutral badge.
func PresentStatus(label string) StatusEffect {
	if p, ok := statusPresentation[foldKey(label)]; ok {
		return StatusEffect{Label: label, Icon: p[0], Color: p[1]}
	}
	return StatusEffect{Label: label, Icon: "badge", Color: "#ced4da"}
}
