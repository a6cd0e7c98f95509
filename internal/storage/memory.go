// Package storage provides the in-process implementation of the profile and
// catalog store port. The production deployment points the same port at the
// shared table service; this keeps a standalone table fully functional.
package storage

import (
	"fmt"
	"strings"
	"sync"

	"tablecast/internal/domain"

	"github.com/google/uuid"
)

type matchRecord struct {
	winner    string
	losers    []string
	matchType string
}

// Memory implements domain.ProfileStore with in-process maps.
type Memory struct {
	mu      sync.Mutex
	players map[string]domain.PlayerProfile
	cards   map[string]domain.CardData
	format  string
	rules   string
	matches []matchRecord
}

// NewMemory creates an empty store seeded with the given catalog cards.
func NewMemory(catalog []domain.CardData) *Memory {
	m := &Memory{
		players: make(map[string]domain.PlayerProfile),
		cards:   make(map[string]domain.CardData, len(catalog)),
	}
	for _, c := range catalog {
		m.cards[fold(c.Name)] = c
	}
	return m
}

// FindOrCreatePlayer returns the existing profile for the name, matched
// case-insensitively, or creates one.
func (m *Memory) FindOrCreatePlayer(name string) (domain.PlayerProfile, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.PlayerProfile{}, fmt.Errorf("find or create player: empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[fold(trimmed)]; ok {
		return p, nil
	}
	p := domain.PlayerProfile{ID: uuid.NewString(), Name: trimmed}
	m.players[fold(trimmed)] = p
	return p, nil
}

// LookupCardByName resolves a catalog card case-insensitively.
func (m *Memory) LookupCardByName(name string) (domain.CardData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cards[fold(name)]; ok {
		return c, nil
	}
	return domain.CardData{}, fmt.Errorf("lookup %q: %w", name, domain.ErrCardNotFound)
}

// SaveSessionConfig persists the table's format and house rules.
func (m *Memory) SaveSessionConfig(format, rules string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = format
	m.rules = rules
	return nil
}

// SessionConfig returns the last saved format and rules.
func (m *Memory) SessionConfig() (format, rules string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format, m.rules
}

// RecordMatchResult appends one finished match to the history.
func (m *Memory) RecordMatchResult(winner string, losers []string, matchType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := matchRecord{winner: strings.TrimSpace(winner), matchType: matchType}
	for _, l := range losers {
		rec.losers = append(rec.losers, strings.TrimSpace(l))
	}
	m.matches = append(m.matches, rec)
	return nil
}

// HeadToHeadStats tallies matches where both players took part.
func (m *Memory) HeadToHeadStats(player, opponent string) (domain.HeadToHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := domain.HeadToHead{Player: strings.TrimSpace(player), Opponent: strings.TrimSpace(opponent)}
	seen := false
	for _, rec := range m.matches {
		if !involves(rec, player) || !involves(rec, opponent) {
			continue
		}
		seen = true
		switch {
		case domain.EqualName(rec.winner, player):
			stats.Wins++
		case domain.EqualName(rec.winner, opponent):
			stats.Losses++
		}
	}
	if !seen {
		return stats, fmt.Errorf("head to head %s vs %s: no shared matches", player, opponent)
	}
	return stats, nil
}

func involves(rec matchRecord, name string) bool {
	if domain.EqualName(rec.winner, name) {
		return true
	}
	for _, l := range rec.losers {
		if domain.EqualName(l, name) {
			return true
		}
	}
	return false
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultCatalog is the small built-in catalog used when no card database is
// attached. Enough to run a table without the bulk import job.
func DefaultCatalog() []domain.CardData {
	return []domain.CardData{
		{ID: "c-sol-ring", Name: "Sol Ring", TypeLine: "Artifact"},
		{ID: "c-arcane-signet", Name: "Arcane Signet", TypeLine: "Artifact"},
		{ID: "c-command-tower", Name: "Command Tower", TypeLine: "Land"},
		{ID: "c-llanowar-elves", Name: "Llanowar Elves", TypeLine: "Creature — Elf Druid"},
		{ID: "c-counterspell", Name: "Counterspell", TypeLine: "Instant"},
		{ID: "c-swords", Name: "Swords to Plowshares", TypeLine: "Instant"},
		{ID: "c-rampant-growth", Name: "Rampant Growth", TypeLine: "Sorcery"},
		{ID: "c-dragon", Name: "Shivan Dragon", TypeLine: "Creature — Dragon"},
	}
}
