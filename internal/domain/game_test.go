package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestWireMessage_SnapshotRoundTrip(t *testing.T) {
	snap := &SessionSnapshot{
		Players: []PlayerProfile{{ID: "p1", Name: "Alice"}, {ID: "p2", Name: "Bob"}},
		Boards: map[string][]BattlefieldCard{
			"Alice": {{
				InstanceID: "i1",
				CardID:     "c1",
				Name:       "Sol Ring",
				Controller: "Alice",
				Tapped:     true,
				Statuses:   []StatusEffect{PresentStatus("Flying")},
			}},
			"Bob": {},
		},
		Phase: "combat",
		Life:  map[string]int{"Alice": 34, "Bob": 40},
		Damage: map[string]map[string]CommanderDamage{
			"Alice": {"Bob": {Amount: 21, Lethal: true}},
			"Bob":   {"Alice": {Amount: 3}},
		},
		Format: "commander",
	}

	data, err := json.Marshal(WireMessage{Type: WireStateType, State: snap})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got WireMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Type != WireStateType {
		t.Errorf("expected type %q, got %q", WireStateType, got.Type)
	}
	if !reflect.DeepEqual(got.State, snap) {
		t.Errorf("snapshot did not survive the round trip:\nsent %+v\ngot  %+v", snap, got.State)
	}
}

func TestEqualName(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"Alice", "ALICE", true},
		{" alice ", "Alice", true},
		{"Alice", "Alicia", false},
		{"", "", true},
	}
	for _, c := range cases {
		if got := EqualName(c.a, c.b); got != c.want {
			t.Errorf("EqualName(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestPresentStatus(t *testing.T) {
	if s := PresentStatus("Flying"); s.Icon != "wings" {
		t.Errorf("expected wings icon for Flying, got %q", s.Icon)
	}
	// Unknown labels keep their text and get the neutral badge.
	s := PresentStatus("Monarch")
	if s.Label != "Monarch" || s.Icon != "badge" {
		t.Errorf("unexpected presentation for unknown label: %+v", s)
	}
}
