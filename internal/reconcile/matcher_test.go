package reconcile

import "testing"

func TestRegexMatcher(t *testing.T) {
	m := NewRegexMatcher()
	cases := []struct {
		line string
		want Delta
	}{
		{"You hit Goblin for 12 damage.", Delta{Target: "Goblin", Amount: 12, Kind: Damage}},
		{"The Goblin hits you for 3 damage!", Delta{Target: "you", Amount: 3, Kind: Damage, FirstPerson: true}},
		{"Orc Shaman strikes Bram for 1,200 points of damage", Delta{Target: "Bram", Amount: 1200, Kind: Damage}},
		{"Bram takes 9 damage.", Delta{Target: "Bram", Amount: 9, Kind: Damage}},
		{"You heal yourself for 20.", Delta{Target: "You", Amount: 20, Kind: Heal, FirstPerson: true}},
		{"The Troll heals itself for 40", Delta{Target: "Troll", Amount: 40, Kind: Heal}},
		{"Aria recovers 5 HP.", Delta{Target: "Aria", Amount: 5, Kind: Heal}},
	}
	for _, tc := range cases {
		got, ok := m.Match(tc.line)
		if !ok {
			t.Fatalf("%q: no match", tc.line)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.line, got, tc.want)
		}
	}
	for _, line := range []string{"Bram waves.", "You hit Goblin for lots of damage."} {
		if d, ok := m.Match(line); ok {
			t.Fatalf("%q: unexpected match %+v", line, d)
		}
	}
}

func TestDeltaSigned(t *testing.T) {
	if (Delta{Amount: 4, Kind: Damage}).Signed() != -4 {
		t.Fatalf("damage should be negative")
	}
	if (Delta{Amount: 4, Kind: Heal}).Signed() != 4 {
		t.Fatalf("heal should be positive")
	}
}
