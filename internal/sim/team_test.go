package sim

import (
	"errors"
	"math/rand"
	"testing"

	"battlegate/pkg/protocol"
)

func validTeam() protocol.Team {
	return protocol.Team{
		{Species: "Pikachu", Item: "Light Ball", Moves: []string{"Thunderbolt", "Quick Attack"}, Level: 50},
		{Species: "Charizard", Moves: []string{"Flamethrower", "Air Slash"}},
	}
}

// TestValidateTeam tests team validation rules
func TestValidateTeam(t *testing.T) {
	d := NewDex()

	if err := d.ValidateTeam(validTeam()); err != nil {
		t.Fatalf("Expected valid team to pass, got %v", err)
	}

	cases := []struct {
		name string
		team protocol.Team
	}{
		{"empty team", protocol.Team{}},
		{"unknown species", protocol.Team{{Species: "Missingno", Moves: []string{"Thunderbolt"}}}},
		{"no moves", protocol.Team{{Species: "Pikachu"}}},
		{"unknown move", protocol.Team{{Species: "Pikachu", Moves: []string{"Splash Dance"}}}},
		{"duplicate species", protocol.Team{
			{Species: "Pikachu", Moves: []string{"Thunderbolt"}},
			{Species: "pikachu", Moves: []string{"Quick Attack"}},
		}},
		{"level out of range", protocol.Team{{Species: "Pikachu", Moves: []string{"Thunderbolt"}, Level: 101}}},
		{"too many moves", protocol.Team{{Species: "Pikachu", Moves: []string{
			"Thunderbolt", "Quick Attack", "Iron Tail", "Volt Tackle", "Volt Switch"}}}},
	}
	for _, c := range cases {
		err := d.ValidateTeam(c.team)
		if err == nil {
			t.Errorf("%s: expected validation error", c.name)
			continue
		}
		if !errors.Is(err, ErrInvalidTeam) {
			t.Errorf("%s: expected ErrInvalidTeam, got %v", c.name, err)
		}
	}
}

// TestPackUnpackTeam tests the packed wire format round trip
func TestPackUnpackTeam(t *testing.T) {
	packed := PackTeam(validTeam())

	team, err := UnpackTeam(packed)
	if err != nil {
		t.Fatalf("Failed to unpack: %v", err)
	}
	if len(team) != 2 {
		t.Fatalf("Expected 2 slots, got %d", len(team))
	}
	if team[0].Species != "pikachu" {
		t.Errorf("Expected species pikachu, got %s", team[0].Species)
	}
	if team[0].Item != "lightball" {
		t.Errorf("Expected item lightball, got %s", team[0].Item)
	}
	if team[0].Level != 50 {
		t.Errorf("Expected level 50, got %d", team[0].Level)
	}
	if len(team[0].Moves) != 2 || team[0].Moves[0] != "thunderbolt" {
		t.Errorf("Unexpected moves: %v", team[0].Moves)
	}
	// Absent level packs as 100
	if team[1].Level != 100 {
		t.Errorf("Expected default level 100, got %d", team[1].Level)
	}

	if _, err := UnpackTeam(""); err == nil {
		t.Error("Expected error for empty packed team")
	}
	if _, err := UnpackTeam("pikachu|||thunderbolt"); err == nil {
		t.Error("Expected error for malformed slot")
	}
}

// TestGenerateTeam tests that generated teams are always legal
func TestGenerateTeam(t *testing.T) {
	d := NewDex()
	rng := rand.New(rand.NewSource(42))

	for _, n := range []int{1, 3, 6} {
		team := d.GenerateTeam(n, rng)
		if len(team) != n {
			t.Fatalf("Expected %d slots, got %d", n, len(team))
		}
		if err := d.ValidateTeam(team); err != nil {
			t.Errorf("Generated team of %d failed validation: %v", n, err)
		}
	}

	// Same seed, same team
	a := d.GenerateTeam(6, rand.New(rand.NewSource(7)))
	b := d.GenerateTeam(6, rand.New(rand.NewSource(7)))
	for i := range a {
		if a[i].Species != b[i].Species {
			t.Errorf("Seeded generation diverged at slot %d: %s vs %s", i, a[i].Species, b[i].Species)
		}
	}
}
