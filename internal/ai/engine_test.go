package ai

import (
	"strings"
	"testing"

	"battlegate/internal/sim"
)

// moveRequest builds an actionable request for Pikachu with a healthy
// Garchomp on the bench.
func moveRequest(rqid int) *sim.Request {
	return &sim.Request{
		RQID: rqid,
		Active: []sim.ActiveSlot{{
			Moves: []sim.ActiveMove{
				{ID: "quickattack", Move: "Quick Attack", PP: 32, MaxPP: 32},
				{ID: "thunderbolt", Move: "Thunderbolt", PP: 32, MaxPP: 32},
			},
		}},
		Side: sim.RequestSide{
			Name: "Computer",
			ID:   "p2",
			Pokemon: []sim.RequestPokemon{
				{Ident: "p2: Pikachu", Details: "Pikachu, L50", Condition: "95/95", Active: true,
					Moves: []string{"quickattack", "thunderbolt"}},
				{Ident: "p2: Garchomp", Details: "Garchomp, L50", Condition: "183/183",
					Moves: []string{"earthquake", "dragonclaw"}},
			},
		},
	}
}

// TestDecideDeterministic tests that every tier is a pure function of its
// request
func TestDecideDeterministic(t *testing.T) {
	dex := sim.NewDex()
	foe := dex.LookupSpecies("Gyarados")

	for tier := 1; tier <= 4; tier++ {
		engine := New(tier, dex, Options{})
		first := engine.Decide(moveRequest(7), foe)
		for i := 0; i < 5; i++ {
			if got := engine.Decide(moveRequest(7), foe); got != first {
				t.Errorf("Tier %d diverged on identical requests: %q vs %q", tier, got, first)
			}
		}
		if !ValidChoice(first) {
			t.Errorf("Tier %d produced invalid choice %q", tier, first)
		}
	}
}

// TestTierClamping tests out-of-range tier handling
func TestTierClamping(t *testing.T) {
	dex := sim.NewDex()
	if got := New(0, dex, Options{}).Tier(); got != 1 {
		t.Errorf("Expected tier 0 to clamp to 1, got %d", got)
	}
	if got := New(9, dex, Options{}).Tier(); got != 5 {
		t.Errorf("Expected tier 9 to clamp to 5, got %d", got)
	}
}

// TestWaitPassthrough tests that wait requests never produce a command
func TestWaitPassthrough(t *testing.T) {
	engine := New(1, sim.NewDex(), Options{})
	if got := engine.Decide(&sim.Request{Wait: true}, nil); got != Wait {
		t.Errorf("Expected wait, got %q", got)
	}
	if got := engine.Decide(nil, nil); got != Wait {
		t.Errorf("Expected wait for nil request, got %q", got)
	}
}

// TestTeamPreviewChoice tests preview handling across tiers
func TestTeamPreviewChoice(t *testing.T) {
	dex := sim.NewDex()
	req := moveRequest(1)
	req.TeamPreview = true
	req.Active = nil

	for tier := 1; tier <= 4; tier++ {
		got := New(tier, dex, Options{}).Decide(req, dex.LookupSpecies("Gyarados"))
		if !strings.HasPrefix(got, "team ") {
			t.Errorf("Tier %d: expected a team choice on preview, got %q", tier, got)
		}
	}
}

// TestForceSwitchChoice tests that a forced switch picks a bench slot
func TestForceSwitchChoice(t *testing.T) {
	dex := sim.NewDex()
	req := moveRequest(2)
	req.Active = nil
	req.ForceSwitch = []bool{true}
	req.Side.Pokemon[0].Condition = "0 fnt"
	req.Side.Pokemon[0].Active = true

	for tier := 1; tier <= 4; tier++ {
		got := New(tier, dex, Options{}).Decide(req, nil)
		if got != "switch 2" {
			t.Errorf("Tier %d: expected switch 2, got %q", tier, got)
		}
	}
}

// TestTierTypeMatchPrefersSuperEffective tests the tier-2 move preference
func TestTierTypeMatchPrefersSuperEffective(t *testing.T) {
	dex := sim.NewDex()
	engine := New(2, dex, Options{})

	// Electric hits Water/Flying for 4x; Normal is neutral
	got := engine.Decide(moveRequest(3), dex.LookupSpecies("Gyarados"))
	if got != "move 2" {
		t.Errorf("Expected Thunderbolt (move 2) against Gyarados, got %q", got)
	}

	// Against a Ground type Electric is immune, Normal wins
	got = engine.Decide(moveRequest(4), dex.LookupSpecies("Excadrill"))
	if got != "move 1" {
		t.Errorf("Expected Quick Attack (move 1) against Excadrill, got %q", got)
	}
}

// TestTierWeightedSwitchesWhenLow tests the tier-3 defensive switch
func TestTierWeightedSwitchesWhenLow(t *testing.T) {
	dex := sim.NewDex()
	engine := New(3, dex, Options{})
	foe := dex.LookupSpecies("Gyarados")

	req := moveRequest(5)
	if got := engine.Decide(req, foe); !strings.HasPrefix(got, "move ") {
		t.Errorf("Healthy active should attack, got %q", got)
	}

	req.Side.Pokemon[0].Condition = "10/95"
	if got := engine.Decide(req, foe); got != "switch 2" {
		t.Errorf("Active below threshold should switch, got %q", got)
	}
}

// TestTierFiveDegradesWithoutLLM tests that tier 5 without an LLM client
// still produces legal choices
func TestTierFiveDegradesWithoutLLM(t *testing.T) {
	dex := sim.NewDex()
	engine := New(5, dex, Options{})

	got := engine.Decide(moveRequest(6), dex.LookupSpecies("Gyarados"))
	if !ValidChoice(got) {
		t.Errorf("Expected a valid fallback choice, got %q", got)
	}
}

// TestDecideDegradedRequests tests graceful handling of thin requests
func TestDecideDegradedRequests(t *testing.T) {
	dex := sim.NewDex()
	for tier := 1; tier <= 4; tier++ {
		engine := New(tier, dex, Options{})
		got := engine.Decide(&sim.Request{RQID: 1}, nil)
		if got != Default && !ValidChoice(got) {
			t.Errorf("Tier %d: expected default for empty request, got %q", tier, got)
		}
	}
}

// TestValidChoice tests the choice grammar gate
func TestValidChoice(t *testing.T) {
	valid := []string{"move 1", "move 4", "move 2 mega", "switch 6", "team 1", "default", " move 1 "}
	for _, c := range valid {
		if !ValidChoice(c) {
			t.Errorf("Expected %q to be valid", c)
		}
	}
	invalid := []string{"", "move 5", "move", "switch 7", "team 0", "forfeit", "move 1; rm -rf"}
	for _, c := range invalid {
		if ValidChoice(c) {
			t.Errorf("Expected %q to be invalid", c)
		}
	}
}
