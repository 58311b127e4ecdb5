package sim

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"battlegate/pkg/protocol"
)

// autoResponder answers every actionable request on one side's private
// stream with the simplest legal choice.
func autoResponder(t *testing.T, battle *BattleStream, side protocol.Side, stream *bufio.Reader) {
	t.Helper()
	for {
		line, err := stream.ReadBytes('\n')
		if err != nil {
			return
		}
		trimmed := bytes.TrimRight(line, "\n")
		if !bytes.HasPrefix(trimmed, []byte("|request|")) {
			t.Errorf("Private stream for %s carried a non-request line: %s", side, trimmed)
			continue
		}
		var req Request
		if err := json.Unmarshal(trimmed[len("|request|"):], &req); err != nil {
			t.Errorf("Unparseable request on %s: %v", side, err)
			continue
		}
		if req.Wait {
			continue
		}
		choice := "default"
		if req.TeamPreview {
			choice = "team 1"
		}
		if len(req.ForceSwitch) > 0 && req.ForceSwitch[0] {
			choice = "switch 2"
		}
		if err := battle.WriteChoice(side, choice); err != nil {
			return
		}
	}
}

// runScriptedBattle plays a full seeded battle with auto-responders on both
// sides and returns the omniscient log.
func runScriptedBattle(t *testing.T, seed int64) []string {
	t.Helper()

	adapter := NewAdapter()
	battle, err := adapter.NewBattle("gen9ou", &seed)
	if err != nil {
		t.Fatalf("Failed to create battle: %v", err)
	}
	defer battle.Close()

	p1 := protocol.Team{
		{Species: "Pikachu", Moves: []string{"Thunderbolt", "Quick Attack"}, Level: 50},
		{Species: "Garchomp", Moves: []string{"Earthquake", "Dragon Claw"}, Level: 50},
	}
	p2 := protocol.Team{
		{Species: "Gyarados", Moves: []string{"Waterfall", "Crunch"}, Level: 50},
		{Species: "Snorlax", Moves: []string{"Body Slam", "Crunch"}, Level: 50},
	}

	if err := battle.Start(BattleSpec{
		FormatID: "gen9ou",
		Seed:     &seed,
		P1Name:   "Alice",
		P1Team:   p1,
		P2Name:   "Bob",
		P2Team:   p2,
	}); err != nil {
		t.Fatalf("Failed to start battle: %v", err)
	}

	go autoResponder(t, battle, protocol.SideP1, bufio.NewReader(battle.P1))
	go autoResponder(t, battle, protocol.SideP2, bufio.NewReader(battle.P2))

	type result struct {
		lines []string
	}
	done := make(chan result, 1)
	go func() {
		var lines []string
		reader := bufio.NewReader(battle.Omniscient)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				done <- result{lines}
				return
			}
			lines = append(lines, string(bytes.TrimRight(line, "\n")))
		}
	}()

	select {
	case res := <-done:
		return res.lines
	case <-time.After(10 * time.Second):
		t.Fatal("Battle did not finish within 10s")
		return nil
	}
}

// TestBattleRunsToCompletion tests a full battle from preview to a
// terminal line
func TestBattleRunsToCompletion(t *testing.T) {
	lines := runScriptedBattle(t, 1234)

	var sawPreview, sawStart, sawTurn, sawEnd bool
	for _, line := range lines {
		switch {
		case line == "|teampreview":
			sawPreview = true
		case line == "|start":
			sawStart = true
		case strings.HasPrefix(line, "|turn|"):
			sawTurn = true
		case strings.HasPrefix(line, "|win|") || line == "|tie|":
			sawEnd = true
		}
	}
	if !sawPreview {
		t.Error("Expected |teampreview in the log")
	}
	if !sawStart {
		t.Error("Expected |start in the log")
	}
	if !sawTurn {
		t.Error("Expected at least one |turn| line")
	}
	if !sawEnd {
		t.Errorf("Expected a terminal |win| or |tie| line, log tail: %v", tail(lines, 5))
	}

	// The terminal line is the last public line
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "|win|") && last != "|tie|" {
		t.Errorf("Expected log to end with the terminal line, got %q", last)
	}
}

// TestBattleDeterministicUnderSeed tests that identical seeds produce
// identical public logs
func TestBattleDeterministicUnderSeed(t *testing.T) {
	a := runScriptedBattle(t, 99)
	b := runScriptedBattle(t, 99)

	if len(a) != len(b) {
		t.Fatalf("Log lengths diverged: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Logs diverged at line %d: %q vs %q", i, a[i], b[i])
		}
	}
}

// TestPrivateStreamsCarryOnlyRequests is covered inside autoResponder,
// which fails the test on any non-request private line; this test also
// checks the public stream never leaks a request
func TestPublicStreamHasNoRequests(t *testing.T) {
	lines := runScriptedBattle(t, 7)
	for _, line := range lines {
		if strings.HasPrefix(line, "|request|") {
			t.Fatalf("Public stream leaked a request line: %q", line)
		}
	}
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
