package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"battlegate/internal/ai"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

var (
	formatID   = flag.String("format", "gen9ou", "battle format")
	p1Tier     = flag.Int("p1-tier", 2, "difficulty tier for p1 (1-5)")
	p2Tier     = flag.Int("p2-tier", 4, "difficulty tier for p2 (1-5)")
	iterations = flag.Int("iterations", 1, "number of matches to run")
	teamSize   = flag.Int("team-size", 3, "pokemon per side (1-6)")
	seed       = flag.Int64("seed", 0, "simulator seed (0 for random)")
	logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	showLog    = flag.Bool("show-log", false, "print the battle log of each match")
	showCaller = flag.Bool("show-caller", false, "show caller information in logs")
	maxTime    = flag.Duration("max-match-time", time.Minute, "maximum time per match")
)

type matchResult struct {
	Winner   string
	Turns    int
	Duration time.Duration
	Err      error
}

type tierStats struct {
	Wins  int
	Ties  int
	Turns int
}

func main() {
	flag.Parse()

	logger.InitLoggers(logger.ParseLevel(*logLevel), *showCaller)
	simLogger := logger.SimLogger

	adapter := sim.NewAdapter()
	dex := adapter.Dex()

	p1Engine := ai.New(*p1Tier, dex, ai.Options{})
	p2Engine := ai.New(*p2Tier, dex, ai.Options{})

	stats := map[string]*tierStats{
		"p1": {},
		"p2": {},
	}
	var ties, failed int
	var totalDuration time.Duration

	simLogger.Info("Running %d matches: p1=tier%d vs p2=tier%d (%s)",
		*iterations, *p1Tier, *p2Tier, *formatID)

	for i := 0; i < *iterations; i++ {
		var matchSeed *int64
		if *seed != 0 {
			s := *seed + int64(i)
			matchSeed = &s
		}

		res := runMatch(adapter, p1Engine, p2Engine, matchSeed)
		if res.Err != nil {
			simLogger.Error("Match %d failed: %v", i+1, res.Err)
			failed++
			continue
		}

		totalDuration += res.Duration
		switch res.Winner {
		case "Tier-" + fmt.Sprint(*p1Tier) + " P1":
			stats["p1"].Wins++
		case "Tier-" + fmt.Sprint(*p2Tier) + " P2":
			stats["p2"].Wins++
		default:
			ties++
		}
		stats["p1"].Turns += res.Turns
		stats["p2"].Turns += res.Turns

		simLogger.Info("Match %d: winner=%q turns=%d duration=%v",
			i+1, res.Winner, res.Turns, res.Duration)
	}

	completed := *iterations - failed
	fmt.Println()
	fmt.Println("=== Simulation Report ===")
	fmt.Printf("Matches:   %d completed, %d failed\n", completed, failed)
	if completed > 0 {
		fmt.Printf("P1 tier %d: %d wins\n", *p1Tier, stats["p1"].Wins)
		fmt.Printf("P2 tier %d: %d wins\n", *p2Tier, stats["p2"].Wins)
		fmt.Printf("Ties:      %d\n", ties)
		fmt.Printf("Avg turns: %d\n", stats["p1"].Turns/completed)
		fmt.Printf("Avg time:  %v\n", totalDuration/time.Duration(completed))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// runMatch drives one complete battle with an engine on each side and no
// network anywhere.
func runMatch(adapter *sim.Adapter, p1, p2 *ai.Engine, seed *int64) matchResult {
	start := time.Now()

	battle, err := adapter.NewBattle(*formatID, seed)
	if err != nil {
		return matchResult{Err: err}
	}
	defer battle.Close()

	rngSeed := time.Now().UnixNano()
	if seed != nil {
		rngSeed = *seed
	}
	p1Team, p2Team := generateTeams(adapter.Dex(), rngSeed)

	if err := battle.Start(sim.BattleSpec{
		FormatID: *formatID,
		Seed:     seed,
		P1Name:   "Tier-" + fmt.Sprint(*p1Tier) + " P1",
		P1Team:   p1Team,
		P2Name:   "Tier-" + fmt.Sprint(*p2Tier) + " P2",
		P2Team:   p2Team,
	}); err != nil {
		return matchResult{Err: err}
	}

	go respond(battle, protocol.SideP1, p1, battle.P1)
	go respond(battle, protocol.SideP2, p2, battle.P2)

	winner, turns, err := watch(battle, *maxTime)
	return matchResult{Winner: winner, Turns: turns, Duration: time.Since(start), Err: err}
}

func generateTeams(dex *sim.Dex, seed int64) (protocol.Team, protocol.Team) {
	rng := rand.New(rand.NewSource(seed))
	return dex.GenerateTeam(*teamSize, rng), dex.GenerateTeam(*teamSize, rng)
}

// respond answers every actionable request on one side's private stream.
func respond(battle *sim.BattleStream, side protocol.Side, engine *ai.Engine, stream io.Reader) {
	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		trimmed := bytes.TrimRight(line, "\n")
		if !bytes.HasPrefix(trimmed, []byte("|request|")) {
			continue
		}
		var req sim.Request
		if err := json.Unmarshal(trimmed[len("|request|"):], &req); err != nil || req.Wait {
			continue
		}
		cmd := engine.Decide(&req, nil)
		if cmd == ai.Wait {
			continue
		}
		battle.WriteChoice(side, cmd)
	}
}

// watch tails the omniscient stream until the battle ends or the clock
// runs out.
func watch(battle *sim.BattleStream, limit time.Duration) (winner string, turns int, err error) {
	type outcome struct {
		winner string
		turns  int
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		reader := bufio.NewReader(battle.Omniscient)
		var w string
		var t int
		for {
			line, rerr := reader.ReadBytes('\n')
			if rerr != nil {
				done <- outcome{w, t, nil}
				return
			}
			text := string(bytes.TrimRight(line, "\n"))
			if *showLog {
				fmt.Println(text)
			}
			if n, ok := parseTurn(text); ok {
				t = n
			}
			if rest, ok := strings.CutPrefix(text, "|win|"); ok {
				w = rest
			}
		}
	}()

	select {
	case o := <-done:
		return o.winner, o.turns, o.err
	case <-time.After(limit):
		battle.Close()
		return "", 0, fmt.Errorf("match exceeded %v", limit)
	}
}

func parseTurn(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "|turn|")
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(rest, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
