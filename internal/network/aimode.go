package network

import (
	"math/rand"
	"time"

	"battlegate/internal/ai"
	"battlegate/internal/match"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// AICoordinator handles start envelopes in ai mode. No room is involved:
// the match exists as soon as the envelope is accepted, with a synthetic
// opponent on p2.
type AICoordinator struct {
	controller *Controller
	onClose    match.CloseHook

	// Optional tier-5 collaborators, shared across matches.
	LLM *ai.LLMClient
	KB  *ai.KnowledgeBase
}

// HandleStart validates the payload, generates the opponent team, and
// launches a fresh AI match bound to the sender.
func (ac *AICoordinator) HandleStart(conn *Conn, p *protocol.StartPayload) {
	cfg := ac.controller.cfg
	dex := ac.controller.adapter.Dex()

	if len(p.Team) == 0 {
		conn.SendEnvelope(protocol.NewError("ai start requires a team"))
		return
	}
	if err := dex.ValidateTeam(p.Team); err != nil {
		conn.SendEnvelope(protocol.NewError(err.Error()))
		return
	}

	difficulty := p.Difficulty
	if difficulty == 0 {
		difficulty = cfg.AI.DefaultDifficulty
	}
	if difficulty < 1 || difficulty > 5 {
		conn.SendEnvelope(protocol.NewError("difficulty must be 1..5"))
		return
	}

	formatID := p.FormatID
	if formatID == "" {
		formatID = cfg.Match.DefaultFormat
	}

	// The opponent team is drawn from the seed when one is supplied, so a
	// seeded match is reproducible end to end.
	var rng *rand.Rand
	if p.Seed != nil {
		rng = rand.New(rand.NewSource(*p.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	aiTeam := dex.GenerateTeam(len(p.Team), rng)

	engine := ai.New(difficulty, dex, ai.Options{LLM: ac.LLM, KB: ac.KB})

	// With no room to carry it, the match registers with the registry so
	// the idle sweep can reclaim it if the player walks away.
	registry := ac.controller.registry
	runner, err := match.NewAIRunner(match.Config{
		Adapter:    ac.controller.adapter,
		FormatID:   formatID,
		Seed:       p.Seed,
		Mode:       protocol.ModeAI,
		P1Name:     "Player",
		P1Team:     p.Team,
		P2Name:     "Computer",
		P2Team:     aiTeam,
		Difficulty: difficulty,
		OnClose: func(res match.Result) {
			registry.UntrackMatch(res.MatchID)
			if ac.onClose != nil {
				ac.onClose(res)
			}
		},
	}, engine)
	if err != nil {
		logger.MatchLogger.Error("AI match construction failed: %v", err)
		conn.SendEnvelope(protocol.NewError("failed to start battle"))
		return
	}
	registry.TrackMatch(runner.Runner)

	if err := runner.Bind(protocol.SideP1, conn); err != nil {
		runner.Close(match.ReasonFatal)
		conn.SendEnvelope(protocol.NewError(err.Error()))
		return
	}
	ac.controller.setBinding(conn, &Binding{Runner: runner.Runner, Side: protocol.SideP1})

	if err := runner.StartBattle(); err != nil {
		logger.MatchLogger.Error("AI match %s: simulator start failed: %v", runner.ID, err)
		runner.Close(match.ReasonFatal)
		conn.SendEnvelope(protocol.NewError("failed to start battle"))
		return
	}

	conn.SendEnvelope(protocol.NewEnvelope(protocol.TypeBattleStarted, protocol.BattleStartedPayload{}))
	logger.MatchLogger.Info("AI match %s started: tier=%d format=%s", runner.ID, difficulty, formatID)
}
