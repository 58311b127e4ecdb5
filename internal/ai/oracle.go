package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"battlegate/internal/metrics"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
)

// Tier 5: consults an external LLM, optionally enriched by the knowledge
// base. On any failure of either collaborator it behaves exactly like
// tier 4.
type tierOracle struct {
	fallback *tierEvaluator
	dex      *sim.Dex
	llm      *LLMClient
	kb       *KnowledgeBase
}

func (t *tierOracle) decide(req *sim.Request, foe *sim.Species) (string, error) {
	if t.llm == nil {
		return t.fallback.decide(req, foe)
	}
	// Wait and preview decisions are not worth a model round trip.
	if req.TeamPreview {
		return t.fallback.decide(req, foe)
	}

	ctx := context.Background()
	situation := t.describeSituation(req, foe)

	if t.kb != nil {
		kbCtx, cancel := context.WithTimeout(ctx, DefaultLLMTimeout/2)
		advice, err := t.kb.Query(kbCtx, situation)
		cancel()
		if err != nil {
			logger.AILogger.Warn("Knowledge base query failed: %v", err)
		} else if advice != "" {
			situation += "\nRetrieved advice: " + advice
		}
	}

	cmd, err := t.llm.ChooseAction(ctx, situation)
	if err != nil {
		logger.AILogger.Warn("LLM choice failed, using tier-4 heuristic: %v", err)
		metrics.LLMFallbacks.Inc()
		return t.fallback.decide(req, foe)
	}

	if !t.legalForRequest(req, cmd) {
		logger.AILogger.Warn("LLM choice %q illegal for this request, using tier-4 heuristic", cmd)
		metrics.LLMFallbacks.Inc()
		return t.fallback.decide(req, foe)
	}
	return cmd, nil
}

// legalForRequest checks the command against the current decision point.
func (t *tierOracle) legalForRequest(req *sim.Request, cmd string) bool {
	switch {
	case strings.HasPrefix(cmd, "move "):
		if len(req.ForceSwitch) > 0 {
			return false
		}
		var n int
		fmt.Sscanf(cmd, "move %d", &n)
		for _, im := range enabledMoves(req) {
			if im.slot == n {
				return true
			}
		}
		return false
	case strings.HasPrefix(cmd, "switch "):
		var n int
		fmt.Sscanf(cmd, "switch %d", &n)
		for _, slot := range benchSlots(req) {
			if slot == n {
				return true
			}
		}
		return false
	case strings.HasPrefix(cmd, "team "):
		return req.TeamPreview
	case cmd == Default:
		return true
	}
	return false
}

// describeSituation renders the request as a compact prompt.
func (t *tierOracle) describeSituation(req *sim.Request, foe *sim.Species) string {
	var b strings.Builder

	if foe != nil {
		fmt.Fprintf(&b, "Opponent active: %s (%s).\n", foe.Name, strings.Join(foe.Types, "/"))
	}

	if active := activePokemon(req); active != nil {
		fmt.Fprintf(&b, "Your active: %s at %s.\n", active.Ident, active.Condition)
	}

	if len(req.ForceSwitch) > 0 {
		b.WriteString("You must switch.\n")
	}

	if moves := enabledMoves(req); len(moves) > 0 {
		b.WriteString("Moves: ")
		for i, im := range moves {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d=%s", im.slot, im.move.Move)
		}
		b.WriteString(".\n")
	}

	if bench := benchSlots(req); len(bench) > 0 {
		b.WriteString("Bench: ")
		for i, slot := range bench {
			if i > 0 {
				b.WriteString(", ")
			}
			p := req.Side.Pokemon[slot-1]
			fmt.Fprintf(&b, "%d=%s (%s)", slot, p.Ident, p.Condition)
		}
		b.WriteString(".\n")
	}

	// Raw request for models that prefer structure.
	if data, err := json.Marshal(req); err == nil && len(data) < 2048 {
		b.WriteString("Request JSON: ")
		b.Write(data)
	}

	return b.String()
}
