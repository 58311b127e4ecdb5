package ai

import (
	"fmt"

	"battlegate/internal/sim"
)

// Tier 1: uniform pick among enabled moves; first usable bench slot on a
// forced switch; slot 1 on team preview. The pick is derived from a request
// hash so identical requests produce identical choices.
type tierRandom struct{}

func (t *tierRandom) decide(req *sim.Request, foe *sim.Species) (string, error) {
	if req.TeamPreview {
		return "team 1", nil
	}
	if len(req.ForceSwitch) > 0 {
		if slot := firstBenchSlot(req); slot > 0 {
			return fmt.Sprintf("switch %d", slot), nil
		}
		return Default, nil
	}

	moves := enabledMoves(req)
	if len(moves) == 0 {
		return Default, nil
	}
	pick := moves[pickIndex(requestSeed(req), len(moves))]
	return fmt.Sprintf("move %d", pick.slot), nil
}

// Tier 2: among enabled moves, maximise type-chart effectiveness against
// the opponent's active; ties broken by the request hash.
type tierTypeMatch struct {
	dex *sim.Dex
}

func (t *tierTypeMatch) decide(req *sim.Request, foe *sim.Species) (string, error) {
	if req.TeamPreview {
		return "team 1", nil
	}
	if len(req.ForceSwitch) > 0 {
		if slot := firstBenchSlot(req); slot > 0 {
			return fmt.Sprintf("switch %d", slot), nil
		}
		return Default, nil
	}

	moves := enabledMoves(req)
	if len(moves) == 0 {
		return Default, nil
	}

	best := -1.0
	var ties []indexedMove
	for _, im := range moves {
		eff := 1.0
		if move := t.dex.LookupMove(im.move.ID); move != nil && foe != nil {
			eff = sim.TypeEffect(move.Type, foe.Types)
		}
		if eff > best {
			best = eff
			ties = ties[:0]
			ties = append(ties, im)
		} else if eff == best {
			ties = append(ties, im)
		}
	}

	pick := ties[pickIndex(requestSeed(req), len(ties))]
	return fmt.Sprintf("move %d", pick.slot), nil
}

// Tier 3: weighted move score 0.5*type + 0.3*normalised power + 0.2*accuracy,
// with a defensive switch when the active's HP fraction drops below 0.30.
type tierWeighted struct {
	dex *sim.Dex
}

const tier3SwitchThreshold = 0.30

func (t *tierWeighted) decide(req *sim.Request, foe *sim.Species) (string, error) {
	if req.TeamPreview {
		return "team 1", nil
	}
	if len(req.ForceSwitch) > 0 {
		if slot := bestSwitch(t.dex, req, foe); slot > 0 {
			return fmt.Sprintf("switch %d", slot), nil
		}
		return Default, nil
	}

	if active := activePokemon(req); active != nil && hpFraction(active.Condition) < tier3SwitchThreshold {
		if slot := bestSwitch(t.dex, req, foe); slot > 0 {
			return fmt.Sprintf("switch %d", slot), nil
		}
	}

	moves := enabledMoves(req)
	if len(moves) == 0 {
		return Default, nil
	}

	self := speciesOf(t.dex, activePokemon(req))
	bestSlot, bestScore := 0, -1.0
	for _, im := range moves {
		move := t.dex.LookupMove(im.move.ID)
		if move == nil {
			continue
		}
		score := weightedMoveScore(move, self, foe)
		if score > bestScore {
			bestScore = score
			bestSlot = im.slot
		}
	}
	if bestSlot == 0 {
		return Default, nil
	}
	return fmt.Sprintf("move %d", bestSlot), nil
}

// weightedMoveScore is the tier-3 formula.
func weightedMoveScore(move *sim.Move, self, foe *sim.Species) float64 {
	eff := 1.0
	if foe != nil {
		eff = sim.TypeEffect(move.Type, foe.Types)
	}
	acc := float64(move.Accuracy) / 100
	if move.Accuracy == 0 {
		acc = 1
	}
	return 0.5*normalizedEffect(eff) + 0.3*float64(move.BasePower)/150 + 0.2*acc
}

// Tier 4: every enabled move and every usable bench slot flow through the
// shared evaluateMove / evaluateSwitch heuristic; the best-scored action
// wins. Switch threshold 0.25: above it, staying in is favoured.
type tierEvaluator struct {
	dex *sim.Dex
}

const tier4SwitchThreshold = 0.25

func (t *tierEvaluator) decide(req *sim.Request, foe *sim.Species) (string, error) {
	if req.TeamPreview {
		return t.previewChoice(req, foe), nil
	}
	if len(req.ForceSwitch) > 0 {
		if slot := bestSwitch(t.dex, req, foe); slot > 0 {
			return fmt.Sprintf("switch %d", slot), nil
		}
		return Default, nil
	}

	active := activePokemon(req)
	self := speciesOf(t.dex, active)

	bestCmd := ""
	bestScore := -1.0

	for _, im := range enabledMoves(req) {
		move := t.dex.LookupMove(im.move.ID)
		if move == nil {
			continue
		}
		score := evaluateMove(move, self, foe)
		if score > bestScore {
			bestScore = score
			bestCmd = fmt.Sprintf("move %d", im.slot)
		}
	}

	healthy := active == nil || hpFraction(active.Condition) >= tier4SwitchThreshold
	for _, slot := range benchSlots(req) {
		candidate := speciesOf(t.dex, &req.Side.Pokemon[slot-1])
		score := evaluateSwitch(candidate, foe)
		if healthy {
			// Momentum cost of switching while the active can still fight.
			score *= 0.5
		}
		if score > bestScore {
			bestScore = score
			bestCmd = fmt.Sprintf("switch %d", slot)
		}
	}

	if bestCmd == "" {
		return Default, nil
	}
	return bestCmd, nil
}

// previewChoice leads with the slot whose matchup against the foe's first
// revealed pokemon scores best.
func (t *tierEvaluator) previewChoice(req *sim.Request, foe *sim.Species) string {
	bestSlot, bestScore := 1, -1.0
	for i := range req.Side.Pokemon {
		candidate := speciesOf(t.dex, &req.Side.Pokemon[i])
		if score := evaluateSwitch(candidate, foe); score > bestScore {
			bestScore = score
			bestSlot = i + 1
		}
	}
	return fmt.Sprintf("team %d", bestSlot)
}

// evaluateMove scores one move: type effectiveness, power, accuracy and a
// STAB bonus.
func evaluateMove(move *sim.Move, self, foe *sim.Species) float64 {
	if move.Category == sim.CategoryStatus {
		return 0.1
	}
	eff := 1.0
	if foe != nil {
		eff = sim.TypeEffect(move.Type, foe.Types)
	}
	acc := float64(move.Accuracy) / 100
	if move.Accuracy == 0 {
		acc = 1
	}
	score := 0.45*normalizedEffect(eff) + 0.3*float64(move.BasePower)/150 + 0.15*acc
	if self != nil {
		for _, typ := range self.Types {
			if typ == move.Type {
				score += 0.1
			}
		}
	}
	return score
}

// evaluateSwitch scores bringing in a candidate against the current foe:
// how well it resists the foe's types and how hard it can hit back.
func evaluateSwitch(candidate, foe *sim.Species) float64 {
	if candidate == nil {
		return 0
	}
	if foe == nil {
		return 0.5
	}

	incoming := 1.0
	for _, typ := range foe.Types {
		incoming *= sim.TypeEffect(typ, candidate.Types)
	}

	outgoing := 0.0
	for _, typ := range candidate.Types {
		if eff := sim.TypeEffect(typ, foe.Types); eff > outgoing {
			outgoing = eff
		}
	}

	// Resisting the foe weighs more than threatening it.
	defense := 1 - normalizedEffect(incoming)
	return 0.6*defense + 0.4*normalizedEffect(outgoing)
}

// bestSwitch returns the best-scored usable bench slot, 0 when the bench
// is empty.
func bestSwitch(dex *sim.Dex, req *sim.Request, foe *sim.Species) int {
	bestSlot, bestScore := 0, -1.0
	for _, slot := range benchSlots(req) {
		candidate := speciesOf(dex, &req.Side.Pokemon[slot-1])
		if score := evaluateSwitch(candidate, foe); score > bestScore {
			bestScore = score
			bestSlot = slot
		}
	}
	return bestSlot
}
