package ai

import (
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"battlegate/internal/metrics"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
)

// Wait is returned when the request asks for no action.
const Wait = "wait"

// Default is the safe fallback choice; the simulator treats it as "do
// something legal".
const Default = "default"

// decider is the operation every tier variant implements.
type decider interface {
	decide(req *sim.Request, foe *sim.Species) (string, error)
}

// Engine synthesises choice commands for the AI side. It is polymorphic
// over difficulty tiers 1..5; any failure inside a tier is caught at this
// boundary and degraded to Default.
type Engine struct {
	tier   int
	impl   decider
	logger *logger.ColoredLogger
}

// Options configures the optional tier-5 collaborators.
type Options struct {
	LLM *LLMClient
	KB  *KnowledgeBase
}

// New creates an engine for the given difficulty tier. Out-of-range tiers
// are clamped. Tier 5 degrades to tier 4 when no LLM client is configured.
func New(tier int, dex *sim.Dex, opts Options) *Engine {
	if tier < 1 {
		tier = 1
	}
	if tier > 5 {
		tier = 5
	}

	var impl decider
	switch tier {
	case 1:
		impl = &tierRandom{}
	case 2:
		impl = &tierTypeMatch{dex: dex}
	case 3:
		impl = &tierWeighted{dex: dex}
	case 4:
		impl = &tierEvaluator{dex: dex}
	case 5:
		impl = &tierOracle{
			fallback: &tierEvaluator{dex: dex},
			dex:      dex,
			llm:      opts.LLM,
			kb:       opts.KB,
		}
	}

	return &Engine{
		tier:   tier,
		impl:   impl,
		logger: logger.AILogger,
	}
}

// Tier returns the configured difficulty tier.
func (e *Engine) Tier() int {
	return e.tier
}

// Decide synthesises a choice command for one request. It always returns a
// usable value: Wait for wait requests, Default on any internal failure.
func (e *Engine) Decide(req *sim.Request, foe *sim.Species) (cmd string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Tier %d decide panicked: %v", e.tier, r)
			cmd = Default
		}
	}()

	if req == nil || req.Wait {
		return Wait
	}

	out, err := e.impl.decide(req, foe)
	if err != nil {
		e.logger.Warn("Tier %d decide failed: %v", e.tier, err)
		return Default
	}
	if out == "" {
		return Default
	}

	metrics.AIDecisions.WithLabelValues(fmt.Sprintf("%d", e.tier)).Inc()
	return out
}

var choicePattern = regexp.MustCompile(`^(move [1-4]( [a-z]+)?|switch [1-6]|team [1-6]|default)$`)

// ValidChoice reports whether a command is in the simulator's choice
// grammar. Used to gate LLM output.
func ValidChoice(cmd string) bool {
	return choicePattern.MatchString(strings.TrimSpace(cmd))
}

// Shared request helpers. All tiers read the request through these, so the
// decisions stay pure functions of the request and the static dex.

type indexedMove struct {
	slot int // 1-based
	move sim.ActiveMove
}

func enabledMoves(req *sim.Request) []indexedMove {
	if len(req.Active) == 0 {
		return nil
	}
	var out []indexedMove
	for i, m := range req.Active[0].Moves {
		if !m.Disabled && m.PP != 0 {
			out = append(out, indexedMove{slot: i + 1, move: m})
		}
	}
	return out
}

func activePokemon(req *sim.Request) *sim.RequestPokemon {
	for i := range req.Side.Pokemon {
		if req.Side.Pokemon[i].Active {
			return &req.Side.Pokemon[i]
		}
	}
	return nil
}

// benchSlots returns the 1-based indices of non-fainted, non-active slots.
func benchSlots(req *sim.Request) []int {
	var out []int
	for i, p := range req.Side.Pokemon {
		if !p.Active && !p.Fainted() {
			out = append(out, i+1)
		}
	}
	return out
}

func firstBenchSlot(req *sim.Request) int {
	slots := benchSlots(req)
	if len(slots) == 0 {
		return 0
	}
	return slots[0]
}

// hpFraction parses a condition string like "173/240" into a fraction.
func hpFraction(condition string) float64 {
	if strings.HasSuffix(condition, "fnt") {
		return 0
	}
	var cur, max int
	if _, err := fmt.Sscanf(condition, "%d/%d", &cur, &max); err != nil || max == 0 {
		return 1
	}
	return float64(cur) / float64(max)
}

// requestSeed derives a deterministic pick seed from the request, so the
// "random" tiers are pure functions of their input.
func requestSeed(req *sim.Request) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", req.RQID)
	for _, p := range req.Side.Pokemon {
		h.Write([]byte(p.Ident))
		h.Write([]byte(p.Condition))
	}
	return h.Sum64()
}

func pickIndex(seed uint64, n int) int {
	if n <= 0 {
		return 0
	}
	return int(seed % uint64(n))
}

// speciesOf resolves a request slot's species through the dex.
func speciesOf(dex *sim.Dex, p *sim.RequestPokemon) *sim.Species {
	if p == nil {
		return nil
	}
	name := p.Ident
	if i := strings.Index(name, ": "); i >= 0 {
		name = name[i+2:]
	}
	return dex.LookupSpecies(name)
}

// normalizedEffect maps a type multiplier (0..4) onto 0..1.
func normalizedEffect(mult float64) float64 {
	return math.Min(mult, 4) / 4
}
