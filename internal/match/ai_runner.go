package match

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"battlegate/internal/ai"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// AIRunner is a MatchRunner whose p2 participant is synthetic: the p2
// outbound stream is consumed by a choice engine instead of a websocket,
// and the engine's decisions come back through ForwardChoice. The human
// side binds, replays and reconnects exactly like a PvP side; the AI side
// is stateless across reconnects by design.
type AIRunner struct {
	*Runner
	Engine *ai.Engine
}

// NewAIRunner constructs a runner with the engine wired to p2. Call
// StartBattle after binding the human socket to p1.
func NewAIRunner(cfg Config, engine *ai.Engine) (*AIRunner, error) {
	r, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	r.syntheticSide = protocol.SideP2

	participant := &aiParticipant{
		runner: r,
		engine: engine,
		dex:    cfg.Adapter.Dex(),
	}
	// The cache is empty at this point, so the bind never replays.
	if err := r.Bind(protocol.SideP2, participant); err != nil {
		r.Close(ReasonFatal)
		return nil, err
	}

	return &AIRunner{Runner: r, Engine: engine}, nil
}

// aiParticipant implements Socket for the in-process AI side. Public lines
// keep its opponent model current; request lines trigger a decision.
type aiParticipant struct {
	runner *Runner
	engine *ai.Engine
	dex    *sim.Dex

	mu  sync.Mutex
	foe *sim.Species
}

func (p *aiParticipant) SendLine(line []byte) error {
	trimmed := bytes.TrimRight(line, "\n")

	if bytes.HasPrefix(trimmed, []byte("|switch|p1a: ")) {
		p.trackFoe(string(trimmed))
		return nil
	}

	if bytes.HasPrefix(trimmed, []byte("|request|")) {
		var req sim.Request
		if err := json.Unmarshal(trimmed[len("|request|"):], &req); err != nil {
			logger.AILogger.Warn("Unparseable request for AI side: %v", err)
			return nil
		}
		if req.Wait {
			return nil
		}
		// Decide off the pump: tier 5 may spend seconds on its LLM call.
		go p.respond(&req)
	}
	return nil
}

func (p *aiParticipant) respond(req *sim.Request) {
	p.mu.Lock()
	foe := p.foe
	p.mu.Unlock()

	cmd := p.engine.Decide(req, foe)
	if cmd == ai.Wait {
		return
	}
	if err := p.runner.ForwardChoice(protocol.SideP2, cmd); err != nil {
		logger.AILogger.Debug("AI choice not forwarded: %v", err)
	}
}

// trackFoe updates the opponent model from a public switch line:
// |switch|p1a: Nickname|Species, L50|hp/max
func (p *aiParticipant) trackFoe(line string) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return
	}
	details := parts[3]
	name := details
	if i := strings.Index(details, ","); i >= 0 {
		name = details[:i]
	}
	if species := p.dex.LookupSpecies(name); species != nil {
		p.mu.Lock()
		p.foe = species
		p.mu.Unlock()
	}
}

func (p *aiParticipant) SendEnvelope(env *protocol.Envelope) error { return nil }

func (p *aiParticipant) CloseWith(code int, reason string) error { return nil }

func (p *aiParticipant) Open() bool { return !p.runner.Ended() }
