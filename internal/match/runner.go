package match

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"battlegate/internal/metrics"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// ReplacedReason is the close reason written to an old socket when a new
// one takes over its side.
const ReplacedReason = "Replaced by new connection"

// CloseReason says why a match was torn down.
type CloseReason string

const (
	ReasonEndOfBattle CloseReason = "end-of-battle"
	ReasonIdle        CloseReason = "idle"
	ReasonShutdown    CloseReason = "shutdown"
	ReasonFatal       CloseReason = "fatal"
)

var (
	// ErrMatchEnded is returned for operations on a closed match.
	ErrMatchEnded = errors.New("match has ended")
	// ErrBadChoice is returned when a choice command fails sanitation.
	ErrBadChoice = errors.New("malformed choice command")
)

// Socket is the outbound transport the runner writes to. Real websockets
// and the synthetic AI participant both implement it.
type Socket interface {
	// SendLine delivers one raw simulator protocol line.
	SendLine(line []byte) error
	// SendEnvelope delivers one JSON control envelope.
	SendEnvelope(env *protocol.Envelope) error
	// CloseWith closes the transport with a websocket close code and reason.
	CloseWith(code int, reason string) error
	// Open reports whether the transport can still deliver frames.
	Open() bool
}

// Result summarises a finished match for the history hook.
type Result struct {
	MatchID    string
	Mode       string
	FormatID   string
	Difficulty int
	Winner     string
	Turns      int
	Duration   time.Duration
	Reason     CloseReason
}

// CloseHook observes match teardown.
type CloseHook func(Result)

// Config carries everything needed to construct a Runner.
type Config struct {
	Adapter  *sim.Adapter
	FormatID string
	Seed     *int64
	Mode     string

	P1Name string
	P1Team protocol.Team
	P2Name string
	P2Team protocol.Team

	Difficulty int
	OnClose    CloseHook
}

// Runner owns one match end-to-end: the simulator instance, the protocol
// cache, and the (replaceable) socket per side. Stream pumps start at
// construction, before the simulator sees its initialisation commands.
type Runner struct {
	ID       string
	FormatID string
	Mode     string

	cfg    Config
	battle *sim.BattleStream
	cache  *ProtocolCache
	logger *logger.ColoredLogger

	mu            sync.Mutex
	sockets       map[protocol.Side]Socket
	requests      map[protocol.Side][]byte
	syntheticSide protocol.Side

	started    bool
	startedAt  time.Time
	endedAt    time.Time
	emptySince time.Time
	winner     string
	turns      int
	sawEnd     bool

	pumps     sync.WaitGroup
	closeOnce sync.Once
}

// NewRunner constructs a runner and starts its three stream pumps. The
// simulator has not been initialised yet; call StartBattle once the initial
// sockets are bound.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Adapter == nil {
		return nil, sim.ErrSimulatorUnavailable
	}

	battle, err := cfg.Adapter.NewBattle(cfg.FormatID, cfg.Seed)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		ID:       uuid.New().String(),
		FormatID: cfg.FormatID,
		Mode:     cfg.Mode,
		cfg:      cfg,
		battle:   battle,
		cache:    NewProtocolCache(),
		logger:   logger.MatchLogger,
		sockets:  make(map[protocol.Side]Socket),
		requests: make(map[protocol.Side][]byte),
	}

	// Pumps must be consuming before any initialisation command is written,
	// otherwise early protocol lines are lost.
	r.pumps.Add(3)
	go r.pump(StreamOmniscient, battle.Omniscient)
	go r.pump(StreamP1, battle.P1)
	go r.pump(StreamP2, battle.P2)

	go r.awaitDrain()

	return r, nil
}

// StartBattle writes the simulator initialisation protocol. Idempotent.
func (r *Runner) StartBattle() error {
	r.mu.Lock()
	if r.started || !r.endedAt.IsZero() {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.startedAt = time.Now()
	r.mu.Unlock()

	metrics.MatchesLive.Inc()
	metrics.MatchesStarted.WithLabelValues(r.Mode).Inc()
	r.logger.Info("Match %s started: format=%s mode=%s", r.ID, r.FormatID, r.Mode)

	return r.battle.Start(sim.BattleSpec{
		FormatID: r.FormatID,
		Seed:     r.cfg.Seed,
		P1Name:   r.cfg.P1Name,
		P1Team:   r.cfg.P1Team,
		P2Name:   r.cfg.P2Name,
		P2Team:   r.cfg.P2Team,
	})
}

// Cache exposes the protocol cache (read-only use).
func (r *Runner) Cache() *ProtocolCache {
	return r.cache
}

// Ended reports whether the match is closed.
func (r *Runner) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.endedAt.IsZero()
}

// SocketBound reports whether a live socket is bound to the side.
func (r *Runner) SocketBound(side protocol.Side) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sockets[side] != nil
}

// LatestRequest returns the most recent |request| line cached for a side,
// or nil when none has been emitted yet.
func (r *Runner) LatestRequest(side protocol.Side) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[side]
}

// Bind attaches or replaces the socket on a side. A previously bound live
// socket is closed with "Replaced by new connection". If the cache is
// non-empty the new socket receives the full replay, then exactly one
// battle-reconnected envelope.
func (r *Runner) Bind(side protocol.Side, socket Socket) error {
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.endedAt.IsZero() {
		return ErrMatchEnded
	}

	old := r.sockets[side]
	if old != nil && old != socket {
		old.CloseWith(websocket.CloseNormalClosure, ReplacedReason)
	}
	r.sockets[side] = socket
	r.emptySince = time.Time{}

	// Snapshot-and-stream replay. The runner lock is held so the pumps
	// cannot interleave fresh lines ahead of the replay; sends only queue
	// into the socket's buffer. A replay must arrive whole: on any send
	// failure the socket is dropped rather than left with a gap.
	if r.cache.Len() > 0 {
		replay := r.cache.Replay(side)
		for _, line := range replay {
			if err := socket.SendLine(line); err != nil {
				r.dropSocketLocked(side, socket)
				return fmt.Errorf("replay to %s failed: %w", side, err)
			}
		}
		metrics.LinesReplayed.Add(float64(len(replay)))
		metrics.Reconnects.Inc()

		if err := socket.SendEnvelope(protocol.NewEnvelope(protocol.TypeBattleReconnected, protocol.BattleReconnectedPayload{
			Side:    side,
			Message: fmt.Sprintf("Reconnected as %s; %d lines replayed", side, len(replay)),
		})); err != nil {
			r.dropSocketLocked(side, socket)
			return fmt.Errorf("replay to %s failed: %w", side, err)
		}
		r.logger.Info("Match %s: %s rebound, %d lines replayed", r.ID, side, len(replay))
	}

	return nil
}

// dropSocketLocked detaches a socket that failed mid-replay and closes it.
// Caller holds r.mu.
func (r *Runner) dropSocketLocked(side protocol.Side, socket Socket) {
	r.sockets[side] = nil
	if !r.humanBoundLocked(protocol.SideP1) && !r.humanBoundLocked(protocol.SideP2) {
		r.emptySince = time.Now()
	}
	socket.CloseWith(websocket.CloseInternalServerErr, "replay failed")
}

// Unbind detaches the side's socket without ending the match, provided
// socket is still the bound one: a connection replaced by a reconnect must
// not detach its successor. Lines keep accumulating in the cache for a
// future rebind.
func (r *Runner) Unbind(side protocol.Side, socket Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sockets[side] == nil || (socket != nil && r.sockets[side] != socket) {
		return
	}
	r.sockets[side] = nil
	if !r.humanBoundLocked(protocol.SideP1) && !r.humanBoundLocked(protocol.SideP2) {
		r.emptySince = time.Now()
	}
	r.logger.Debug("Match %s: %s socket detached", r.ID, side)
}

// humanBoundLocked reports whether a real client socket is bound to the
// side; the synthetic AI participant does not count. Caller holds r.mu.
func (r *Runner) humanBoundLocked(side protocol.Side) bool {
	return side != r.syntheticSide && r.sockets[side] != nil
}

// IdleSince returns the time since both sides have been socketless, or
// zero when at least one socket is bound.
func (r *Runner) IdleSince(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emptySince.IsZero() || r.humanBoundLocked(protocol.SideP1) || r.humanBoundLocked(protocol.SideP2) {
		return 0
	}
	return now.Sub(r.emptySince)
}

// ForwardChoice writes a choice command verbatim into the side's simulator
// input stream. Commands are opaque beyond trimming and control-character
// rejection.
func (r *Runner) ForwardChoice(side protocol.Side, command string) error {
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}

	command = strings.TrimSpace(command)
	if command == "" || len(command) > 256 {
		return ErrBadChoice
	}
	for _, c := range command {
		if c < 0x20 || c == 0x7f {
			return ErrBadChoice
		}
	}

	r.mu.Lock()
	ended := !r.endedAt.IsZero()
	r.mu.Unlock()
	if ended {
		return ErrMatchEnded
	}

	r.logger.Debug("Match %s: %s chooses %q", r.ID, side, command)
	return r.battle.WriteChoice(side, command)
}

// Close marks the match ended, stops the pumps, closes both sockets and
// releases the simulator. Safe to call more than once.
func (r *Runner) Close(reason CloseReason) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.endedAt = time.Now()
		winner := r.winner
		turns := r.turns
		started := r.started
		var duration time.Duration
		if started {
			duration = r.endedAt.Sub(r.startedAt)
		}
		socks := []Socket{r.sockets[protocol.SideP1], r.sockets[protocol.SideP2]}
		r.sockets[protocol.SideP1] = nil
		r.sockets[protocol.SideP2] = nil
		r.mu.Unlock()

		r.battle.Close()

		code := websocket.CloseNormalClosure
		if reason == ReasonFatal {
			code = websocket.CloseInternalServerErr
		}
		for _, s := range socks {
			if s != nil {
				s.CloseWith(code, string(reason))
			}
		}

		if started {
			metrics.MatchesLive.Dec()
		}
		metrics.MatchesEnded.WithLabelValues(string(reason)).Inc()
		r.logger.Info("Match %s closed: reason=%s winner=%q turns=%d", r.ID, reason, winner, turns)

		if r.cfg.OnClose != nil {
			r.cfg.OnClose(Result{
				MatchID:    r.ID,
				Mode:       r.Mode,
				FormatID:   r.FormatID,
				Difficulty: r.cfg.Difficulty,
				Winner:     winner,
				Turns:      turns,
				Duration:   duration,
				Reason:     reason,
			})
		}
	})
}

// pump consumes one simulator sub-stream: every line is cached, request
// lines update the side's choice-request slot, and the line is fanned out
// to whichever sockets form the stream's audience.
func (r *Runner) pump(stream Stream, reader io.Reader) {
	defer r.pumps.Done()

	br := bufio.NewReader(reader)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			r.handleLine(stream, line)
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) handleLine(stream Stream, line []byte) {
	trimmed := bytes.TrimRight(line, "\n")

	r.mu.Lock()
	if !r.endedAt.IsZero() {
		r.mu.Unlock()
		return
	}

	// Recording and audience capture share one critical section with Bind,
	// so a rebinding socket sees every line exactly once: either in the
	// replay snapshot or from the pump, never both.
	r.cache.Record(stream, line)

	switch stream {
	case StreamP1:
		if bytes.HasPrefix(trimmed, []byte("|request|")) {
			r.requests[protocol.SideP1] = append([]byte(nil), trimmed...)
		}
	case StreamP2:
		if bytes.HasPrefix(trimmed, []byte("|request|")) {
			r.requests[protocol.SideP2] = append([]byte(nil), trimmed...)
		}
	case StreamOmniscient:
		if bytes.HasPrefix(trimmed, []byte("|turn|")) {
			if n, err := strconv.Atoi(string(trimmed[len("|turn|"):])); err == nil {
				r.turns = n
			}
		} else if bytes.HasPrefix(trimmed, []byte("|win|")) {
			r.winner = string(trimmed[len("|win|"):])
			r.sawEnd = true
		} else if bytes.HasPrefix(trimmed, []byte("|tie|")) {
			r.sawEnd = true
		}
	}

	var targets []Socket
	switch stream {
	case StreamOmniscient:
		if s := r.sockets[protocol.SideP1]; s != nil {
			targets = append(targets, s)
		}
		if s := r.sockets[protocol.SideP2]; s != nil {
			targets = append(targets, s)
		}
	case StreamP1:
		if s := r.sockets[protocol.SideP1]; s != nil {
			targets = append(targets, s)
		}
	case StreamP2:
		if s := r.sockets[protocol.SideP2]; s != nil {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		if err := s.SendLine(line); err == nil {
			metrics.LinesFannedOut.Inc()
		}
	}
}

// awaitDrain closes the match once all three pumps end: end-of-battle when
// |win|/|tie| was observed, fatal when the streams died early.
func (r *Runner) awaitDrain() {
	r.pumps.Wait()

	r.mu.Lock()
	sawEnd := r.sawEnd
	alreadyClosed := !r.endedAt.IsZero()
	r.mu.Unlock()

	if alreadyClosed {
		return
	}
	if sawEnd {
		r.Close(ReasonEndOfBattle)
	} else {
		r.logger.Error("Match %s: simulator streams ended before |win|/|tie|", r.ID)
		r.Close(ReasonFatal)
	}
}
