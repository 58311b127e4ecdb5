package network

import (
	"errors"

	"battlegate/internal/match"
	"battlegate/internal/room"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

var (
	// ErrSideUndetermined is returned when a reconnect cannot be mapped to
	// a side by payload, room membership or the sole unbound slot.
	ErrSideUndetermined = errors.New("cannot determine side for reconnect")
	// ErrConnConflict is returned when a start names a side another
	// connection already holds.
	ErrConnConflict = errors.New("connection conflict: side already taken")
)

// PvPCoordinator handles start envelopes in pvp mode: team submission,
// launching the match once both sides are ready, and mid-battle reconnects.
// Every sequence runs under the room lock, so two racing start envelopes
// cannot both launch a match.
type PvPCoordinator struct {
	controller *Controller
	onClose    match.CloseHook
}

// HandleStart processes one pvp start envelope. A start against a battling
// room is a reconnect; anything else is a team submission that may trigger
// the match.
func (pc *PvPCoordinator) HandleStart(conn *Conn, p *protocol.StartPayload) {
	if p.RoomID == "" {
		conn.SendEnvelope(protocol.NewError("pvp start requires a roomID"))
		return
	}
	r, ok := pc.controller.registry.Get(p.RoomID)
	if !ok {
		conn.SendEnvelope(protocol.NewError(room.ErrRoomNotFound.Error()))
		return
	}

	r.With(func() {
		if runner := r.RunnerLocked(); runner != nil {
			pc.reconnectLocked(conn, r, runner, p)
			return
		}
		pc.submitLocked(conn, r, p)
	})
}

// reconnectLocked rebinds a socket to a running match. The side comes from,
// in order of precedence: the payload, the room slot the socket already
// occupies, or the single side with no live socket. When none of those
// resolve the start is rejected.
func (pc *PvPCoordinator) reconnectLocked(conn *Conn, r *room.Room, runner *match.Runner, p *protocol.StartPayload) {
	side := p.Side
	if !side.Valid() {
		if s, ok := r.SideOfLocked(conn); ok {
			side = s
		} else if s, ok = soleUnboundSide(runner); ok {
			side = s
		} else {
			conn.SendEnvelope(protocol.NewError(ErrSideUndetermined.Error()))
			return
		}
	}

	if err := runner.Bind(side, conn); err != nil {
		conn.SendEnvelope(protocol.NewError(err.Error()))
		return
	}
	r.BindSocketLocked(side, conn)
	pc.controller.setBinding(conn, &Binding{Room: r, Runner: runner, Side: side})
	logger.RoomLogger.Info("Room %s: %s reconnected to match %s", r.ID, side, runner.ID)
}

// soleUnboundSide resolves the reconnect side when exactly one side has no
// live socket.
func soleUnboundSide(runner *match.Runner) (protocol.Side, bool) {
	p1 := runner.SocketBound(protocol.SideP1)
	p2 := runner.SocketBound(protocol.SideP2)
	switch {
	case !p1 && p2:
		return protocol.SideP1, true
	case p1 && !p2:
		return protocol.SideP2, true
	default:
		return "", false
	}
}

// submitLocked records the sender's team and launches the match when both
// sides have one.
func (pc *PvPCoordinator) submitLocked(conn *Conn, r *room.Room, p *protocol.StartPayload) {
	side, joined := r.SideOfLocked(conn)
	if !joined {
		var err error
		if side, err = r.JoinLocked(conn); err != nil {
			conn.SendEnvelope(protocol.NewError(err.Error()))
			return
		}
		pc.controller.setBinding(conn, &Binding{Room: r, Side: side})
	}
	if p.Side.Valid() && p.Side != side {
		conn.SendEnvelope(protocol.NewError(ErrConnConflict.Error()))
		return
	}

	if len(p.Team) == 0 {
		conn.SendEnvelope(protocol.NewError("pvp start requires a team"))
		return
	}
	if err := r.SubmitTeamLocked(side, p.Team, pc.controller.adapter.Dex()); err != nil {
		conn.SendEnvelope(protocol.NewError(err.Error()))
		return
	}
	r.BroadcastStateLocked()

	if r.StartableLocked() {
		pc.launchLocked(r, p)
	}
}

// launchLocked builds the runner, binds both sockets and announces the
// battle. Called with the room lock held and both teams stored.
func (pc *PvPCoordinator) launchLocked(r *room.Room, p *protocol.StartPayload) {
	cfg := pc.controller.cfg
	formatID := p.FormatID
	if formatID == "" {
		formatID = cfg.Match.DefaultFormat
	}

	runner, err := match.NewRunner(match.Config{
		Adapter:  pc.controller.adapter,
		FormatID: formatID,
		Seed:     p.Seed,
		Mode:     protocol.ModePvP,
		P1Name:   "Player 1",
		P1Team:   r.TeamLocked(protocol.SideP1),
		P2Name:   "Player 2",
		P2Team:   r.TeamLocked(protocol.SideP2),
		OnClose:  pc.matchCloseHook(r),
	})
	if err != nil {
		logger.RoomLogger.Error("Room %s: match construction failed: %v", r.ID, err)
		r.BroadcastLocked(protocol.NewError("failed to start battle"))
		return
	}

	sockets := make([]match.Socket, 0, 2)
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		s := r.SocketLocked(side)
		sockets = append(sockets, s)
		if err := runner.Bind(side, s); err != nil {
			logger.RoomLogger.Error("Room %s: bind %s failed: %v", r.ID, side, err)
			runner.Close(match.ReasonFatal)
			r.BroadcastLocked(protocol.NewError("failed to start battle"))
			return
		}
	}

	r.AttachRunnerLocked(runner)
	pc.controller.attachRunner(sockets, runner)

	if err := runner.StartBattle(); err != nil {
		logger.RoomLogger.Error("Room %s: simulator start failed: %v", r.ID, err)
		runner.Close(match.ReasonFatal)
		return
	}

	r.BroadcastLocked(protocol.NewEnvelope(protocol.TypeBattleStarted, protocol.BattleStartedPayload{RoomID: r.ID}))
	logger.RoomLogger.Info("Room %s: pvp match %s started (%s)", r.ID, runner.ID, formatID)
}

// matchCloseHook releases the room when its match ends, then hands the
// result to the server-level hook.
func (pc *PvPCoordinator) matchCloseHook(r *room.Room) match.CloseHook {
	return func(res match.Result) {
		r.DetachRunner()
		pc.controller.registry.Remove(r.ID)
		if pc.onClose != nil {
			pc.onClose(res)
		}
	}
}
