package room

import (
	"errors"
	"sync"
	"time"

	"battlegate/internal/match"
	"battlegate/internal/sim"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

var (
	// ErrRoomFull is returned when both side slots are occupied.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyBattling is returned when a start-sensitive operation
	// arrives after the match began.
	ErrAlreadyBattling = errors.New("room is already battling")
)

// Room pairs two human clients before a match exists and survives through
// the match for reconnect routing. Pre-match state lives here; in-match
// state lives in the MatchRunner. All methods are safe for concurrent use;
// compound coordinator sequences go through With.
type Room struct {
	ID string

	mu           sync.Mutex
	status       protocol.RoomStatus
	sockets      map[protocol.Side]match.Socket
	teams        map[protocol.Side]protocol.Team
	runner       *match.Runner
	createdAt    time.Time
	lastActivity time.Time

	logger *logger.ColoredLogger
}

// NewRoom creates an empty waiting room.
func NewRoom(id string) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		status:       protocol.StatusWaiting,
		sockets:      make(map[protocol.Side]match.Socket, 2),
		teams:        make(map[protocol.Side]protocol.Team, 2),
		createdAt:    now,
		lastActivity: now,
		logger:       logger.RoomLogger,
	}
}

// With runs fn while holding the room lock. Coordinators use it to make
// their whole envelope sequence atomic per room, so two simultaneous start
// messages cannot both observe status waiting.
func (r *Room) With(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// The *Locked accessors assume the caller holds the room lock via With.

// StatusLocked returns the current status.
func (r *Room) StatusLocked() protocol.RoomStatus { return r.status }

// SetStatusLocked updates the status.
func (r *Room) SetStatusLocked(s protocol.RoomStatus) { r.status = s }

// RunnerLocked returns the attached match runner, nil before battling.
func (r *Room) RunnerLocked() *match.Runner { return r.runner }

// SocketLocked returns the socket bound to a side, nil when absent.
func (r *Room) SocketLocked(side protocol.Side) match.Socket { return r.sockets[side] }

// TouchLocked records activity.
func (r *Room) TouchLocked() { r.lastActivity = time.Now() }

// SideOfLocked returns the side a socket occupies, if any.
func (r *Room) SideOfLocked(s match.Socket) (protocol.Side, bool) {
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		if r.sockets[side] == s {
			return side, true
		}
	}
	return "", false
}

// JoinLocked assigns the socket to the first empty side slot, p1 then p2.
func (r *Room) JoinLocked(s match.Socket) (protocol.Side, error) {
	if _, ok := r.SideOfLocked(s); ok {
		side, _ := r.SideOfLocked(s)
		return side, nil
	}
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		if r.sockets[side] == nil {
			r.sockets[side] = s
			r.lastActivity = time.Now()
			r.logger.Debug("Room %s: socket joined as %s", r.ID, side)
			return side, nil
		}
	}
	return "", ErrRoomFull
}

// BindSocketLocked places or replaces the socket on a specific side. Used
// by the reconnect path, where the side is already known.
func (r *Room) BindSocketLocked(side protocol.Side, s match.Socket) {
	r.sockets[side] = s
	r.lastActivity = time.Now()
}

// RemoveSocketLocked detaches a socket from whatever slot it occupies and
// reports the side it held and whether any socket remains.
func (r *Room) RemoveSocketLocked(s match.Socket) (protocol.Side, bool, bool) {
	side, ok := r.SideOfLocked(s)
	if !ok {
		return "", false, r.hasSocketsLocked()
	}
	delete(r.sockets, side)
	r.lastActivity = time.Now()
	return side, true, r.hasSocketsLocked()
}

func (r *Room) hasSocketsLocked() bool {
	return r.sockets[protocol.SideP1] != nil || r.sockets[protocol.SideP2] != nil
}

// EmptyLocked reports whether no socket is bound.
func (r *Room) EmptyLocked() bool { return !r.hasSocketsLocked() }

// SubmitTeamLocked validates and stores a side's team. Once the room is
// battling the call is an idempotent no-op: the teams are frozen inside
// the simulator.
func (r *Room) SubmitTeamLocked(side protocol.Side, team protocol.Team, dex *sim.Dex) error {
	if r.status == protocol.StatusBattling {
		return nil
	}
	if err := dex.ValidateTeam(team); err != nil {
		return err
	}
	r.teams[side] = team
	r.lastActivity = time.Now()
	if r.teams[protocol.SideP1] != nil && r.teams[protocol.SideP2] != nil {
		r.status = protocol.StatusReady
	}
	return nil
}

// TeamLocked returns the stored team for a side.
func (r *Room) TeamLocked(side protocol.Side) protocol.Team { return r.teams[side] }

// ReadyLocked reports team presence per side.
func (r *Room) ReadyLocked() (p1 bool, p2 bool) {
	return r.teams[protocol.SideP1] != nil, r.teams[protocol.SideP2] != nil
}

// StartableLocked reports whether the match can begin: not yet battling,
// both sockets bound and both teams stored.
func (r *Room) StartableLocked() bool {
	if r.status != protocol.StatusWaiting && r.status != protocol.StatusReady {
		return false
	}
	return r.sockets[protocol.SideP1] != nil && r.sockets[protocol.SideP2] != nil &&
		r.teams[protocol.SideP1] != nil && r.teams[protocol.SideP2] != nil
}

// AttachRunnerLocked transitions the room to battling. The invariant
// status == battling iff runner present is maintained here and in
// DetachRunner only.
func (r *Room) AttachRunnerLocked(m *match.Runner) {
	r.runner = m
	r.status = protocol.StatusBattling
	r.lastActivity = time.Now()
}

// DetachRunner marks the match over. Called from the runner close hook.
func (r *Room) DetachRunner() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runner = nil
	r.status = protocol.StatusEnded
}

// BroadcastStateLocked sends a room-update envelope to every bound socket.
func (r *Room) BroadcastStateLocked() {
	p1Ready, p2Ready := r.ReadyLocked()
	env := protocol.NewEnvelope(protocol.TypeRoomUpdate, protocol.RoomUpdatePayload{
		RoomID:  r.ID,
		Status:  r.status,
		P1Ready: p1Ready,
		P2Ready: p2Ready,
	})
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		if s := r.sockets[side]; s != nil {
			s.SendEnvelope(env)
		}
	}
}

// BroadcastLocked sends an arbitrary envelope to every bound socket.
func (r *Room) BroadcastLocked(env *protocol.Envelope) {
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		if s := r.sockets[side]; s != nil {
			s.SendEnvelope(env)
		}
	}
}

// CloseSocketsLocked closes and detaches every bound socket. Used when the
// room itself is being torn down rather than a single side leaving.
func (r *Room) CloseSocketsLocked(code int, reason string) {
	for _, side := range []protocol.Side{protocol.SideP1, protocol.SideP2} {
		if s := r.sockets[side]; s != nil {
			s.CloseWith(code, reason)
			r.sockets[side] = nil
		}
	}
}

// LastActivity returns the room's last activity time.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Status returns the current status.
func (r *Room) Status() protocol.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Runner returns the attached match runner, nil before battling.
func (r *Room) Runner() *match.Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runner
}

// Collectable reports whether the registry may delete the room: any
// non-battling status with no bound sockets. A battling room is released
// only when its MatchRunner closes.
func (r *Room) Collectable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status != protocol.StatusBattling && !r.hasSocketsLocked()
}
