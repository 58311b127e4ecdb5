package room

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"battlegate/internal/match"
	"battlegate/internal/metrics"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// ErrRoomNotFound is returned for lookups of unknown or collected rooms.
var ErrRoomNotFound = errors.New("room not found")

// tokenBytes gives 56 bits of entropy, above the 48-bit floor for
// unguessable room tokens.
const tokenBytes = 7

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Registry is the in-memory roomID to Room map. It creates rooms, looks
// them up, garbage-collects socketless ones and sweeps idle state in the
// background.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	matches map[string]*match.Runner

	idleTimeout time.Duration
	sweepStop   chan struct{}
	logger      *logger.ColoredLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		matches:     make(map[string]*match.Runner),
		idleTimeout: idleTimeout,
		logger:      logger.RoomLogger,
	}
}

// Create mints a room with a fresh unguessable token.
func (reg *Registry) Create() *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var id string
	for {
		id = newToken()
		if _, exists := reg.rooms[id]; !exists {
			break
		}
	}

	r := NewRoom(id)
	reg.rooms[id] = r
	metrics.RoomsLive.Set(float64(len(reg.rooms)))
	reg.logger.Info("Room %s created", id)
	return r
}

func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is a process-level problem.
		panic(err)
	}
	return tokenEncoding.EncodeToString(buf)
}

// Get looks up a room by ID.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Remove deletes a room from the registry.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[id]; ok {
		delete(reg.rooms, id)
		metrics.RoomsLive.Set(float64(len(reg.rooms)))
		reg.logger.Info("Room %s released", id)
	}
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Collect deletes the room if it is collectable: non-battling and
// socketless. Called from the disconnect path.
func (reg *Registry) Collect(r *Room) {
	if r.Collectable() {
		reg.Remove(r.ID)
	}
}

// TrackMatch registers a roomless match with the idle sweep. AI matches
// have no room to carry them into the sweep, so their coordinator tracks
// them here.
func (reg *Registry) TrackMatch(m *match.Runner) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.matches[m.ID] = m
}

// UntrackMatch drops a match from the sweep. Called from the match close
// hook.
func (reg *Registry) UntrackMatch(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.matches, id)
}

// StartSweeper launches the background idle sweep: non-battling rooms
// idle past the threshold are collected, battling rooms whose match has
// had no bound sockets past the threshold get their match closed as idle
// (the match close hook releases the room), and tracked roomless matches
// get the same idle policy.
func (reg *Registry) StartSweeper(interval time.Duration) {
	reg.sweepStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.sweep(time.Now())
			case <-reg.sweepStop:
				return
			}
		}
	}()
	reg.logger.Info("Idle sweeper started: interval=%v timeout=%v", interval, reg.idleTimeout)
}

// StopSweeper stops the background sweep.
func (reg *Registry) StopSweeper() {
	if reg.sweepStop != nil {
		close(reg.sweepStop)
		reg.sweepStop = nil
	}
}

func (reg *Registry) sweep(now time.Time) {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	matches := make([]*match.Runner, 0, len(reg.matches))
	for _, m := range reg.matches {
		matches = append(matches, m)
	}
	reg.mu.RUnlock()

	for _, r := range rooms {
		if runner := r.Runner(); runner != nil {
			if runner.IdleSince(now) > reg.idleTimeout {
				reg.logger.Info("Room %s: match idle past %v, closing", r.ID, reg.idleTimeout)
				runner.Close(match.ReasonIdle)
			}
			continue
		}
		if r.Status() == protocol.StatusBattling {
			continue
		}
		if r.Collectable() {
			reg.Remove(r.ID)
			continue
		}
		if now.Sub(r.LastActivity()) > reg.idleTimeout {
			reg.logger.Info("Room %s: idle past %v, closing", r.ID, reg.idleTimeout)
			r.With(func() {
				r.BroadcastLocked(protocol.NewError("room closed: idle"))
				r.CloseSocketsLocked(websocket.CloseGoingAway, string(match.ReasonIdle))
			})
			reg.Remove(r.ID)
		}
	}

	for _, m := range matches {
		if m.Ended() {
			reg.UntrackMatch(m.ID)
			continue
		}
		if m.IdleSince(now) > reg.idleTimeout {
			reg.logger.Info("Match %s: abandoned past %v, closing", m.ID, reg.idleTimeout)
			m.Close(match.ReasonIdle)
		}
	}
}
