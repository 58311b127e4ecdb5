package network

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"battlegate/internal/ai"
	"battlegate/internal/match"
	"battlegate/internal/metrics"
	"battlegate/internal/room"
	"battlegate/internal/sim"
	"battlegate/pkg/config"
	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// ErrNoMatch is returned to a choose envelope sent outside a battle.
var ErrNoMatch = errors.New("no active battle")

// Binding records what a live connection is attached to. A connection has
// at most one binding; the side is fixed for the binding's life even though
// the runner's socket for that side may later be replaced by a reconnect.
type Binding struct {
	Room   *room.Room
	Runner *match.Runner
	Side   protocol.Side
}

// Controller accepts websocket connections, speaks the envelope protocol
// with them, and routes match traffic through the coordinators. It owns the
// connection-to-binding map; rooms and runners never hold a reverse pointer
// to a connection.
type Controller struct {
	cfg      *config.Config
	adapter  *sim.Adapter
	registry *room.Registry
	pvp      *PvPCoordinator
	ai       *AICoordinator
	upgrader websocket.Upgrader

	mu       sync.Mutex
	bindings map[match.Socket]*Binding

	logger *logger.ColoredLogger
}

// NewController wires the controller and both coordinators. onMatchClose is
// invoked for every finished match, after the room has been released.
func NewController(cfg *config.Config, adapter *sim.Adapter, registry *room.Registry, onMatchClose match.CloseHook) *Controller {
	c := &Controller{
		cfg:      cfg,
		adapter:  adapter,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bindings: make(map[match.Socket]*Binding),
		logger:   logger.ConnLogger,
	}
	c.pvp = &PvPCoordinator{controller: c, onClose: onMatchClose}
	c.ai = &AICoordinator{controller: c, onClose: onMatchClose}

	if cfg.AI.LLMAPIKey != "" {
		c.ai.LLM = ai.NewLLMClient(cfg.AI.LLMEndpoint, cfg.AI.LLMModel, cfg.AI.LLMAPIKey, cfg.AI.LLMTimeout)
		c.logger.Info("LLM opponent tier enabled: model=%s", cfg.AI.LLMModel)
	}
	if cfg.AI.KnowledgeBaseCmd != "" {
		kb, err := ai.StartKnowledgeBase(cfg.AI.KnowledgeBaseCmd)
		if err != nil {
			c.logger.Warn("Knowledge base unavailable: %v", err)
		} else {
			c.ai.KB = kb
		}
	}
	return c
}

// Shutdown releases long-lived collaborators.
func (c *Controller) Shutdown() {
	if c.ai.KB != nil {
		c.ai.KB.Close()
	}
}

// HandleWebSocket upgrades the request and runs the connection's read loop
// until the socket dies.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error("Upgrade failed: %v", err)
		return
	}

	conn := NewConn(ws, c.cfg.WebSocket.PingInterval, c.cfg.WebSocket.WriteTimeout)
	metrics.ConnectionsOpen.Inc()
	c.logger.Info("Connection %s accepted from %s", conn.ID, r.RemoteAddr)

	conn.SendRaw(protocol.StatusConnected)
	c.readLoop(conn)

	c.handleDisconnect(conn)
	conn.CloseWith(websocket.CloseNormalClosure, "")
	metrics.ConnectionsOpen.Dec()
	c.logger.Info("Connection %s closed", conn.ID)
}

// readLoop reads envelopes until the connection errors out. The read
// deadline is three ping intervals; each pong pushes it forward.
func (c *Controller) readLoop(conn *Conn) {
	readTimeout := c.cfg.WebSocket.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 3 * c.cfg.WebSocket.PingInterval
	}

	conn.ws.SetReadLimit(c.cfg.WebSocket.MaxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				conn.CloseWith(websocket.CloseGoingAway, "heartbeat timeout")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Connection %s: read error: %v", conn.ID, err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.dispatch(conn, data)
	}
}

// dispatch routes one inbound frame. Malformed JSON and unknown envelope
// types are logged and dropped without a reply; the connection survives.
func (c *Controller) dispatch(conn *Conn, data []byte) {
	env, err := protocol.DeserializeEnvelope(data)
	if err != nil {
		c.logger.Warn("Connection %s: unparseable frame dropped: %v", conn.ID, err)
		return
	}
	metrics.EnvelopesReceived.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeCreateRoom:
		c.handleCreateRoom(conn)
	case protocol.TypeJoinRoom:
		c.handleJoinRoom(conn, env.Payload)
	case protocol.TypeStart:
		c.handleStart(conn, env.Payload)
	case protocol.TypeChoose:
		c.handleChoose(conn, env.Payload)
	default:
		c.logger.Warn("Connection %s: unknown envelope type %q dropped", conn.ID, env.Type)
	}
}

func (c *Controller) handleCreateRoom(conn *Conn) {
	if c.cfg.Match.MaxConcurrentRooms > 0 && c.registry.Count() >= c.cfg.Match.MaxConcurrentRooms {
		conn.SendEnvelope(protocol.NewError("room capacity reached"))
		return
	}
	r := c.registry.Create()
	r.With(func() {
		if _, err := r.JoinLocked(conn); err != nil {
			conn.SendEnvelope(protocol.NewError(err.Error()))
			return
		}
		c.setBinding(conn, &Binding{Room: r, Side: protocol.SideP1})
		conn.SendEnvelope(protocol.NewEnvelope(protocol.TypeRoomCreated, protocol.RoomCreatedPayload{RoomID: r.ID}))
		r.BroadcastStateLocked()
	})
}

func (c *Controller) handleJoinRoom(conn *Conn, payload interface{}) {
	var p protocol.JoinRoomPayload
	if err := protocol.DecodePayload(payload, &p); err != nil || p.RoomID == "" {
		conn.SendEnvelope(protocol.NewError("join-room requires a roomID"))
		return
	}
	r, ok := c.registry.Get(p.RoomID)
	if !ok {
		conn.SendEnvelope(protocol.NewError(room.ErrRoomNotFound.Error()))
		return
	}
	r.With(func() {
		if r.StatusLocked() == protocol.StatusBattling {
			conn.SendEnvelope(protocol.NewError("room is already battling, reconnect with start"))
			return
		}
		side, err := r.JoinLocked(conn)
		if err != nil {
			conn.SendEnvelope(protocol.NewError(err.Error()))
			return
		}
		c.setBinding(conn, &Binding{Room: r, Side: side})
		r.BroadcastStateLocked()
	})
}

func (c *Controller) handleStart(conn *Conn, payload interface{}) {
	var p protocol.StartPayload
	if err := protocol.DecodePayload(payload, &p); err != nil {
		conn.SendEnvelope(protocol.NewError("malformed start payload"))
		return
	}
	switch p.Mode {
	case protocol.ModeAI:
		c.ai.HandleStart(conn, &p)
	case protocol.ModePvP:
		c.pvp.HandleStart(conn, &p)
	default:
		conn.SendEnvelope(protocol.NewError("start requires mode \"ai\" or \"pvp\""))
	}
}

func (c *Controller) handleChoose(conn *Conn, payload interface{}) {
	var p protocol.ChoosePayload
	if err := protocol.DecodePayload(payload, &p); err != nil {
		conn.SendEnvelope(protocol.NewError("malformed choose payload"))
		return
	}
	b, ok := c.binding(conn)
	if !ok || b.Runner == nil {
		conn.SendEnvelope(protocol.NewError(ErrNoMatch.Error()))
		return
	}
	if err := b.Runner.ForwardChoice(b.Side, p.Command); err != nil {
		conn.SendEnvelope(protocol.NewError(err.Error()))
	}
}

// handleDisconnect applies the disconnect policy: during a battle the side
// is merely unbound and the match keeps running; before a battle the socket
// leaves the room, which may become collectable.
func (c *Controller) handleDisconnect(conn *Conn) {
	b := c.takeBinding(conn)
	if b == nil {
		return
	}

	if b.Runner != nil && !b.Runner.Ended() {
		b.Runner.Unbind(b.Side, conn)
		if b.Room != nil {
			b.Room.With(func() {
				// A socket replaced by a reconnect no longer holds its room
				// slot; only a genuine departure notifies the opponent.
				if _, removed, _ := b.Room.RemoveSocketLocked(conn); !removed {
					return
				}
				if other := b.Room.SocketLocked(b.Side.Opponent()); other != nil {
					other.SendEnvelope(protocol.NewEnvelope(protocol.TypeOpponentDisconnected,
						protocol.OpponentDisconnectedPayload{Side: b.Side}))
				}
			})
		}
		return
	}

	if b.Room != nil {
		b.Room.With(func() {
			_, removed, remaining := b.Room.RemoveSocketLocked(conn)
			if !removed || !remaining {
				return
			}
			if other := b.Room.SocketLocked(b.Side.Opponent()); other != nil {
				other.SendEnvelope(protocol.NewEnvelope(protocol.TypeOpponentDisconnected,
					protocol.OpponentDisconnectedPayload{Side: b.Side}))
			}
			b.Room.BroadcastStateLocked()
		})
		c.registry.Collect(b.Room)
	}
}

func (c *Controller) setBinding(s match.Socket, b *Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[s] = b
}

// binding returns a copy so callers never read fields that attachRunner
// may be writing.
func (c *Controller) binding(s match.Socket) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[s]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

func (c *Controller) takeBinding(s match.Socket) *Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.bindings[s]
	delete(c.bindings, s)
	return b
}

// attachRunner stamps the runner onto the binding of every socket bound to
// the room at start time.
func (c *Controller) attachRunner(sockets []match.Socket, runner *match.Runner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sockets {
		if b := c.bindings[s]; b != nil {
			b.Runner = runner
		}
	}
}
