package network

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// sendQueueSize must absorb a full match replay in one burst.
const sendQueueSize = 1024

// Conn wraps one accepted websocket: a connection ID stable for the
// socket's life, a buffered outbound queue drained by a write pump, and
// the ping heartbeat. Sockets stay pure transports; match bindings live in
// the controller.
type Conn struct {
	ID string

	ws           *websocket.Conn
	sendQueue    chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	closeOnce   sync.Once
	done        chan struct{}

	logger *logger.ColoredLogger
}

// NewConn mints a ConnectionID for an accepted websocket and starts its
// write pump.
func NewConn(ws *websocket.Conn, pingInterval, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ID:           uuid.New().String(),
		ws:           ws,
		sendQueue:    make(chan []byte, sendQueueSize),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
		logger:       logger.ConnLogger,
	}
	go c.writePump()
	return c
}

// SendLine delivers one raw simulator protocol line as a text frame. The
// stream terminator is dropped; framing carries the boundary.
func (c *Conn) SendLine(line []byte) error {
	return c.enqueue(bytes.TrimRight(line, "\n"))
}

// SendEnvelope delivers one JSON control envelope as a text frame.
func (c *Conn) SendEnvelope(env *protocol.Envelope) error {
	data, err := protocol.SerializeEnvelope(env)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// SendRaw delivers a preformatted text frame.
func (c *Conn) SendRaw(data string) error {
	return c.enqueue([]byte(data))
}

func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	c.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case c.sendQueue <- cp:
		return nil
	default:
	}

	// Queue full: a replay burst can outpace the write pump. Block for up
	// to one write deadline rather than dropping the frame.
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.sendQueue <- cp:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	case <-timer.C:
		return errors.New("send queue full")
	}
}

// Open reports whether the connection can still deliver frames.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// CloseWith marks the connection closed and hands the code and reason to
// the write pump, which flushes every already-queued frame before the
// close frame goes out. Safe to call more than once.
func (c *Conn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// abort tears the socket down without a close frame, for a transport that
// already failed.
func (c *Conn) abort() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	c.ws.Close()
}

// writePump is the sole writer on the websocket: it drains the send queue,
// keeps the heartbeat going, and performs the closing handshake.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendQueue:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Connection %s: write failed: %v", c.ID, err)
				c.abort()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		case <-c.done:
			c.drainAndClose()
			return
		}
	}
}

// drainAndClose flushes whatever was queued before CloseWith, then writes
// the close frame.
func (c *Conn) drainAndClose() {
	for {
		select {
		case data := <-c.sendQueue:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.ws.Close()
				return
			}
		default:
			c.mu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			c.ws.Close()
			return
		}
	}
}
