package match

import (
	"sync"

	"battlegate/pkg/protocol"
)

// Stream identifies one of the three simulator output sub-streams.
type Stream int

const (
	StreamOmniscient Stream = iota
	StreamP1
	StreamP2
)

func (s Stream) String() string {
	switch s {
	case StreamOmniscient:
		return "omniscient"
	case StreamP1:
		return "p1"
	case StreamP2:
		return "p2"
	default:
		return "unknown"
	}
}

// ProtocolCache is the per-match append-only record of every protocol line
// emitted on each sub-stream. The global interleaving across streams is not
// preserved; replay ordering is public-then-private.
type ProtocolCache struct {
	mu         sync.Mutex
	omniscient [][]byte
	p1         [][]byte
	p2         [][]byte
}

// NewProtocolCache creates an empty cache.
func NewProtocolCache() *ProtocolCache {
	return &ProtocolCache{}
}

// Record appends one raw line (byte-exact, terminator included) to a
// sub-stream's sequence.
func (c *ProtocolCache) Record(stream Stream, line []byte) {
	cp := make([]byte, len(line))
	copy(cp, line)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch stream {
	case StreamOmniscient:
		c.omniscient = append(c.omniscient, cp)
	case StreamP1:
		c.p1 = append(c.p1, cp)
	case StreamP2:
		c.p2 = append(c.p2, cp)
	}
}

// Replay returns all omniscient lines in insertion order followed by the
// side's private lines in insertion order. The result is a consistent
// snapshot: the slice headers are copied under the lock and iterated after
// release, so a concurrent Record never tears it.
func (c *ProtocolCache) Replay(side protocol.Side) [][]byte {
	c.mu.Lock()
	public := c.omniscient
	private := c.p1
	if side == protocol.SideP2 {
		private = c.p2
	}
	c.mu.Unlock()

	out := make([][]byte, 0, len(public)+len(private))
	out = append(out, public...)
	out = append(out, private...)
	return out
}

// Len returns the total number of cached lines across all streams.
func (c *ProtocolCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.omniscient) + len(c.p1) + len(c.p2)
}

// StreamLen returns the number of cached lines on one stream.
func (c *ProtocolCache) StreamLen(stream Stream) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch stream {
	case StreamOmniscient:
		return len(c.omniscient)
	case StreamP1:
		return len(c.p1)
	case StreamP2:
		return len(c.p2)
	}
	return 0
}
