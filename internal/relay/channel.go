package relay

import (
	"sync"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
)

// streamSink is the long-poll/NDJSON side of a Channel: a single attached
// GET /api/stream response that frames can be written to as they arrive.
type streamSink interface {
	// writeFrame writes one frame as a newline-terminated JSON line. An
	// error means the stream is dead and should be detached.
	writeFrame(f frame.Frame) error
}

// Channel is the relay's per-role mailbox for one session: the currently
// connected socket (if any), a FIFO of frames waiting for that role to
// (re)connect, and any attached long-poll streams that may be written to.
type Channel struct {
	mu      sync.Mutex
	role    frame.Role
	socket  Socket
	queue   []frame.Frame
	streams []streamSink
	stats   connStats
}

// Stats returns a snapshot string of this channel's live/total socket
// counts, for connection logging.
func (c *Channel) Stats() string {
	return c.stats.String()
}

func newChannel(role frame.Role) *Channel {
	return &Channel{role: role}
}

// setSocket installs sock as the channel's live socket, closing and
// displacing any prior socket with a "replaced" reason, then drains the
// queue into the new socket.
func (c *Channel) setSocket(sock Socket) {
	c.stats.connected()
	c.mu.Lock()
	old := c.socket
	c.socket = sock
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	if old != nil {
		c.stats.disconnected()
		old.Close("replaced")
	}
	for _, f := range pending {
		sock.Send(f) //nolint:errcheck // best-effort; a failed send leaves state to the eventual disconnect handler
	}
}

// clearSocket removes sock as the channel's live socket iff it is still the
// currently installed one (guards against a stale disconnect racing a
// newer hello's setSocket).
func (c *Channel) clearSocket(sock Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == sock {
		c.socket = nil
		c.stats.disconnected()
	}
}

// attachStream adds sink to the channel's stream list after draining any
// queued frames into it, in FIFO order, so that a newly attached stream
// never misses frames that arrived while no role consumer was connected.
func (c *Channel) attachStream(sink streamSink) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.streams = append(c.streams, sink)
	c.mu.Unlock()

	for _, f := range pending {
		sink.writeFrame(f) //nolint:errcheck // a dead stream is detached on its own read loop's error path
	}
}

// detachStream removes sink from the channel's stream list.
func (c *Channel) detachStream(sink streamSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.streams {
		if s == sink {
			c.streams = append(c.streams[:i], c.streams[i+1:]...)
			return
		}
	}
}

// respond delivers f to this channel: first to the live socket, else to the
// first attached stream, else it is appended to the queue for whichever
// consumer (re)connects next.
func (c *Channel) respond(f frame.Frame) {
	c.mu.Lock()
	sock := c.socket
	if sock != nil {
		c.mu.Unlock()
		if err := sock.Send(f); err == nil {
			return
		}
		c.mu.Lock()
	}

	for len(c.streams) > 0 {
		sink := c.streams[0]
		c.mu.Unlock()
		err := sink.writeFrame(f)
		c.mu.Lock()
		if err == nil {
			c.mu.Unlock()
			return
		}
		// dead stream; drop it and try the next one
		for i, s := range c.streams {
			if s == sink {
				c.streams = append(c.streams[:i], c.streams[i+1:]...)
				break
			}
		}
	}

	c.queue = append(c.queue, f)
	c.mu.Unlock()
}
