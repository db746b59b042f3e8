package localproxy

import (
	"fmt"
	"net"
	"sync"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/netutil"
)

// Tunnel is the local-proxy side bookkeeping for one CONNECT, per spec:
// client bytes that arrive before connect-ack are held in a pre-ack queue
// (head bytes first, then the queue, in arrival order) and flushed once the
// LAN side acknowledges the tunnel.
type Tunnel struct {
	id   string
	conn net.Conn
	send func(frame.Frame) error

	mu          sync.Mutex
	acked       bool
	closed      bool
	head        []byte
	preAckQueue [][]byte
}

func newTunnel(id string, conn net.Conn, send func(frame.Frame) error, head []byte) *Tunnel {
	return &Tunnel{id: id, conn: conn, send: send, head: head}
}

// onClientBytes is called for every chunk read from the client socket. Before
// ack the bytes are queued; after ack they are forwarded immediately as
// connect-data.
func (t *Tunnel) onClientBytes(b []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if !t.acked {
		cp := append([]byte(nil), b...)
		t.preAckQueue = append(t.preAckQueue, cp)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.send(frame.Frame{Type: frame.TypeConnectData, ID: t.id, DataBase64: frame.EncodeBody(b)})
}

// onAck writes the CONNECT status line, then flushes head and the pre-ack
// queue, in that pinned order, and flips the tunnel into the "acked" state
// where subsequent client bytes are forwarded directly.
func (t *Tunnel) onAck() error {
	t.mu.Lock()
	if t.acked || t.closed {
		t.mu.Unlock()
		return nil
	}
	head := t.head
	t.head = nil
	t.mu.Unlock()

	if _, err := t.conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return err
	}

	if len(head) > 0 {
		if err := t.send(frame.Frame{Type: frame.TypeConnectData, ID: t.id, DataBase64: frame.EncodeBody(head)}); err != nil {
			return err
		}
	}
	// acked flips only once the queue is empty, so bytes read meanwhile are
	// queued behind the ones being flushed instead of overtaking them.
	for {
		t.mu.Lock()
		queue := t.preAckQueue
		t.preAckQueue = nil
		if len(queue) == 0 {
			t.acked = true
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		for _, b := range queue {
			if err := t.send(frame.Frame{Type: frame.TypeConnectData, ID: t.id, DataBase64: frame.EncodeBody(b)}); err != nil {
				return err
			}
		}
	}
}

// onRemoteData writes inbound connect-data bytes to the client socket.
func (t *Tunnel) onRemoteData(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

// onRemoteError writes the one-shot 502 response and closes the socket.
func (t *Tunnel) onRemoteError(message string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	body := fmt.Sprintf("Bad Gateway: %s", message)
	fmt.Fprintf(t.conn, "HTTP/1.1 502 Bad Gateway\r\nContent-Length: %d\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n%s", len(body), body)
	t.conn.Close()
}

// onRemoteEnd half-closes the client socket's write side: the browser may
// still have bytes in flight the other way until it closes its own end.
func (t *Tunnel) onRemoteEnd() {
	t.mu.Lock()
	already := t.closed
	t.mu.Unlock()
	if already {
		return
	}
	netutil.HalfCloseOrClose(t.conn)
}

func (t *Tunnel) closeLocally() {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.mu.Unlock()
	if !already {
		t.conn.Close()
	}
}
