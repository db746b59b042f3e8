package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// wsSocket adapts a gorilla *websocket.Conn to the relay's Socket
// interface, and tracks pong liveness for the heartbeat.
type wsSocket struct {
	conn   *websocket.Conn
	logger *rlog.Logger

	writeMu sync.Mutex

	alive int32 // set by pong handler, cleared and checked by ping()
}

func newWSSocket(conn *websocket.Conn, logger *rlog.Logger) *wsSocket {
	s := &wsSocket{conn: conn, logger: logger}
	atomic.StoreInt32(&s.alive, 1)
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&s.alive, 1)
		return nil
	})
	return s
}

// Send writes a single frame as one websocket text message.
func (s *wsSocket) Send(f frame.Frame) error {
	data, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// recv blocks for the next inbound frame.
func (s *wsSocket) recv() (frame.Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Unmarshal(data)
}

// Close implements Socket: it closes the underlying connection, logging
// reason for operators correlating a displaced-socket event.
func (s *wsSocket) Close(reason string) error {
	s.logger.DLogf("closing websocket: %s", reason)
	return s.conn.Close()
}

func (s *wsSocket) rawClose() error {
	return s.conn.Close()
}

// ping sends a ping frame and reports whether the socket answered the
// previous interval's ping. It clears the alive flag so the next call
// reflects only activity since this ping.
func (s *wsSocket) ping() bool {
	wasAlive := atomic.SwapInt32(&s.alive, 0) == 1
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
	s.writeMu.Unlock()
	return wasAlive && err == nil
}
