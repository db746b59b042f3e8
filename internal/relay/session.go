package relay

import (
	"fmt"
	"sync"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
)

// Session is the relay's per-name state: two Channels (lan, proxy), and the
// id->originator maps used to route terminal frames back and to clean up
// on disconnect. Session state is created lazily on first hello or first
// frame bearing that session name, and is never deleted when one side
// disconnects -- the other side may reconnect later.
type Session struct {
	name string

	mu       sync.Mutex
	requests map[string]frame.Role
	tunnels  map[string]frame.Role

	lan   *Channel
	proxy *Channel
}

func newSession(name string) *Session {
	return &Session{
		name:     name,
		requests: make(map[string]frame.Role),
		tunnels:  make(map[string]frame.Role),
		lan:      newChannel(frame.RoleLAN),
		proxy:    newChannel(frame.RoleProxy),
	}
}

func (s *Session) channel(role frame.Role) *Channel {
	if role == frame.RoleLAN {
		return s.lan
	}
	return s.proxy
}

func otherRole(role frame.Role) frame.Role {
	if role == frame.RoleLAN {
		return frame.RoleProxy
	}
	return frame.RoleLAN
}

// route demultiplexes a frame received from source and forwards or
// terminates it per the routing table. Unknown frame types produce an
// error frame back to the sender and are never forwarded.
func (s *Session) route(source frame.Role, f frame.Frame) {
	if source == frame.RoleProxy {
		s.routeFromProxy(f)
	} else {
		s.routeFromLAN(f)
	}
}

func (s *Session) routeFromProxy(f frame.Frame) {
	switch f.Type {
	case frame.TypeHTTPRequest:
		s.mu.Lock()
		s.requests[f.ID] = frame.RoleProxy
		s.mu.Unlock()
		s.lan.respond(f)
	case frame.TypeConnectStart:
		s.mu.Lock()
		s.tunnels[f.ID] = frame.RoleProxy
		s.mu.Unlock()
		s.lan.respond(f)
	case frame.TypeConnectData, frame.TypeConnectEnd:
		s.lan.respond(f)
	default:
		s.proxy.respond(frame.NewError(fmt.Sprintf("unknown or misdirected frame type from proxy: %s", f.Type)))
	}
}

func (s *Session) routeFromLAN(f frame.Frame) {
	switch f.Type {
	case frame.TypeHTTPResponse:
		s.mu.Lock()
		origin, ok := s.requests[f.ID]
		delete(s.requests, f.ID)
		s.mu.Unlock()
		if ok && origin == frame.RoleProxy {
			s.proxy.respond(f)
		}
	case frame.TypeConnectAck, frame.TypeConnectData:
		s.mu.Lock()
		origin, ok := s.tunnels[f.ID]
		s.mu.Unlock()
		if ok {
			s.channel(origin).respond(f)
		}
	case frame.TypeConnectError, frame.TypeConnectEnd:
		s.mu.Lock()
		origin, ok := s.tunnels[f.ID]
		delete(s.tunnels, f.ID)
		s.mu.Unlock()
		if ok {
			s.channel(origin).respond(f)
		}
	default:
		s.lan.respond(frame.NewError(fmt.Sprintf("unknown or misdirected frame type from lan: %s", f.Type)))
	}
}

// onLANDisconnect synthesizes terminal frames for every outstanding
// proxy-originated id and clears both maps, per spec: the LAN agent is gone
// so nothing will ever answer these.
func (s *Session) onLANDisconnect() {
	s.mu.Lock()
	requests := s.requests
	tunnels := s.tunnels
	s.requests = make(map[string]frame.Role)
	s.tunnels = make(map[string]frame.Role)
	s.mu.Unlock()

	for id := range requests {
		s.proxy.respond(frame.Frame{Type: frame.TypeHTTPResponse, ID: id, Error: "LAN disconnected"})
	}
	for id := range tunnels {
		s.proxy.respond(frame.Frame{Type: frame.TypeConnectError, ID: id, Message: "LAN disconnected"})
	}
}

// onProxyDisconnect removes the disconnected proxy's outstanding requests
// (they can never be satisfied without a response channel to use), and
// tells the LAN agent to close the target socket for every tunnel the
// proxy owned.
func (s *Session) onProxyDisconnect() {
	s.mu.Lock()
	tunnels := s.tunnels
	s.requests = make(map[string]frame.Role)
	s.tunnels = make(map[string]frame.Role)
	s.mu.Unlock()

	for id := range tunnels {
		s.lan.respond(frame.Frame{Type: frame.TypeConnectEnd, ID: id})
	}
}
