// Package relay implements the session multiplexer described in wstunnel's
// core spec: it accepts role-tagged connections for named sessions and
// forwards frames between the "lan" and "proxy" side of each one.
package relay

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// ProtocolVersion is the integer both sides must agree on during hello.
const ProtocolVersion = 1

// HeartbeatInterval is the reference ping interval; a socket that misses
// the next interval's pong is terminated.
const HeartbeatInterval = 30 * time.Second

// Config configures a Relay.
type Config struct {
	// Homepage, if set, is the URL non-API requests 302-redirect to.
	Homepage string
	Debug    bool
}

// Relay routes frames between the lan and proxy sides of named sessions. It
// is also the relay's HTTP server: health check, websocket upgrade, and the
// long-poll/NDJSON fallback all live on one mux.
type Relay struct {
	logger   *rlog.Logger
	homepage string

	mu       sync.Mutex
	sessions map[string]*Session

	upgrader websocket.Upgrader

	sockets   map[*wsSocket]struct{}
	socketsMu sync.Mutex
}

// New creates a Relay ready to be handed to http.Server.
func New(cfg Config) *Relay {
	level := rlog.LevelInfo
	if cfg.Debug {
		level = rlog.LevelDebug
	}
	return &Relay{
		logger:   rlog.New("relay", level),
		homepage: cfg.Homepage,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sockets: make(map[*wsSocket]struct{}),
	}
}

// sessionFor returns the Session for name, creating it lazily on first use.
func (r *Relay) sessionFor(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		s = newSession(name)
		r.sessions[name] = s
	}
	return s
}

// canonicalSessionName picks the last non-empty segment of a URL path, per
// the pinned canonicalization rule: some historical clients send the whole
// path as the session name, others only the final segment, so the relay
// always treats the final segment as authoritative.
func canonicalSessionName(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			if unescaped, err := url.PathUnescape(segments[i]); err == nil {
				return unescaped
			}
			return segments[i]
		}
	}
	return ""
}

// ServeHTTP implements http.Handler over the relay's entire surface:
// /health, /api/stream/<session>, /api/send/<session>, 404 for other /api/
// paths, the websocket upgrade for any other request carrying
// "Upgrade: websocket", and otherwise a redirect to the homepage or 404.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/health":
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	case strings.HasPrefix(req.URL.Path, "/api/stream/"):
		r.handleStream(w, req)
	case strings.HasPrefix(req.URL.Path, "/api/send/"):
		r.handleSend(w, req)
	case strings.HasPrefix(req.URL.Path, "/api/"):
		http.NotFound(w, req)
	case strings.EqualFold(req.Header.Get("Upgrade"), "websocket"):
		r.handleWebsocket(w, req)
	default:
		if r.homepage != "" {
			http.Redirect(w, req, r.homepage, http.StatusFound)
			return
		}
		http.NotFound(w, req)
	}
}

// handleWebsocket upgrades the connection, performs the hello handshake,
// and then services the socket until it disconnects.
func (r *Relay) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.DLogf("websocket upgrade failed: %s", err)
		return
	}

	sock := newWSSocket(conn, r.logger)
	r.trackSocket(sock)
	defer r.untrackSocket(sock)
	defer sock.rawClose()

	f, err := sock.recv()
	if err != nil {
		r.logger.DLogf("failed to read hello: %s", err)
		return
	}
	if f.Type != frame.TypeHello {
		sock.Send(frame.NewError("expected hello as first frame"))
		return
	}
	if !f.Role.Valid() {
		sock.Send(frame.NewError("hello: role must be lan or proxy"))
		return
	}
	if f.ProtocolVersion != 0 && f.ProtocolVersion != ProtocolVersion {
		sock.Send(frame.NewError("protocol version mismatch"))
		return
	}
	if f.Session == "" {
		sock.Send(frame.NewError("hello: session is required"))
		return
	}

	session := r.sessionFor(canonicalSessionName(f.Session))
	ch := session.channel(f.Role)
	ch.setSocket(sock)
	sock.Send(frame.Frame{
		Type:            frame.TypeHelloAck,
		Role:            f.Role,
		Session:         f.Session,
		ProtocolVersion: ProtocolVersion,
	})

	r.logger.ILogf("session %q: %s connected %s", f.Session, f.Role, ch.Stats())

	for {
		msg, err := sock.recv()
		if err != nil {
			break
		}
		session.route(f.Role, msg)
	}

	ch.clearSocket(sock)
	r.logger.ILogf("session %q: %s disconnected %s", f.Session, f.Role, ch.Stats())
	if f.Role == frame.RoleLAN {
		session.onLANDisconnect()
	} else {
		session.onProxyDisconnect()
	}
}

func (r *Relay) trackSocket(s *wsSocket) {
	r.socketsMu.Lock()
	r.sockets[s] = struct{}{}
	r.socketsMu.Unlock()
}

func (r *Relay) untrackSocket(s *wsSocket) {
	r.socketsMu.Lock()
	delete(r.sockets, s)
	r.socketsMu.Unlock()
}

// RunHeartbeat pings every live socket at HeartbeatInterval and terminates
// any that missed the previous interval's pong. It is the only background
// timer the relay runs, and it only ever reads sockets' liveness flags --
// it never touches session maps.
func (r *Relay) RunHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.socketsMu.Lock()
			sockets := make([]*wsSocket, 0, len(r.sockets))
			for s := range r.sockets {
				sockets = append(sockets, s)
			}
			r.socketsMu.Unlock()

			for _, s := range sockets {
				if !s.ping() {
					s.rawClose()
				}
			}
		}
	}
}
