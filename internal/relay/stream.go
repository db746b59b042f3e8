package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
)

// ndjsonStream is the streamSink implementation backing a GET /api/stream
// connection: each attempted write appends one JSON line and flushes it.
type ndjsonStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	dead    bool
}

func (s *ndjsonStream) writeFrame(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return errStreamDead
	}
	data, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.dead = true
		return err
	}
	s.flusher.Flush()
	return nil
}

var errStreamDead = &streamError{"stream closed"}

type streamError struct{ msg string }

func (e *streamError) Error() string { return e.msg }

// pathSession extracts the session name from a request path of the form
// "/api/{stream,send}/<session>", canonicalizing on the last path segment
// as pinned by the spec.
func pathSession(prefix, path string) string {
	rest := strings.TrimPrefix(path, prefix)
	return canonicalSessionName(rest)
}

func roleFromQuery(req *http.Request) (frame.Role, bool) {
	role := frame.Role(req.URL.Query().Get("role"))
	return role, role.Valid()
}

// handleStream services GET /api/stream/<session>?role={lan,proxy}: it
// attaches a new NDJSON sink to the channel (draining any queued frames
// first) and blocks, writing one frame per line, until the client
// disconnects.
func (r *Relay) handleStream(w http.ResponseWriter, req *http.Request) {
	sessionName := pathSession("/api/stream/", req.URL.Path)
	role, ok := roleFromQuery(req)
	if sessionName == "" || !ok {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &ndjsonStream{w: w, flusher: flusher}
	session := r.sessionFor(sessionName)
	ch := session.channel(role)
	ch.attachStream(sink)
	defer ch.detachStream(sink)

	<-req.Context().Done()
}

// sendRequestBody is the JSON body accepted by POST /api/send/<session>.
// message may be a single frame object or an array of frames.
type sendRequestBody struct {
	Role    frame.Role      `json:"role"`
	Message json.RawMessage `json:"message"`
}

// handleSend services POST /api/send/<session>?role={lan,proxy}: it routes
// each frame in the body (a single frame, or an array of frames) as if it
// had arrived over a persistent socket from that role. An invalid role,
// session, body or message gets a 400; otherwise the response is 200 {} --
// delivery is best-effort, matching the long-poll transport's retry-forever
// semantics on the client side.
func (r *Relay) handleSend(w http.ResponseWriter, req *http.Request) {
	sessionName := pathSession("/api/send/", req.URL.Path)
	queryRole, queryOK := roleFromQuery(req)
	if sessionName == "" || !queryOK {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	var body sendRequestBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	role := queryRole
	if body.Role.Valid() {
		role = body.Role
	}

	frames, err := decodeFrameOrFrames(body.Message)
	if err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	session := r.sessionFor(sessionName)
	for _, f := range frames {
		r.routeHTTPFrame(session, role, f)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

// routeHTTPFrame handles one frame arriving over the long-poll transport.
// A hello is handshaked the same way a websocket hello is, except there is
// no live socket to install -- the channel is driven purely by attached
// streams and the queue.
func (r *Relay) routeHTTPFrame(session *Session, role frame.Role, f frame.Frame) {
	if f.Type == frame.TypeHello {
		if f.ProtocolVersion != 0 && f.ProtocolVersion != ProtocolVersion {
			session.channel(role).respond(frame.NewError("protocol version mismatch"))
			return
		}
		session.channel(role).respond(frame.Frame{
			Type:            frame.TypeHelloAck,
			Role:            role,
			Session:         session.name,
			ProtocolVersion: ProtocolVersion,
		})
		return
	}
	session.route(role, f)
}

func decodeFrameOrFrames(raw json.RawMessage) ([]frame.Frame, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var frames []frame.Frame
		if err := json.Unmarshal(raw, &frames); err != nil {
			return nil, err
		}
		return frames, nil
	}
	var f frame.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return []frame.Frame{f}, nil
}
