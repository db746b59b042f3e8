// Package localproxy implements the browser-facing HTTP/1.1 proxy: it
// terminates absolute-form requests and CONNECT tunnels, assigns each an id,
// forwards a frame to the relay, and splices the response or raw tunnel
// bytes back to the client socket.
package localproxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/requestlog"
	"github.com/jpillora/sizestr"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
	"github.com/sammck-go/wstunnel-relay/internal/transport"
)

// RequestTimeout is the reference 30s per-request timer.
const RequestTimeout = 30 * time.Second

// Proxy is the local proxy's HTTP server plus its half of the frame
// protocol: it owns the pending-request and tunnel tables for this role.
type Proxy struct {
	rlog.ShutdownHelper

	mu             sync.Mutex
	tport          transport.Transport
	requests       map[string]*PendingRequest
	tunnels        map[string]*Tunnel
	requestTimeout time.Duration

	httpHandler http.Handler
}

// New creates a Proxy bound to an already-dialed Transport.
func New(logger *rlog.Logger, tport transport.Transport) *Proxy {
	p := &Proxy{
		tport:          tport,
		requests:       make(map[string]*PendingRequest),
		tunnels:        make(map[string]*Tunnel),
		requestTimeout: RequestTimeout,
	}
	p.ShutdownHelper.Init(logger, p)

	h := http.Handler(http.HandlerFunc(p.ServeHTTP))
	if logger.GetLevel() >= rlog.LevelDebug {
		h = requestlog.Wrap(h)
	}
	p.httpHandler = h
	return p
}

// Handler returns the http.Handler to hand to an http.Server.
func (p *Proxy) Handler() http.Handler {
	return p.httpHandler
}

// HandleOnceShutdown closes the transport, failing every outstanding
// request and ending every tunnel, per the disconnect-cleanup rule.
func (p *Proxy) HandleOnceShutdown(completionErr error) error {
	p.failAllRequests("Server connection closed")
	p.endAllTunnels()
	if err := p.tport.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Run consumes frames from the transport until it is closed or errors,
// dispatching each to its pending request or tunnel, then starts shutdown.
func (p *Proxy) Run() {
	for {
		f, err := p.tport.Recv()
		if err != nil {
			p.ILogf("transport closed: %s", err)
			p.StartShutdown(err)
			return
		}
		p.dispatch(f)
	}
}

func (p *Proxy) dispatch(f frame.Frame) {
	switch f.Type {
	case frame.TypeHTTPResponse:
		p.mu.Lock()
		pr, ok := p.requests[f.ID]
		if ok {
			delete(p.requests, f.ID)
		}
		p.mu.Unlock()
		if ok {
			pr.deliver(f)
		}
	case frame.TypeConnectAck:
		p.withTunnel(f.ID, func(t *Tunnel) { t.onAck() })
	case frame.TypeConnectData:
		data, err := frame.DecodeBody(f.DataBase64)
		if err != nil {
			p.WLogf("connect-data: bad payload for %s: %s", f.ID, err)
			return
		}
		p.withTunnel(f.ID, func(t *Tunnel) { t.onRemoteData(data) })
	case frame.TypeConnectError:
		p.removeTunnel(f.ID, func(t *Tunnel) { t.onRemoteError(f.Message) })
	case frame.TypeConnectEnd:
		p.removeTunnel(f.ID, func(t *Tunnel) { t.onRemoteEnd() })
	case frame.TypeError:
		p.ELogf("protocol error from relay: %s", f.Message)
	default:
		p.WLogf("unexpected frame type from relay: %s", f.Type)
	}
}

func (p *Proxy) withTunnel(id string, fn func(*Tunnel)) {
	p.mu.Lock()
	t, ok := p.tunnels[id]
	p.mu.Unlock()
	if ok {
		fn(t)
	}
}

func (p *Proxy) removeTunnel(id string, fn func(*Tunnel)) {
	p.mu.Lock()
	t, ok := p.tunnels[id]
	if ok {
		delete(p.tunnels, id)
	}
	p.mu.Unlock()
	if ok {
		fn(t)
	}
}

func (p *Proxy) failAllRequests(reason string) {
	p.mu.Lock()
	reqs := p.requests
	p.requests = make(map[string]*PendingRequest)
	p.mu.Unlock()
	for _, pr := range reqs {
		pr.deliver(frame.Frame{Type: frame.TypeHTTPResponse, ID: pr.id, Error: reason})
	}
}

func (p *Proxy) endAllTunnels() {
	p.mu.Lock()
	tunnels := p.tunnels
	p.tunnels = make(map[string]*Tunnel)
	p.mu.Unlock()
	for _, t := range tunnels {
		t.closeLocally()
	}
}

// ServeHTTP implements the HTTP/1.1 proxy surface: CONNECT tunneling and
// absolute-form requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if p.IsStartedShutdown() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	targetURL := r.URL.String()
	if !r.URL.IsAbs() {
		if r.Host == "" {
			http.Error(w, "Bad Request: missing Host", http.StatusBadRequest)
			return
		}
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request: failed to read body", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	pending := newPendingRequest(id)
	p.mu.Lock()
	p.requests[id] = pending
	p.mu.Unlock()

	err = p.tport.Send(frame.Frame{
		Type: frame.TypeHTTPRequest,
		ID:   id,
		Request: &frame.HTTPRequestPayload{
			Method:     r.Method,
			URL:        targetURL,
			Headers:    frame.HeadersToMap(frame.SanitizeHeaders(r.Header)),
			BodyBase64: frame.EncodeBody(body),
		},
	})
	if err != nil {
		p.mu.Lock()
		delete(p.requests, id)
		p.mu.Unlock()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case resp := <-pending.result:
		p.writeHTTPResponse(w, resp, id)
	case <-time.After(p.requestTimeout):
		p.mu.Lock()
		delete(p.requests, id)
		p.mu.Unlock()
		http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
	}
}

func (p *Proxy) writeHTTPResponse(w http.ResponseWriter, resp frame.Frame, id string) {
	if resp.Error != "" {
		http.Error(w, resp.Error, http.StatusBadGateway)
		return
	}
	body, err := frame.DecodeBody(resp.BodyBase64)
	if err != nil {
		http.Error(w, "Bad Gateway: malformed response", http.StatusBadGateway)
		return
	}
	hdr := w.Header()
	for k, vs := range resp.Headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
	p.DLogf("request %s complete, %s", id, sizestr.ToString(int64(len(body))))
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	if p.IsStartedShutdown() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	host, port, err := splitHostPort(r.Host)
	if err != nil {
		fmt.Fprintf(conn, "HTTP/1.1 400 Bad Request\r\n\r\n")
		conn.Close()
		return
	}

	id := uuid.New().String()

	var head []byte
	if n := bufrw.Reader.Buffered(); n > 0 {
		head = make([]byte, n)
		io.ReadFull(bufrw.Reader, head)
	}

	tunnel := newTunnel(id, conn, p.tport.Send, head)
	p.mu.Lock()
	p.tunnels[id] = tunnel
	p.mu.Unlock()

	if err := p.tport.Send(frame.Frame{Type: frame.TypeConnectStart, ID: id, Host: host, Port: port}); err != nil {
		p.removeTunnel(id, func(*Tunnel) {})
		fmt.Fprintf(conn, "HTTP/1.1 503 Service Unavailable\r\n\r\n")
		conn.Close()
		return
	}

	go p.pumpClientBytes(id, tunnel, conn)
}

// pumpClientBytes reads bytes from the client socket for the lifetime of
// the tunnel and forwards them (queued until ack, directly afterward).
func (p *Proxy) pumpClientBytes(id string, tunnel *Tunnel, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := tunnel.onClientBytes(buf[:n]); sendErr != nil {
				p.WLogf("tunnel %s: forward failed: %s", id, sendErr)
				break
			}
		}
		if err != nil {
			break
		}
	}
	p.removeTunnel(id, func(t *Tunnel) {
		t.closeLocally()
	})
	p.tport.Send(frame.Frame{Type: frame.TypeConnectEnd, ID: id})
}

func splitHostPort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, fmt.Errorf("localproxy: invalid CONNECT target %q: %w", hostport, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("localproxy: invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

