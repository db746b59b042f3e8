// Package lanagent implements the LAN-side half of the protocol: it
// executes http-request frames against real HTTP targets and opens raw TCP
// tunnels for connect-start frames, streaming results back as frames.
package lanagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/netutil"
	"github.com/sammck-go/wstunnel-relay/internal/outbound"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
	"github.com/sammck-go/wstunnel-relay/internal/transport"
)

// Agent is the LAN side of one session: it owns the live target sockets for
// every active tunnel and the HTTP client used for http-request frames.
type Agent struct {
	rlog.ShutdownHelper

	tport       transport.Transport
	httpClient  *http.Client
	tunnelProxy outbound.Config
	hasTunnel   bool

	mu      sync.Mutex
	tunnels map[string]*remoteTunnel
}

type remoteTunnel struct {
	conn net.Conn
}

// Config configures an Agent.
type Config struct {
	// TunnelProxy, if HasTunnelProxy is set, is used to dial every
	// connect-start target instead of dialing directly.
	TunnelProxy    outbound.Config
	HasTunnelProxy bool
}

// New creates an Agent bound to an already-dialed Transport.
func New(logger *rlog.Logger, tport transport.Transport, cfg Config) *Agent {
	a := &Agent{
		tport: tport,
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tunnelProxy: cfg.TunnelProxy,
		hasTunnel:   cfg.HasTunnelProxy,
		tunnels:     make(map[string]*remoteTunnel),
	}
	a.ShutdownHelper.Init(logger, a)
	return a
}

// HandleOnceShutdown closes the transport and every live tunnel socket.
func (a *Agent) HandleOnceShutdown(completionErr error) error {
	a.mu.Lock()
	tunnels := a.tunnels
	a.tunnels = make(map[string]*remoteTunnel)
	a.mu.Unlock()
	for _, t := range tunnels {
		t.conn.Close()
	}
	if err := a.tport.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Run consumes frames from the transport until it closes or errors.
func (a *Agent) Run(ctx context.Context) {
	for {
		f, err := a.tport.Recv()
		if err != nil {
			a.ILogf("transport closed: %s", err)
			a.StartShutdown(err)
			return
		}
		a.dispatch(ctx, f)
	}
}

func (a *Agent) dispatch(ctx context.Context, f frame.Frame) {
	switch f.Type {
	case frame.TypeHTTPRequest:
		go a.handleHTTPRequest(ctx, f)
	case frame.TypeConnectStart:
		go a.handleConnectStart(ctx, f)
	case frame.TypeConnectData:
		a.handleConnectData(f)
	case frame.TypeConnectEnd:
		a.handleConnectEnd(f)
	case frame.TypeError:
		a.ELogf("protocol error from relay: %s", f.Message)
	default:
		a.WLogf("unexpected frame type from relay: %s", f.Type)
	}
}

// handleHTTPRequest performs the request with manual redirects and sends
// back the http-response frame (or its .error variant on failure).
func (a *Agent) handleHTTPRequest(ctx context.Context, f frame.Frame) {
	if f.Request == nil {
		a.sendHTTPError(f.ID, "missing request payload")
		return
	}
	body, err := frame.DecodeBody(f.Request.BodyBase64)
	if err != nil {
		a.sendHTTPError(f.ID, fmt.Sprintf("malformed request body: %s", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, f.Request.Method, f.Request.URL, bytes.NewReader(body))
	if err != nil {
		a.sendHTTPError(f.ID, fmt.Sprintf("invalid request: %s", err))
		return
	}
	req.Header = frame.SanitizeHeaders(frame.MapToHeaders(f.Request.Headers))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.sendHTTPError(f.ID, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		a.sendHTTPError(f.ID, fmt.Sprintf("failed reading upstream body: %s", err))
		return
	}

	a.tport.Send(frame.Frame{
		Type:       frame.TypeHTTPResponse,
		ID:         f.ID,
		Status:     resp.StatusCode,
		Headers:    frame.HeadersToMap(resp.Header),
		BodyBase64: frame.EncodeBody(respBody),
	})
}

func (a *Agent) sendHTTPError(id, message string) {
	a.tport.Send(frame.Frame{Type: frame.TypeHTTPResponse, ID: id, Error: message})
}

// handleConnectStart dials the target directly or via the configured
// tunnel-proxy, then either acks and starts streaming, or reports the
// failure as connect-error.
func (a *Agent) handleConnectStart(ctx context.Context, f frame.Frame) {
	target := net.JoinHostPort(f.Host, fmt.Sprintf("%d", f.Port))

	var conn net.Conn
	var err error
	if a.hasTunnel {
		conn, err = a.tunnelProxy.Dial(ctx, target)
	} else {
		d := net.Dialer{}
		conn, err = d.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		a.tport.Send(frame.Frame{Type: frame.TypeConnectError, ID: f.ID, Message: err.Error()})
		return
	}

	a.mu.Lock()
	a.tunnels[f.ID] = &remoteTunnel{conn: conn}
	a.mu.Unlock()

	if err := a.tport.Send(frame.Frame{Type: frame.TypeConnectAck, ID: f.ID}); err != nil {
		a.removeTunnel(f.ID)
		conn.Close()
		return
	}

	go a.pumpTargetBytes(f.ID, conn)
}

func (a *Agent) pumpTargetBytes(id string, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := a.tport.Send(frame.Frame{Type: frame.TypeConnectData, ID: id, DataBase64: frame.EncodeBody(buf[:n])}); sendErr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	a.removeTunnel(id)
	conn.Close()
	a.tport.Send(frame.Frame{Type: frame.TypeConnectEnd, ID: id})
}

func (a *Agent) handleConnectData(f frame.Frame) {
	data, err := frame.DecodeBody(f.DataBase64)
	if err != nil {
		a.WLogf("connect-data: bad payload for %s: %s", f.ID, err)
		return
	}
	a.mu.Lock()
	t, ok := a.tunnels[f.ID]
	a.mu.Unlock()
	if !ok {
		return
	}
	if _, err := t.conn.Write(data); err != nil {
		a.removeTunnel(f.ID)
		t.conn.Close()
		a.tport.Send(frame.Frame{Type: frame.TypeConnectEnd, ID: f.ID})
	}
}

// handleConnectEnd half-closes the target socket's write side: the proxy
// side is done sending, but the target may still have a response pending.
// pumpTargetBytes tears the tunnel down fully once the target itself closes.
func (a *Agent) handleConnectEnd(f frame.Frame) {
	a.mu.Lock()
	t, ok := a.tunnels[f.ID]
	a.mu.Unlock()
	if ok {
		netutil.HalfCloseOrClose(t.conn)
	}
}

func (a *Agent) removeTunnel(id string) {
	a.mu.Lock()
	delete(a.tunnels, id)
	a.mu.Unlock()
}
