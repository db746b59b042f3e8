// Package transport implements the dual transport described in the core
// spec: a persistent websocket connection (preferred) and a long-poll /
// chunked-NDJSON HTTP fallback, both carrying the same frame set with
// identical message guarantees.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/outbound"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// Mode selects which transport a client uses.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeWS   Mode = "ws"
	ModeHTTP Mode = "http"
)

// Transport carries frames between a client (lan agent or local proxy) and
// the relay, regardless of which wire transport is in effect underneath.
type Transport interface {
	// Send transmits f to the relay. It never blocks past handing the
	// frame to the underlying outbox/connection.
	Send(f frame.Frame) error

	// Recv blocks for the next inbound frame. It returns an error when the
	// transport is permanently disconnected.
	Recv() (frame.Frame, error)

	// Close tears down the transport and releases its sockets.
	Close() error
}

// Options configures a Dial.
type Options struct {
	ServerURL       string
	Session         string
	Role            frame.Role
	Mode            Mode
	ProtocolVersion int
	Proxy           outbound.Config
	Logger          *rlog.Logger
}

// Dial establishes a Transport to ServerURL for the given session and
// role, performing the hello/hello-ack handshake before returning.
//
// In ModeAuto, the persistent socket is attempted first; if it fails to
// reach hello-ack (closes or errors before then), the long-poll fallback
// takes over. Once switched, the session never reverts, per spec.
func Dial(ctx context.Context, opts Options) (Transport, error) {
	base, err := normalizeServerURL(opts.ServerURL)
	if err != nil {
		return nil, err
	}
	if i := strings.LastIndex(base.Path, "/"); i >= 0 && opts.Session != "" && base.Path[i+1:] == opts.Session {
		base.Path = base.Path[:i]
	}

	switch opts.Mode {
	case ModeWS:
		return dialWS(ctx, base, opts)
	case ModeHTTP:
		return dialPoll(ctx, base, opts)
	case ModeAuto, "":
		t, err := dialWS(ctx, base, opts)
		if err == nil {
			return t, nil
		}
		opts.Logger.ILogf("persistent socket failed (%s); falling back to long-poll transport", err)
		return dialPoll(ctx, base, opts)
	default:
		return nil, fmt.Errorf("transport: unknown mode %q", opts.Mode)
	}
}

// normalizeServerURL accepts http(s) or ws(s) URLs and keeps their path,
// minus trailing slashes, as the base path. A trailing path segment naming
// the session is removed by Dial, which always sends the session explicitly
// via hello / query parameters.
func normalizeServerURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}
