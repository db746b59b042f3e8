package relay

import "github.com/sammck-go/wstunnel-relay/internal/frame"

// Socket is a live, bidirectional persistent connection installed into a
// Channel. The websocket transport is the only implementation; the
// long-poll/NDJSON fallback never installs a Socket, it only ever attaches
// streams and posts sends (see stream.go).
type Socket interface {
	// Send writes a single frame to the peer.
	Send(f frame.Frame) error

	// Close terminates the socket, logging reason (e.g. "replaced", "shutdown").
	Close(reason string) error
}
