package localproxy

import "github.com/sammck-go/wstunnel-relay/internal/frame"

// PendingRequest tracks one outstanding http-request awaiting its
// http-response, per spec: created on send, resolved by the first matching
// response or by the 30s request timeout, whichever comes first.
type PendingRequest struct {
	id     string
	result chan frame.Frame
}

func newPendingRequest(id string) *PendingRequest {
	return &PendingRequest{id: id, result: make(chan frame.Frame, 1)}
}

// deliver hands the pending request its terminal frame. It never blocks:
// the channel is created with capacity 1 and a request is only ever
// delivered to once.
func (p *PendingRequest) deliver(f frame.Frame) {
	select {
	case p.result <- f:
	default:
	}
}
