package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
)

// recordingSocket captures every frame sent to it for assertions.
type recordingSocket struct {
	sent []frame.Frame
}

func (r *recordingSocket) Send(f frame.Frame) error {
	r.sent = append(r.sent, f)
	return nil
}
func (r *recordingSocket) Close(reason string) error { return nil }

func TestRouteHTTPRequestRecordsAndForwards(t *testing.T) {
	s := newSession("sess1")
	lanSock := &recordingSocket{}
	s.lan.setSocket(lanSock)

	s.route(frame.RoleProxy, frame.Frame{Type: frame.TypeHTTPRequest, ID: "req1"})

	require.Len(t, lanSock.sent, 1)
	assert.Equal(t, "req1", lanSock.sent[0].ID)

	s.mu.Lock()
	origin, ok := s.requests["req1"]
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, frame.RoleProxy, origin)
}

func TestHTTPResponseClearsRequestAndForwardsToProxy(t *testing.T) {
	s := newSession("sess1")
	proxySock := &recordingSocket{}
	s.proxy.setSocket(proxySock)
	s.requests["req1"] = frame.RoleProxy

	s.route(frame.RoleLAN, frame.Frame{Type: frame.TypeHTTPResponse, ID: "req1", Status: 200})

	require.Len(t, proxySock.sent, 1)
	assert.Equal(t, 200, proxySock.sent[0].Status)
	_, ok := s.requests["req1"]
	assert.False(t, ok)
}

func TestLANDisconnectFailsOutstandingRequestsAndTunnels(t *testing.T) {
	s := newSession("sess1")
	proxySock := &recordingSocket{}
	s.proxy.setSocket(proxySock)
	s.requests["req1"] = frame.RoleProxy
	s.tunnels["tun1"] = frame.RoleProxy

	s.onLANDisconnect()

	require.Len(t, proxySock.sent, 2)
	assert.Empty(t, s.requests)
	assert.Empty(t, s.tunnels)

	var sawHTTPErr, sawTunnelErr bool
	for _, f := range proxySock.sent {
		switch f.Type {
		case frame.TypeHTTPResponse:
			assert.Equal(t, "LAN disconnected", f.Error)
			sawHTTPErr = true
		case frame.TypeConnectError:
			assert.Equal(t, "LAN disconnected", f.Message)
			sawTunnelErr = true
		}
	}
	assert.True(t, sawHTTPErr)
	assert.True(t, sawTunnelErr)
}

func TestProxyDisconnectEndsOwnedTunnelsTowardLAN(t *testing.T) {
	s := newSession("sess1")
	lanSock := &recordingSocket{}
	s.lan.setSocket(lanSock)
	s.tunnels["tun1"] = frame.RoleProxy
	s.requests["req1"] = frame.RoleProxy

	s.onProxyDisconnect()

	require.Len(t, lanSock.sent, 1)
	assert.Equal(t, frame.TypeConnectEnd, lanSock.sent[0].Type)
	assert.Equal(t, "tun1", lanSock.sent[0].ID)
	assert.Empty(t, s.requests)
	assert.Empty(t, s.tunnels)
}

func TestUnknownFrameTypeProducesErrorNotForward(t *testing.T) {
	s := newSession("sess1")
	lanSock := &recordingSocket{}
	s.lan.setSocket(lanSock)
	proxySock := &recordingSocket{}
	s.proxy.setSocket(proxySock)

	s.route(frame.RoleProxy, frame.Frame{Type: "bogus"})

	assert.Empty(t, lanSock.sent)
	require.Len(t, proxySock.sent, 1)
	assert.Equal(t, frame.TypeError, proxySock.sent[0].Type)
}

func TestChannelQueuesWhenNoSocketAndDrainsOnAttach(t *testing.T) {
	ch := newChannel(frame.RoleLAN)
	ch.respond(frame.Frame{Type: frame.TypeHTTPRequest, ID: "a"})
	ch.respond(frame.Frame{Type: frame.TypeHTTPRequest, ID: "b"})

	sock := &recordingSocket{}
	ch.setSocket(sock)

	require.Len(t, sock.sent, 2)
	assert.Equal(t, "a", sock.sent[0].ID)
	assert.Equal(t, "b", sock.sent[1].ID)
}

type recordingSink struct {
	frames []frame.Frame
}

func (r *recordingSink) writeFrame(f frame.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func TestChannelAttachStreamDrainsQueueFIFO(t *testing.T) {
	ch := newChannel(frame.RoleProxy)
	ch.respond(frame.Frame{Type: frame.TypeConnectData, ID: "1"})
	ch.respond(frame.Frame{Type: frame.TypeConnectData, ID: "2"})
	ch.respond(frame.Frame{Type: frame.TypeConnectData, ID: "3"})

	sink := &recordingSink{}
	ch.attachStream(sink)

	require.Len(t, sink.frames, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{sink.frames[0].ID, sink.frames[1].ID, sink.frames[2].ID})
}

type closeReasonSocket struct {
	recordingSocket
	closeReason string
}

func (s *closeReasonSocket) Close(reason string) error {
	s.closeReason = reason
	return nil
}

func TestSetSocketClosesDisplacedSocketAsReplaced(t *testing.T) {
	ch := newChannel(frame.RoleLAN)
	old := &closeReasonSocket{}
	ch.setSocket(old)

	ch.setSocket(&recordingSocket{})

	assert.Equal(t, "replaced", old.closeReason)
}
