package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/relay"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

func testLogger() *rlog.Logger {
	return rlog.New("test", rlog.LevelError)
}

func TestDialWSHandshakeAndRoundTrip(t *testing.T) {
	r := relay.New(relay.Config{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lan, err := Dial(ctx, Options{
		ServerURL:       srv.URL,
		Session:         "t1",
		Role:            frame.RoleLAN,
		Mode:            ModeWS,
		ProtocolVersion: relay.ProtocolVersion,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	defer lan.Close()

	proxy, err := Dial(ctx, Options{
		ServerURL:       srv.URL,
		Session:         "t1",
		Role:            frame.RoleProxy,
		Mode:            ModeWS,
		ProtocolVersion: relay.ProtocolVersion,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	defer proxy.Close()

	require.NoError(t, proxy.Send(frame.Frame{Type: frame.TypeHTTPRequest, ID: "r1"}))

	f, err := lan.Recv()
	require.NoError(t, err)
	require.Equal(t, frame.TypeHTTPRequest, f.Type)
	require.Equal(t, "r1", f.ID)
}

func TestDialPollHandshakeAndRoundTrip(t *testing.T) {
	r := relay.New(relay.Config{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lan, err := Dial(ctx, Options{
		ServerURL:       srv.URL,
		Session:         "t2",
		Role:            frame.RoleLAN,
		Mode:            ModeHTTP,
		ProtocolVersion: relay.ProtocolVersion,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	defer lan.Close()

	proxy, err := Dial(ctx, Options{
		ServerURL:       srv.URL,
		Session:         "t2",
		Role:            frame.RoleProxy,
		Mode:            ModeHTTP,
		ProtocolVersion: relay.ProtocolVersion,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	defer proxy.Close()

	require.NoError(t, proxy.Send(frame.Frame{Type: frame.TypeHTTPRequest, ID: "q1"}))

	f, err := lan.Recv()
	require.NoError(t, err)
	require.Equal(t, frame.TypeHTTPRequest, f.Type)
	require.Equal(t, "q1", f.ID)
}

func TestNormalizeServerURL(t *testing.T) {
	u, err := normalizeServerURL("ws://example.com/base/")
	require.NoError(t, err)
	require.Equal(t, "http", u.Scheme)
	require.True(t, strings.HasSuffix(u.Path, "base"))

	u, err = normalizeServerURL("example.com")
	require.NoError(t, err)
	require.Equal(t, "http", u.Scheme)
}

func TestDialUnknownMode(t *testing.T) {
	_, err := Dial(context.Background(), Options{ServerURL: "example.com", Mode: "bogus"})
	require.Error(t, err)
}
