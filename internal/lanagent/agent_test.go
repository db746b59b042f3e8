package lanagent

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

type fakeTransport struct {
	sent   chan frame.Frame
	toRecv chan frame.Frame
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(chan frame.Frame, 32),
		toRecv: make(chan frame.Frame, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(fr frame.Frame) error {
	select {
	case f.sent <- fr:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *fakeTransport) Recv() (frame.Frame, error) {
	select {
	case fr := <-f.toRecv:
		return fr, nil
	case <-f.closed:
		return frame.Frame{}, io.EOF
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func testLogger() *rlog.Logger {
	return rlog.New("test", rlog.LevelError)
}

func TestHandleHTTPRequestSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(200)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	ft := newFakeTransport()
	a := New(testLogger(), ft, Config{})
	go a.Run(context.Background())

	ft.toRecv <- frame.Frame{
		Type: frame.TypeHTTPRequest,
		ID:   "r1",
		Request: &frame.HTTPRequestPayload{
			Method: "GET",
			URL:    upstream.URL + "/x",
		},
	}

	resp := <-ft.sent
	require.Equal(t, frame.TypeHTTPResponse, resp.Type)
	require.Equal(t, "r1", resp.ID)
	require.Equal(t, 200, resp.Status)
	body, err := frame.DecodeBody(resp.BodyBase64)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestHandleHTTPRequestFailureReportsError(t *testing.T) {
	ft := newFakeTransport()
	a := New(testLogger(), ft, Config{})
	go a.Run(context.Background())

	ft.toRecv <- frame.Frame{
		Type: frame.TypeHTTPRequest,
		ID:   "r2",
		Request: &frame.HTTPRequestPayload{
			Method: "GET",
			URL:    "http://127.0.0.1:1/unreachable",
		},
	}

	resp := <-ft.sent
	require.Equal(t, frame.TypeHTTPResponse, resp.Type)
	require.NotEmpty(t, resp.Error)
}

func TestHandleConnectStartAckAndDataRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		serverDone <- buf
		conn.Write([]byte("world"))
		conn.Close()
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ft := newFakeTransport()
	a := New(testLogger(), ft, Config{})
	go a.Run(context.Background())

	ft.toRecv <- frame.Frame{Type: frame.TypeConnectStart, ID: "t1", Host: host, Port: port}

	ack := <-ft.sent
	require.Equal(t, frame.TypeConnectAck, ack.Type)
	require.Equal(t, "t1", ack.ID)

	ft.toRecv <- frame.Frame{Type: frame.TypeConnectData, ID: "t1", DataBase64: frame.EncodeBody([]byte("hello"))}

	select {
	case got := <-serverDone:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("target never received bytes")
	}

	data := <-ft.sent
	require.Equal(t, frame.TypeConnectData, data.Type)
	b, err := frame.DecodeBody(data.DataBase64)
	require.NoError(t, err)
	require.Equal(t, "world", string(b))
}
