package localproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// fakeTransport is an in-memory transport.Transport double: Send appends to
// sent, Recv drains a channel the test feeds directly.
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

func TestHandleHTTPSuccess(t *testing.T) {
	ft := newFakeTransport()
	p := New(testLogger(), ft)
	go p.Run()

	go func() {
		req := <-ft.sent
		require.Equal(t, frame.TypeHTTPRequest, req.Type)
		ft.toRecv <- frame.Frame{
			Type:       frame.TypeHTTPResponse,
			ID:         req.ID,
			Status:     200,
			Headers:    map[string][]string{"Content-Type": {"text/plain"}},
			BodyBase64: frame.EncodeBody([]byte("hi")),
		}
	}()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/x")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "hi", string(body))
}

func TestHandleHTTPUpstreamError(t *testing.T) {
	ft := newFakeTransport()
	p := New(testLogger(), ft)
	go p.Run()

	go func() {
		req := <-ft.sent
		ft.toRecv <- frame.Frame{Type: frame.TypeHTTPResponse, ID: req.ID, Error: "dns failure"}
	}()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/x")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandleHTTPMissingHostOnPathOnlyRequest(t *testing.T) {
	ft := newFakeTransport()
	p := New(testLogger(), ft)
	go p.Run()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Host = ""
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHTTPTimeout(t *testing.T) {
	ft := newFakeTransport()
	p := New(testLogger(), ft)
	p.requestTimeout = 50 * time.Millisecond
	go p.Run()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/slow")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestTransportDisconnectFailsOutstandingRequest(t *testing.T) {
	ft := newFakeTransport()
	p := New(testLogger(), ft)
	go p.Run()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/x")
		require.NoError(t, err)
		done <- resp
	}()

	// wait until the request is registered and forwarded, then kill the transport.
	<-ft.sent
	ft.Close()

	resp := <-done
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
