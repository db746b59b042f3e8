package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
)

// wsTransport serializes writes with writeMu: gorilla/websocket allows only
// one concurrent writer, but Send is called from many goroutines at once
// (one per outstanding http-request/connect-start dispatch and byte pump).
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWS(ctx context.Context, base *url.URL, opts Options) (Transport, error) {
	wsURL := *base
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig:  opts.Proxy.TLSClientConfig(wsURL.Hostname()),
	}
	if opts.Proxy.ProxyURL != nil {
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return opts.Proxy.Dial(ctx, addr)
		}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}

	t := &wsTransport{conn: conn}
	if err := t.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *wsTransport) handshake(opts Options) error {
	if err := t.Send(frame.Frame{
		Type:            frame.TypeHello,
		Role:            opts.Role,
		Session:         opts.Session,
		ProtocolVersion: opts.ProtocolVersion,
	}); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}
	t.conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	ack, err := t.Recv()
	t.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("transport: await hello-ack: %w", err)
	}
	switch ack.Type {
	case frame.TypeHelloAck:
		return nil
	case frame.TypeError:
		return fmt.Errorf("transport: relay rejected hello: %s", ack.Message)
	default:
		return fmt.Errorf("transport: unexpected frame while awaiting hello-ack: %s", ack.Type)
	}
}

func (t *wsTransport) Send(f frame.Frame) error {
	data, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Recv() (frame.Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Unmarshal(data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
