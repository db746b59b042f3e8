package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/sammck-go/wstunnel-relay/internal/frame"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

// outbox batching limits for the long-poll fallback's POST /api/send calls.
const (
	pollBatchWindow  = 15 * time.Millisecond
	pollBatchMaxSize = 32 * 1024
	pollBatchMaxMsgs = 64
)

type sendEnvelope struct {
	Role    frame.Role      `json:"role"`
	Message json.RawMessage `json:"message"`
}

// pollTransport implements Transport over a long-poll / chunked-NDJSON HTTP
// fallback: outbound frames are batched and POSTed to /api/send, inbound
// frames are read as newline-delimited JSON from a standing GET to
// /api/stream.
type pollTransport struct {
	client  *http.Client
	sendURL string

	logger *rlog.Logger

	outbox   chan frame.Frame
	inbox    chan frame.Frame
	closed   chan struct{}
	closeErr error
	closeMu  sync.Mutex
	wg       sync.WaitGroup
}

func dialPoll(ctx context.Context, base *url.URL, opts Options) (Transport, error) {
	streamURL := *base
	streamURL.Path += "/api/stream/" + opts.Session
	q := streamURL.Query()
	q.Set("role", string(opts.Role))
	streamURL.RawQuery = q.Encode()

	sendURL := *base
	sendURL.Path += "/api/send/" + opts.Session
	q = sendURL.Query()
	q.Set("role", string(opts.Role))
	sendURL.RawQuery = q.Encode()

	transport := &http.Transport{}
	if opts.Proxy.ProxyURL != nil {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return opts.Proxy.Dial(ctx, addr)
		}
	}
	transport.TLSClientConfig = opts.Proxy.TLSClientConfig(base.Hostname())

	client := &http.Client{Transport: transport}

	t := &pollTransport{
		client:  client,
		sendURL: sendURL.String(),
		logger:  opts.Logger,
		outbox:  make(chan frame.Frame, pollBatchMaxMsgs),
		inbox:   make(chan frame.Frame, pollBatchMaxMsgs),
		closed:  make(chan struct{}),
	}

	hello := frame.Frame{
		Type:            frame.TypeHello,
		Role:            opts.Role,
		Session:         opts.Session,
		ProtocolVersion: opts.ProtocolVersion,
	}
	if err := t.postFrames(opts.Role, []frame.Frame{hello}); err != nil {
		return nil, fmt.Errorf("transport: long-poll hello: %w", err)
	}

	t.wg.Add(2)
	go t.runOutbox(opts.Role)
	go t.runStream(ctx, streamURL.String())

	t.logger.ILogf("long-poll transport established for session %q", opts.Session)
	return t, nil
}

func (t *pollTransport) Send(f frame.Frame) error {
	select {
	case <-t.closed:
		return t.closeErr
	case t.outbox <- f:
		return nil
	}
}

func (t *pollTransport) Recv() (frame.Frame, error) {
	select {
	case f := <-t.inbox:
		return f, nil
	case <-t.closed:
		return frame.Frame{}, t.closeErr
	}
}

func (t *pollTransport) Close() error {
	t.fail(fmt.Errorf("transport: closed"))
	t.wg.Wait()
	return nil
}

func (t *pollTransport) fail(err error) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	select {
	case <-t.closed:
		return
	default:
		t.closeErr = err
		close(t.closed)
	}
}

func (t *pollTransport) runOutbox(role frame.Role) {
	defer t.wg.Done()
	var batch []frame.Frame
	var size int
	timer := time.NewTimer(pollBatchWindow)
	defer timer.Stop()

	// flush retries a failed POST forever after a fixed backoff rather than
	// dropping the batch: the long-poll fallback must give the same
	// delivery guarantee as the websocket transport.
	flush := func() {
		for len(batch) > 0 {
			if err := t.postFrames(role, batch); err != nil {
				t.logger.WLogf("long-poll send failed, retrying: %s", err)
				select {
				case <-time.After(500 * time.Millisecond):
				case <-t.closed:
					return
				}
				continue
			}
			batch = nil
			size = 0
		}
	}

	for {
		select {
		case <-t.closed:
			flush()
			return
		case f := <-t.outbox:
			data, err := frame.Marshal(f)
			if err != nil {
				continue
			}
			batch = append(batch, f)
			size += len(data)
			if len(batch) >= pollBatchMaxMsgs || size >= pollBatchMaxSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(pollBatchWindow)
			}
		case <-timer.C:
			flush()
			timer.Reset(pollBatchWindow)
		}
	}
}

func (t *pollTransport) postFrames(role frame.Role, frames []frame.Frame) error {
	var payload json.RawMessage
	if len(frames) == 1 {
		data, err := frame.Marshal(frames[0])
		if err != nil {
			return err
		}
		payload = data
	} else {
		raws := make([]json.RawMessage, len(frames))
		for i, f := range frames {
			data, err := frame.Marshal(f)
			if err != nil {
				return err
			}
			raws[i] = data
		}
		data, err := json.Marshal(raws)
		if err != nil {
			return err
		}
		payload = data
	}

	env := sendEnvelope{Role: role, Message: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	resp, err := t.client.Post(t.sendURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// runStream holds a standing GET against /api/stream, reconnecting with
// backoff on failure, and feeds every decoded line into t.inbox.
func (t *pollTransport) runStream(ctx context.Context, streamURL string) {
	defer t.wg.Done()
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 1 * time.Second, Factor: 2}

	// Close must also end a GET that is blocked waiting for the next line.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-t.closed:
			return
		default:
		}

		if err := t.streamOnce(ctx, streamURL); err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			t.logger.WLogf("long-poll stream error: %s; retrying", err)
			select {
			case <-time.After(b.Duration()):
			case <-t.closed:
				return
			}
			continue
		}
		b.Reset()
	}
}

func (t *pollTransport) streamOnce(ctx context.Context, streamURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		f, err := frame.Unmarshal(line)
		if err != nil {
			t.logger.WLogf("long-poll stream: malformed frame: %s", err)
			continue
		}
		if f.Type == frame.TypeHelloAck {
			// the answer to the hello POSTed by dialPoll; not a frame for Recv
			continue
		}
		select {
		case t.inbox <- f:
		case <-t.closed:
			return nil
		}
	}
	return scanner.Err()
}
