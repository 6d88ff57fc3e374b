package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentbus/logging"
)

// SSEOptions configures an SSETransport.
type SSEOptions struct {
	// Headers are sent with the stream request and every POST.
	Headers map[string]string

	// HTTPClient performs the requests. It must not set a Timeout, since
	// the event stream stays open for the life of the session.
	HTTPClient *http.Client

	// PostTimeout bounds each POST request.
	PostTimeout time.Duration

	Logger logging.Logger
}

// SSETransport implements the MCP HTTP+SSE transport: the client opens a
// Server-Sent Events stream, receives the URL to post requests to as an
// "endpoint" event, and receives responses as "message" events.
type SSETransport struct {
	url  string
	opts SSEOptions

	cancel   context.CancelFunc
	endpoint string
	frames   chan []byte

	errMu     sync.Mutex
	streamErr error

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewSSETransport creates a transport for the event stream at url.
func NewSSETransport(url string, optFns ...func(o *SSEOptions)) *SSETransport {
	opts := SSEOptions{
		HTTPClient:  &http.Client{},
		PostTimeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &SSETransport{
		url:    url,
		opts:   opts,
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the event stream and waits for the endpoint event.
func (t *SSETransport) Start(ctx context.Context) error {
	base, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header = toHeader(t.opts.Headers)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Abort the dial when ctx ends before the stream is established.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := t.opts.HTTPClient.Do(req)
	stop()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
	}

	endpoint := make(chan string, 1)
	go t.readStream(resp.Body, base, endpoint)

	select {
	case ep := <-endpoint:
		t.endpoint = ep
		t.opts.Logger.Debug("mcp.sse.endpoint", "url", t.url, "endpoint", ep)
		return nil
	case <-t.done:
		cancel()
		return fmt.Errorf("event stream ended before endpoint event: %w", t.err())
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

type sseEvent struct {
	name string
	data string
}

func (t *SSETransport) readStream(body io.ReadCloser, base *url.URL, endpoint chan<- string) {
	defer close(t.done)
	defer body.Close()

	reader := bufio.NewReader(body)
	var ev sseEvent
	var data []string
	sentEndpoint := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.setErr(err)
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) == 0 {
				ev = sseEvent{}
				continue
			}
			ev.data = strings.Join(data, "\n")
			data = data[:0]

			switch ev.name {
			case "endpoint":
				ref, perr := base.Parse(strings.TrimSpace(ev.data))
				if perr != nil {
					t.opts.Logger.Warn("mcp.sse.bad_endpoint", "url", t.url, "data", ev.data)
				} else if !sentEndpoint {
					sentEndpoint = true
					endpoint <- ref.String()
				}
			case "", "message":
				select {
				case t.frames <- []byte(ev.data):
				case <-t.closed:
					return
				}
			default:
				t.opts.Logger.Debug("mcp.sse.event.ignored", "url", t.url, "event", ev.name)
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(d, " "))
		}
	}
}

func (t *SSETransport) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.streamErr == nil {
		t.streamErr = err
	}
}

func (t *SSETransport) err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.streamErr == nil {
		return io.EOF
	}
	return t.streamErr
}

// Endpoint returns the URL requests are posted to.
func (t *SSETransport) Endpoint() string { return t.endpoint }

// Send posts frame to the endpoint.
func (t *SSETransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if t.endpoint == "" {
		return fmt.Errorf("transport not started")
	}

	if t.opts.PostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.PostTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header = toHeader(t.opts.Headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the data of the next message event.
func (t *SSETransport) Receive() ([]byte, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-t.done:
		// Drain frames that arrived before the stream ended.
		select {
		case f := <-t.frames:
			return f, nil
		default:
			return nil, t.err()
		}
	}
}

// Close ends the event stream. Safe to call repeatedly.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.cancel != nil {
			t.cancel()
		}
	})
	return nil
}
