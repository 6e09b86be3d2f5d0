package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StreamEvent is one item received from the transport. Keepalive comments are
// surfaced with an empty Name and nil Data so the runner can refresh the
// staleness baseline without forwarding them.
type StreamEvent struct {
	Name string
	ID   string
	Data []byte
}

// Keepalive reports whether the event is a comment-only ping.
func (e StreamEvent) Keepalive() bool {
	return e.Name == "" && len(e.Data) == 0
}

// Transport opens a connection to the feed and yields its events.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one established connection. Receive blocks until the next event or
// a transport error; Close unblocks a pending Receive.
type Conn interface {
	ConnectionID() string
	Receive() (StreamEvent, error)
	Close() error
}

// SSETransport consumes a Server-Sent Events endpoint.
type SSETransport struct {
	URL    string
	Client *http.Client
}

// NewSSETransport builds a transport for the given events URL. The HTTP
// client carries no overall timeout because the stream is long-lived; dial
// timeouts come from the context passed to Dial.
func NewSSETransport(url string) *SSETransport {
	return &SSETransport{
		URL: url,
		Client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
	}
}

// Dial opens the stream and validates the response before handing back a
// connection. A non-200 status or a wrong content type is a dial failure.
func (t *SSETransport) Dial(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected content type %q", ct)
	}

	return &sseConn{
		connID: resp.Header.Get("X-Connection-Id"),
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

type sseConn struct {
	connID string
	body   interface{ Close() error }
	reader *bufio.Reader
}

func (c *sseConn) ConnectionID() string { return c.connID }

func (c *sseConn) Close() error { return c.body.Close() }

// Receive parses the stream until one event is complete. Comment lines are
// returned immediately as keepalives.
func (c *sseConn) Receive() (StreamEvent, error) {
	var (
		ev      StreamEvent
		data    bytes.Buffer
		started bool
	)

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return StreamEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, ":") {
			if !started {
				return StreamEvent{}, nil
			}
			continue
		}

		if line == "" {
			if !started {
				continue
			}
			ev.Data = data.Bytes()
			return ev, nil
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
			started = true
		case "id":
			ev.ID = value
			started = true
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			started = true
		case "retry":
			// Server-suggested retry intervals are ignored; backoff is local.
		}
	}
}
