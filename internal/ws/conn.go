package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/chahit025/CodeCollab/pkg/ratelimit"
)

// Inbound event rate per connection
const (
	eventsPerSecond = 100
	eventBurst      = 200
)

// Client is one joined connection: the socket, its buffered outbound
// queue, and a fresh opaque connection id
type Client struct {
	ws      *websocket.Conn // nil for in-process test clients
	out     chan []byte
	id      string
	limiter *ratelimit.Bucket
}

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// newClient wraps an accepted socket with a connection id and send queue
func newClient(conn *websocket.Conn) *Client {
	return &Client{
		ws:      conn,
		out:     make(chan []byte, 256),
		id:      uuid.NewString(),
		limiter: ratelimit.NewBucket(eventsPerSecond, eventBurst),
	}
}

// ID returns the opaque connection identifier
func (c *Client) ID() string { return c.id }

// enqueue pushes a frame without blocking; slow consumers drop frames
// rather than stalling the coordinator
func (c *Client) enqueue(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// Read blocks until it receives a text/binary message.
// Returns false when the connection is gone.
func (c *Client) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop drains the send queue and pings periodically.
// Exits when ctx is cancelled.
func (c *Client) WriteLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			_ = c.ws.Write(ctx, websocket.MessageText, b)
		case <-t.C:
			_ = c.ws.Ping(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the socket normally
func (c *Client) Close() error { return c.ws.Close(websocket.StatusNormalClosure, "bye") }
