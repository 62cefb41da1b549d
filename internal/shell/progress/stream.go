package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/gorilla/websocket"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Heartbeat() error
	Close()
}

// Pump forwards events to sub until the channel closes or ctx is done.
// A heartbeat is sent whenever the stream is idle for the given interval.
func Pump(ctx context.Context, events <-chan domain.ProgressEvent, sub Subscriber, heartbeat time.Duration) error {
	defer sub.Close()

	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sub.Heartbeat(); err != nil {
				return err
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("encode progress event: %w", err)
			}
			if err := sub.Send(payload); err != nil {
				return err
			}
			ticker.Reset(heartbeat)
		}
	}
}

// =============================================================================
// Server-Sent Events
// =============================================================================

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
}

// NewSSEClient builds an SSE client and writes the stream headers.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEClient{writer: w, flusher: flusher, log: logger}, nil
}

// Send emits a progress event frame.
func (c *SSEClient) Send(payload []byte) error {
	return c.write(fmt.Sprintf("event: progress\ndata: %s\n\n", payload))
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *SSEClient) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := io.WriteString(c.writer, frame); err != nil {
		c.closed = true
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// =============================================================================
// WebSocket
// =============================================================================

// WSClient represents a websocket client connection.
type WSClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

// NewWSClient constructs a client wrapper.
func NewWSClient(conn *websocket.Conn, logger *slog.Logger) *WSClient {
	return &WSClient{conn: conn, log: logger}
}

// Send writes a message to the websocket connection.
func (c *WSClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Heartbeat sends a ping control frame.
func (c *WSClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close sends a normal closure and terminates the connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "complete"),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}
