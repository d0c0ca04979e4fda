package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/protocol"
)

// WSClient connects a reconciler to the hub over a WebSocket, redialing with
// exponential backoff after every drop. The hub re-seeds each new connection
// with a hello, which is what flips the reconciler back to connected and
// drains its offline queue.
type WSClient struct {
	url string
	rec *Reconciler

	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSClient creates a client for the hub at url (e.g. ws://host:8080/ws).
// Attach must be called before Run.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url, writeTimeout: 10 * time.Second}
}

// Attach binds the reconciler that will receive hub messages.
func (c *WSClient) Attach(rec *Reconciler) { c.rec = rec }

// Send implements Sender. It fails immediately when no connection is up;
// the reconciler's offline queue is the retry mechanism, not the transport.
func (c *WSClient) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to hub: %w", err)
	}
	return nil
}

// Run dials and reads until ctx is cancelled.
func (c *WSClient) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to reach hub")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		log.Info().Str("url", c.url).Msg("connected to hub")
		backoff = time.Second

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.rec.HandleDisconnected()
	}
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("hub connection dropped")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame from hub")
			continue
		}
		c.rec.HandleEnvelope(env)
	}
}
