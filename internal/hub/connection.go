package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/protocol"
)

// ConnectionManager owns the WebSocket connections of every control console
// and output display. It never touches state itself: decoded messages are
// handed to the hub's event loop, which is the single writer.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// joinCh and inboundCh feed the hub event loop so that hello seeding
	// and mutation handling serialize with the tick.
	joinCh    chan *Connection
	inboundCh chan inboundMessage
}

// Connection represents one connected client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// inboundMessage pairs a decoded envelope with its origin connection.
// Each connection's readPump is sequential, so per-connection FIFO ordering
// survives the trip through the channel.
type inboundMessage struct {
	conn *Connection
	env  protocol.Envelope
}

// ConnectionConfig holds WebSocket tuning for the hub.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Consoles connect from anywhere on the venue network.
			return true
		},
	}
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		joinCh:    make(chan *Connection, 16),
		inboundCh: make(chan inboundMessage, 256),
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection and starts its
// pumps. The hub loop learns about the new connection via joinCh and seeds
// it with the current state.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	cm.joinCh <- connection

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("console connected")
	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Msg("console disconnected")
	}
}

// SendTo queues a message for one connection, dropping the connection if its
// buffer is full. Membership is checked under the same lock that closes the
// Send channel, so a message racing a disconnect is discarded instead of
// hitting a closed channel: the hub loop may still hold a connection whose
// pumps have already torn it down.
func (cm *ConnectionManager) SendTo(conn *Connection, data []byte) {
	cm.mu.RLock()
	if _, exists := cm.connections[conn]; !exists {
		cm.mu.RUnlock()
		return
	}
	select {
	case conn.Send <- data:
		cm.mu.RUnlock()
	default:
		cm.mu.RUnlock()
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// Broadcast fans a message out to every connection except the one given,
// which may be nil to reach everyone.
func (cm *ConnectionManager) Broadcast(data []byte, except *Connection) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		if conn == except {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.SendTo(conn, data)
	}
}

// Stats returns counts about active connections.
func (cm *ConnectionManager) Stats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return map[string]any{
		"total_connections": len(cm.connections),
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			// LastPing is owned by the read side's pong handler; writing
			// it here too would race.
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound frames and forwards them to the hub loop.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping malformed frame")
			c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
			continue
		}
		c.Manager.inboundCh <- inboundMessage{conn: c, env: env}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
