package websocket

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// One observer connection. Observers only listen; anything they send is discarded.

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time write a message to the peer
	PongWait       = 60 * time.Second    // no pong within this = connection is gone
	PingPeriod     = (PongWait * 9) / 10 // ping before pong wait expires
	MaxMessageSize = 512                 // maximum message size allowed from peer
	SendBuffer     = 64                  // ticks queued per observer before it counts as slow
)

var ErrSlowClient = errors.New("observer send buffer full")

type Client struct {
	ID          string          // unique client ID
	Conn        *websocket.Conn // WebSocket connection
	SendChannel chan []byte     // channel for outbound(chan <-) messages
	Hub         *Hub            // reference to the central Hub
	logger      *zap.Logger
}

// constructor new client
func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:          id,
		Conn:        conn,
		SendChannel: make(chan []byte, SendBuffer),
		Hub:         hub,
		logger:      hub.logger.With(zap.String("client_id", id)),
	}
}

// ReadPump keeps the read deadline moving on pongs and unregisters the client once the
// peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("observer_read_failed", zap.Error(err))
			}
			return
		}
	}
}

// WritePump drains SendChannel to the socket and pings on PingPeriod. It exits when the hub
// closes SendChannel or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.SendChannel:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("observer_write_failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues message without blocking the hub.
func (c *Client) SendMessage(message []byte) error {
	select {
	case c.SendChannel <- message:
		return nil
	default:
		return ErrSlowClient
	}
}
