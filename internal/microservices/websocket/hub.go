package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"possync/internal/logging"
	udp "possync/internal/microservices/udp-server"
)

// Central hub fanning broadcast ticks out to every observer connection.
// Only Run touches the client set; everything else talks to it through channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	clients    map[*Client]struct{}
	count      atomic.Int64
	done       chan struct{}
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		logger:     logging.OrNop(logger),
	}
}

// Run serves register, unregister and broadcast requests until ctx is cancelled, then
// closes every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("observer_connected", zap.String("client_id", c.ID), zap.Int("observers", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Info("observer_disconnected", zap.String("client_id", c.ID), zap.Int("observers", len(h.clients)))
			}
		case message := <-h.broadcast:
			for c := range h.clients {
				if err := c.SendMessage(message); err != nil {
					h.logger.Warn("observer_dropped", zap.String("client_id", c.ID), zap.Error(err))
					h.remove(c)
				}
			}
		}
	}
}

// join hands c to Run; false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.SendChannel)
	h.count.Store(int64(len(h.clients)))
}

// ClientCount reports connected observers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// OnTick makes the hub a udp.TickObserver. A full broadcast queue drops the tick rather
// than stalling the broadcast loop.
func (h *Hub) OnTick(ctx context.Context, event udp.TickEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal tick %d: %w", event.Tick, err)
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("hub backlog full, tick %d dropped", event.Tick)
	}
}

var _ udp.TickObserver = (*Hub)(nil)
