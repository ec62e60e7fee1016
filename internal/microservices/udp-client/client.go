package udpclient

// client.go = the client half of the sync protocol: connect handshake, heartbeat sender and
// receive loop. Decoded positions reach the consumer only through the dispatch queue.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"possync/internal/dispatch"
	"possync/internal/logging"
	"possync/internal/protocol"
)

// State of the client session machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config holds the target address and timings.
type Config struct {
	ServerHost        string
	ServerPort        int
	SocketBufferSize  int
	HeartbeatInterval time.Duration
	IdleInterval      time.Duration
}

// DefaultConfig targets 127.0.0.1:22044 with a 5s heartbeat and 10ms idle wait.
func DefaultConfig() Config {
	return Config{
		ServerHost:        "127.0.0.1",
		ServerPort:        22044,
		SocketBufferSize:  256 * 1024,
		HeartbeatInterval: 5 * time.Second,
		IdleInterval:      10 * time.Millisecond,
	}
}

// Stats holds client-side counters
type Stats struct {
	ConnectedAt       time.Time
	PositionsReceived int
	DecodeErrors      int
	HeartbeatsSent    int
	LastPosition      protocol.Vector3
	LastPositionAt    time.Time
	Uptime            time.Duration
}

// Client represents one sync client session
type Client struct {
	cfg        Config
	queue      *dispatch.Queue
	onPosition func(protocol.Vector3)
	logger     *zap.Logger

	mu     sync.RWMutex
	conn   *net.UDPConn
	state  State
	stats  Stats
	acked  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client. onPosition runs on whichever goroutine drains queue.
func New(cfg Config, queue *dispatch.Queue, onPosition func(protocol.Vector3), logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		queue:      queue,
		onPosition: onPosition,
		logger:     logging.OrNop(logger),
		acked:      make(chan struct{}),
	}
}

// Connect resolves the server, opens the socket, sends the join request and starts the
// heartbeat and receive loops. Setup failures are returned and leave the client
// disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return fmt.Errorf("client is %s", c.state)
	}
	c.state = Connecting
	c.acked = make(chan struct{})

	fail := func(err error) error {
		c.state = Disconnected
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.logger.Error("connect_failed", zap.Error(err))
		return err
	}

	target := net.JoinHostPort(c.cfg.ServerHost, strconv.Itoa(c.cfg.ServerPort))
	udpAddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve UDP address: %w", err))
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to UDP server: %w", err))
	}
	c.conn = conn

	if c.cfg.SocketBufferSize > 0 {
		if err := conn.SetReadBuffer(c.cfg.SocketBufferSize); err != nil {
			c.logger.Warn("socket_read_buffer_not_set", zap.Error(err))
		}
		if err := conn.SetWriteBuffer(c.cfg.SocketBufferSize); err != nil {
			c.logger.Warn("socket_write_buffer_not_set", zap.Error(err))
		}
	}

	if _, err := conn.Write(protocol.EncodeConnect()); err != nil {
		return fail(fmt.Errorf("failed to send connect: %w", err))
	}

	c.stats = Stats{ConnectedAt: time.Now()}
	c.logger.Info("connect_sent",
		zap.String("server", udpAddr.String()),
		zap.String("local", conn.LocalAddr().String()),
	)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.heartbeatRoutine(loopCtx, conn)
	}()
	go func() {
		defer c.wg.Done()
		c.listenRoutine(loopCtx, conn)
	}()

	return nil
}

// heartbeatRoutine sends one heartbeat right away and then every HeartbeatInterval.
func (c *Client) heartbeatRoutine(ctx context.Context, conn *net.UDPConn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if _, err := conn.Write(protocol.EncodeHeartbeat()); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("heartbeat_send_failed", zap.Error(err))
		} else {
			c.mu.Lock()
			c.stats.HeartbeatsSent++
			c.mu.Unlock()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// listenRoutine drains every pending datagram; a read timeout means nothing is pending and
// doubles as the idle wait before polling again.
func (c *Client) listenRoutine(ctx context.Context, conn *net.UDPConn) {
	buffer := make([]byte, protocol.MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.IdleInterval))
		n, err := conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return
			default:
				// e.g. ICMP port unreachable while the server is down
				c.logger.Debug("udp_read_failed", zap.Error(err))
				continue
			}
		}

		c.handleDatagram(buffer[:n])
	}
}

func (c *Client) handleDatagram(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.mu.Lock()
		c.stats.DecodeErrors++
		c.mu.Unlock()
		c.logger.Warn("datagram_decode_failed", zap.Error(err))
		return
	}

	if msg.Kind != protocol.KindPosition {
		c.logger.Debug("unexpected_message_ignored", zap.Stringer("kind", msg.Kind))
		return
	}

	c.mu.Lock()
	c.stats.PositionsReceived++
	c.stats.LastPosition = msg.Position
	c.stats.LastPositionAt = time.Now()
	if c.state == Connecting {
		c.state = Connected
		close(c.acked)
		c.logger.Info("connect_acknowledged", zap.String("position", string(protocol.EncodePosition(msg.Position))))
	}
	c.mu.Unlock()

	pos := msg.Position
	if c.onPosition != nil {
		c.queue.Enqueue(func() { c.onPosition(pos) })
	}
}

// Acked is closed when the first position update (the server's acknowledgement) arrives.
func (c *Client) Acked() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acked
}

// State returns the current state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LocalAddr returns the client's socket address, or nil before Connect.
func (c *Client) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// Stats returns the current connection statistics
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	if c.state != Disconnected {
		stats.Uptime = time.Since(c.stats.ConnectedAt)
	}
	return stats
}

// Close stops both loops and closes the socket. The server is not told; it evicts the
// session once heartbeats stop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	cancel()
	err := conn.Close()
	c.wg.Wait()

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	c.logger.Info("client_closed")
	return err
}
