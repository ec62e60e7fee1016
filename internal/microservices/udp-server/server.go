package udp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"possync/internal/logging"
	"possync/internal/protocol"
)

// DefaultPort is the well-known UDP port of the sync server.
const DefaultPort = 22044

// Config holds the server's socket and timing settings.
type Config struct {
	BindHost               string
	Port                   int
	SocketBufferSize       int
	BroadcastInterval      time.Duration
	SweepInterval          time.Duration
	HeartbeatTimeout       time.Duration
	IdleInterval           time.Duration
	AcceptOrphanHeartbeats bool
	RateLimit              float64 // datagrams per second per address, 0 disables
	RateBurst              int
}

// DefaultConfig returns the reference timings: 2s broadcast and sweep, 15s heartbeat
// timeout, 10ms idle wait, 256KiB socket buffers.
func DefaultConfig() Config {
	return Config{
		BindHost:               "::",
		Port:                   DefaultPort,
		SocketBufferSize:       256 * 1024,
		BroadcastInterval:      2 * time.Second,
		SweepInterval:          2 * time.Second,
		HeartbeatTimeout:       15 * time.Second,
		IdleInterval:           10 * time.Millisecond,
		AcceptOrphanHeartbeats: true,
		RateLimit:              20,
		RateBurst:              40,
	}
}

// Server represents the authoritative position sync server
type Server struct {
	conn        Transport
	cfg         Config
	sessions    *SessionManager
	broadcaster *Broadcaster
	limiters    *addrLimiters
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
	mu       sync.Mutex
}

// Option customises a Server built with NewServerWithTransport.
type Option func(*serverOptions)

type serverOptions struct {
	now func() time.Time
	rng *rand.Rand
}

// WithServerClock injects the clock used for heartbeats, sweeps and rate limiting.
func WithServerClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// WithServerRand injects the random source for start positions and steps.
func WithServerRand(rng *rand.Rand) Option {
	return func(o *serverOptions) { o.rng = rng }
}

// NewServer binds the UDP socket and builds the server. A bind failure is returned rather
// than tolerated.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	logger = logging.OrNop(logger)

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil && addr.IP.Equal(net.IPv6unspecified) {
		// no IPv6 on this host: take the IPv4 wildcard instead
		logger.Warn("dual_stack_bind_failed", zap.Error(err))
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: addr.Port})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if cfg.SocketBufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.SocketBufferSize); err != nil {
			logger.Warn("socket_read_buffer_not_set", zap.Int("bytes", cfg.SocketBufferSize), zap.Error(err))
		}
		if err := conn.SetWriteBuffer(cfg.SocketBufferSize); err != nil {
			logger.Warn("socket_write_buffer_not_set", zap.Int("bytes", cfg.SocketBufferSize), zap.Error(err))
		}
	}

	return NewServerWithTransport(conn, cfg, logger), nil
}

// NewServerWithTransport builds a server on an already open transport.
func NewServerWithTransport(conn Transport, cfg Config, logger *zap.Logger, opts ...Option) *Server {
	o := serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	sessionOpts := []SessionOption{
		WithClock(o.now),
		WithOrphanHeartbeats(cfg.AcceptOrphanHeartbeats),
	}
	if o.rng != nil {
		sessionOpts = append(sessionOpts, WithRand(o.rng))
	}

	logger = logging.OrNop(logger)
	metrics := &Metrics{}
	sessions := NewSessionManager(cfg.HeartbeatTimeout, sessionOpts...)

	return &Server{
		conn:        conn,
		cfg:         cfg,
		sessions:    sessions,
		broadcaster: NewBroadcaster(conn, sessions, metrics, logger),
		limiters:    newAddrLimiters(cfg.RateLimit, cfg.RateBurst),
		metrics:     metrics,
		logger:      logger,
		now:         o.now,
	}
}

// Start launches the traffic handler, liveness monitor and broadcast scheduler. They run
// until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("udp_server_listening",
		zap.String("addr", s.conn.LocalAddr().String()),
		zap.Duration("broadcast_interval", s.cfg.BroadcastInterval),
		zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout),
	)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.handleIncomingMessages(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runLivenessMonitor(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.broadcaster.StartBroadcastRoutine(ctx, s.cfg.BroadcastInterval)
	}()
	return nil
}

// Run starts the server and blocks until ctx is done, then shuts it down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("udp_server_shutting_down")
	return s.Shutdown()
}

// handleIncomingMessages drains the socket. The read deadline doubles as the idle wait
// between polls and as the point where cancellation is noticed.
func (s *Server) handleIncomingMessages(ctx context.Context) {
	buffer := make([]byte, protocol.MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("set_read_deadline_failed", zap.Error(err))
		}

		n, addr, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return
			default:
				s.logger.Warn("udp_read_failed", zap.Error(err))
				continue
			}
		}

		s.processMessage(buffer[:n], addr)
	}
}

// runLivenessMonitor evicts stale sessions every SweepInterval.
func (s *Server) runLivenessMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep is one liveness pass: stale sessions and idle rate-limit buckets go away.
func (s *Server) sweep() []SessionSnapshot {
	now := s.now()
	evicted := s.sessions.SweepStale(now)
	for _, snap := range evicted {
		s.logger.Info("session_evicted",
			zap.String("session_id", snap.ID),
			zap.String("addr", snap.Addr.String()),
			zap.Time("last_heartbeat", snap.LastHeartbeat),
		)
	}
	s.metrics.addEvicted(len(evicted))
	s.limiters.Prune(now, s.cfg.HeartbeatTimeout)
	return evicted
}

// AddObserver registers a consumer of broadcast ticks.
func (s *Server) AddObserver(o TickObserver) {
	s.broadcaster.AddObserver(o)
}

// Sessions returns a snapshot of every live session.
func (s *Server) Sessions() []SessionSnapshot {
	return s.sessions.Snapshot()
}

// SessionCount returns the number of live sessions
func (s *Server) SessionCount() int {
	return s.sessions.Count()
}

// Metrics returns the server's counters.
func (s *Server) Metrics() map[string]int64 {
	return s.metrics.Snapshot()
}

// LocalAddr returns the bound socket address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Shutdown stops every background loop and closes the socket. Safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
