package udp

import (
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"possync/internal/protocol"
)

// addrLimiters holds one token bucket per source address. A non-positive limit disables
// limiting.
type addrLimiters struct {
	mu      sync.Mutex
	entries map[netip.AddrPort]*limiterEntry
	limit   rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAddrLimiters(perSecond float64, burst int) *addrLimiters {
	return &addrLimiters{
		entries: make(map[netip.AddrPort]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (l *addrLimiters) Allow(addr netip.AddrPort, now time.Time) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[addr]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[addr] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops buckets not used within idle.
func (l *addrLimiters) Prune(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for addr, e := range l.entries {
		if now.Sub(e.lastSeen) > idle {
			delete(l.entries, addr)
			pruned++
		}
	}
	return pruned
}

func (l *addrLimiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// processMessage handles one inbound datagram. Nothing in here may stop the read loop.
func (s *Server) processMessage(data []byte, addr netip.AddrPort) {
	addr = normalizeAddr(addr)
	s.metrics.incDatagrams()

	if !s.limiters.Allow(addr, s.now()) {
		s.metrics.incRateLimited()
		s.logger.Debug("datagram_rate_limited", zap.String("addr", addr.String()))
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.incDecodeErrors()
		s.logger.Warn("datagram_decode_failed",
			zap.String("addr", addr.String()),
			zap.Error(err),
		)
		return
	}

	switch msg.Kind {
	case protocol.KindConnect:
		s.handleConnect(addr)
	case protocol.KindHeartbeat:
		s.handleHeartbeat(addr)
	default:
		s.logger.Debug("unexpected_message_ignored",
			zap.String("addr", addr.String()),
			zap.Stringer("kind", msg.Kind),
		)
	}
}

// handleConnect creates the session on first contact and acknowledges with the current
// position. A repeated connect keeps the session as is.
func (s *Server) handleConnect(addr netip.AddrPort) {
	snap, created := s.sessions.Connect(addr)
	if created {
		s.metrics.incSessionsCreated()
		s.logger.Info("session_created",
			zap.String("session_id", snap.ID),
			zap.String("addr", addr.String()),
			zap.String("position", string(protocol.EncodePosition(snap.Position))),
		)
	} else {
		s.metrics.incReconnects()
		s.logger.Info("session_reconnected",
			zap.String("session_id", snap.ID),
			zap.String("addr", addr.String()),
		)
	}

	if err := s.broadcaster.sendPosition(addr, snap.Position); err != nil {
		s.logger.Warn("connect_ack_failed",
			zap.String("addr", addr.String()),
			zap.Error(err),
		)
	}
}

func (s *Server) handleHeartbeat(addr netip.AddrPort) {
	if !s.sessions.Heartbeat(addr) {
		s.metrics.incHeartbeatsRejected()
		s.logger.Debug("heartbeat_without_session", zap.String("addr", addr.String()))
		return
	}
	s.metrics.incHeartbeats()
}
