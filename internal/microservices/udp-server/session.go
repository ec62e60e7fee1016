package udp

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"possync/internal/protocol"
)

// StartRange bounds each component of a new session's starting position.
const StartRange = 10.0

// Session represents a connected client
type Session struct {
	ID          string
	Addr        netip.AddrPort
	Position    protocol.Vector3
	ConnectedAt time.Time
}

// SessionSnapshot is a copy of a session taken under the registry lock. ID is empty for
// an orphan heartbeat entry that never had a session.
type SessionSnapshot struct {
	ID            string           `json:"id"`
	Addr          netip.AddrPort   `json:"addr"`
	Position      protocol.Vector3 `json:"position"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	ConnectedAt   time.Time        `json:"connected_at"`
}

// SessionManager owns every session and heartbeat record. One mutex covers both maps and
// the random source so each read-modify-write is a single critical section.
type SessionManager struct {
	mu            sync.RWMutex
	sessions      map[netip.AddrPort]*Session
	heartbeats    map[netip.AddrPort]time.Time
	timeout       time.Duration
	acceptOrphans bool
	rng           *rand.Rand
	now           func() time.Time
}

// SessionOption customises a SessionManager.
type SessionOption func(*SessionManager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(sm *SessionManager) { sm.now = now }
}

// WithRand replaces the random source used for start positions and steps.
func WithRand(rng *rand.Rand) SessionOption {
	return func(sm *SessionManager) { sm.rng = rng }
}

// WithOrphanHeartbeats controls whether heartbeats from addresses without a session are
// recorded (and later swept) or dropped.
func WithOrphanHeartbeats(accept bool) SessionOption {
	return func(sm *SessionManager) { sm.acceptOrphans = accept }
}

// NewSessionManager creates a registry that evicts entries whose heartbeat is older than
// timeout.
func NewSessionManager(timeout time.Duration, opts ...SessionOption) *SessionManager {
	sm := &SessionManager{
		sessions:      make(map[netip.AddrPort]*Session),
		heartbeats:    make(map[netip.AddrPort]time.Time),
		timeout:       timeout,
		acceptOrphans: true,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Connect registers addr if it is unknown. A known address keeps its position and only has
// its heartbeat refreshed. The returned snapshot carries the position to acknowledge with.
func (sm *SessionManager) Connect(addr netip.AddrPort) (SessionSnapshot, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	sm.heartbeats[addr] = now

	if sess, exists := sm.sessions[addr]; exists {
		return sm.snapshotLocked(sess), false
	}

	sess := &Session{
		ID:          uuid.NewString(),
		Addr:        addr,
		Position:    sm.randomStartLocked(),
		ConnectedAt: now,
	}
	sm.sessions[addr] = sess
	return sm.snapshotLocked(sess), true
}

// Heartbeat records a liveness ping. It reports false when addr has no session and orphan
// heartbeats are not accepted.
func (sm *SessionManager) Heartbeat(addr netip.AddrPort) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[addr]; !exists && !sm.acceptOrphans {
		return false
	}
	sm.heartbeats[addr] = sm.now()
	return true
}

// Advance moves the session at addr by a random step inside the unit ball and returns the
// new position. It reports false if the session is gone.
func (sm *SessionManager) Advance(addr netip.AddrPort) (protocol.Vector3, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, exists := sm.sessions[addr]
	if !exists {
		return protocol.Vector3{}, false
	}
	sess.Position = sess.Position.Add(sm.randomStepLocked())
	return sess.Position, true
}

// Get returns a snapshot of the session at addr.
func (sm *SessionManager) Get(addr netip.AddrPort) (SessionSnapshot, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, exists := sm.sessions[addr]
	if !exists {
		return SessionSnapshot{}, false
	}
	return sm.snapshotLocked(sess), true
}

// LastHeartbeat returns the recorded heartbeat time for addr, session or not.
func (sm *SessionManager) LastHeartbeat(addr netip.AddrPort) (time.Time, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	t, ok := sm.heartbeats[addr]
	return t, ok
}

// Snapshot returns all sessions ordered by address.
func (sm *SessionManager) Snapshot() []SessionSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	snaps := make([]SessionSnapshot, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		snaps = append(snaps, sm.snapshotLocked(sess))
	}
	slices.SortFunc(snaps, func(a, b SessionSnapshot) int {
		return a.Addr.Compare(b.Addr)
	})
	return snaps
}

// SweepStale removes every address whose heartbeat is older than the timeout at now, from
// both the session and heartbeat maps, and returns what was removed.
func (sm *SessionManager) SweepStale(now time.Time) []SessionSnapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var evicted []SessionSnapshot
	for addr, last := range sm.heartbeats {
		if now.Sub(last) <= sm.timeout {
			continue
		}
		snap := SessionSnapshot{Addr: addr, LastHeartbeat: last}
		if sess, exists := sm.sessions[addr]; exists {
			snap = sm.snapshotLocked(sess)
		}
		delete(sm.sessions, addr)
		delete(sm.heartbeats, addr)
		evicted = append(evicted, snap)
	}
	return evicted
}

// CleanupInactive sweeps against the manager's clock.
func (sm *SessionManager) CleanupInactive() []SessionSnapshot {
	return sm.SweepStale(sm.now())
}

// Count returns the number of sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.sessions)
}

// StartCleanupRoutine sweeps every interval until ctx is done, passing each non-empty
// eviction batch to onEvict.
func (sm *SessionManager) StartCleanupRoutine(ctx context.Context, interval time.Duration, onEvict func([]SessionSnapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if evicted := sm.CleanupInactive(); len(evicted) > 0 && onEvict != nil {
				onEvict(evicted)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (sm *SessionManager) snapshotLocked(sess *Session) SessionSnapshot {
	return SessionSnapshot{
		ID:            sess.ID,
		Addr:          sess.Addr,
		Position:      sess.Position,
		LastHeartbeat: sm.heartbeats[sess.Addr],
		ConnectedAt:   sess.ConnectedAt,
	}
}

func (sm *SessionManager) randomStartLocked() protocol.Vector3 {
	return protocol.Vector3{
		X: (sm.rng.Float64()*2 - 1) * StartRange,
		Y: (sm.rng.Float64()*2 - 1) * StartRange,
		Z: (sm.rng.Float64()*2 - 1) * StartRange,
	}
}

// rejection sampling from the enclosing cube keeps the distribution uniform over the ball
func (sm *SessionManager) randomStepLocked() protocol.Vector3 {
	for {
		v := protocol.Vector3{
			X: sm.rng.Float64()*2 - 1,
			Y: sm.rng.Float64()*2 - 1,
			Z: sm.rng.Float64()*2 - 1,
		}
		if v.Length() <= 1 {
			return v
		}
	}
}
