package udp

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"possync/internal/logging"
	"possync/internal/protocol"
)

// TickEvent is what observers receive after every broadcast tick.
type TickEvent struct {
	Tick      uint64            `json:"tick"`
	At        time.Time         `json:"at"`
	Positions []SessionSnapshot `json:"positions"`
}

// TickObserver receives each broadcast tick after the UDP sends went out.
type TickObserver interface {
	OnTick(ctx context.Context, event TickEvent) error
}

type Broadcaster struct {
	conn      Transport
	sessions  *SessionManager
	metrics   *Metrics
	logger    *zap.Logger
	mu        sync.RWMutex
	observers []TickObserver
	tick      uint64
}

func NewBroadcaster(conn Transport, sessions *SessionManager, metrics *Metrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		conn:     conn,
		sessions: sessions,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
	}
}

// AddObserver registers o for every following tick.
func (b *Broadcaster) AddObserver(o TickObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// BroadcastTick advances every session that exists at the moment of the snapshot and sends
// each its new position. Sessions evicted after the snapshot are skipped.
func (b *Broadcaster) BroadcastTick(ctx context.Context) TickEvent {
	snapshot := b.sessions.Snapshot()

	b.mu.Lock()
	b.tick++
	tick := b.tick
	observers := append([]TickObserver(nil), b.observers...)
	b.mu.Unlock()

	moved := make([]SessionSnapshot, 0, len(snapshot))
	for _, snap := range snapshot {
		pos, ok := b.sessions.Advance(snap.Addr)
		if !ok {
			continue
		}
		snap.Position = pos
		moved = append(moved, snap)
	}

	var wg sync.WaitGroup
	for _, snap := range moved {
		wg.Add(1)
		go func(s SessionSnapshot) {
			defer wg.Done()
			if err := b.sendPosition(s.Addr, s.Position); err != nil {
				b.logger.Warn("position_send_failed",
					zap.String("addr", s.Addr.String()),
					zap.Error(err),
				)
			}
		}(snap)
	}
	wg.Wait()

	b.metrics.incBroadcastTicks()
	b.logger.Debug("broadcast_tick",
		zap.Uint64("tick", tick),
		zap.Int("sessions", len(moved)),
	)

	event := TickEvent{Tick: tick, At: b.sessions.now(), Positions: moved}
	for _, o := range observers {
		if err := o.OnTick(ctx, event); err != nil {
			b.logger.Warn("tick_observer_failed",
				zap.Uint64("tick", tick),
				zap.Error(err),
			)
		}
	}
	return event
}

// StartBroadcastRoutine ticks once immediately, then every interval until ctx is done.
func (b *Broadcaster) StartBroadcastRoutine(ctx context.Context, interval time.Duration) {
	b.BroadcastTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.BroadcastTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sendPosition sends one PositionUpdate datagram
func (b *Broadcaster) sendPosition(addr netip.AddrPort, pos protocol.Vector3) error {
	if _, err := b.conn.WriteToUDPAddrPort(protocol.EncodePosition(pos), addr); err != nil {
		b.metrics.incSendFailures()
		return err
	}
	b.metrics.incPositionsSent()
	return nil
}
