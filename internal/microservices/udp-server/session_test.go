package udp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inCube(t *testing.T, snap SessionSnapshot) {
	t.Helper()
	for _, c := range []float64{snap.Position.X, snap.Position.Y, snap.Position.Z} {
		if c < -StartRange || c > StartRange {
			t.Fatalf("start position %+v outside [-10,10]^3", snap.Position)
		}
	}
}

func TestSessionManager_ConnectCreatesSession(t *testing.T) {
	clock := newFakeClock()
	sm := NewSessionManager(15*time.Second, WithClock(clock.Now))
	addr := netip.MustParseAddrPort("127.0.0.1:12345")

	snap, created := sm.Connect(addr)
	require.True(t, created)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, addr, snap.Addr)
	assert.Equal(t, clock.Now(), snap.LastHeartbeat)
	assert.Equal(t, clock.Now(), snap.ConnectedAt)
	inCube(t, snap)
	assert.Equal(t, 1, sm.Count())

	got, exists := sm.Get(addr)
	require.True(t, exists)
	assert.Equal(t, snap, got)
}

func TestSessionManager_StartPositionsInRange(t *testing.T) {
	sm := NewSessionManager(time.Minute, WithRand(rand.New(rand.NewPCG(3, 4))))
	for i := 0; i < 500; i++ {
		snap, created := sm.Connect(netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), uint16(1000+i)))
		require.True(t, created)
		inCube(t, snap)
	}
	assert.Equal(t, 500, sm.Count())
}

func TestSessionManager_ReconnectKeepsState(t *testing.T) {
	clock := newFakeClock()
	sm := NewSessionManager(15*time.Second, WithClock(clock.Now))
	addr := netip.MustParseAddrPort("127.0.0.1:12345")

	first, _ := sm.Connect(addr)
	moved, ok := sm.Advance(addr)
	require.True(t, ok)

	clock.Advance(5 * time.Second)
	again, created := sm.Connect(addr)

	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, moved, again.Position)
	assert.Equal(t, clock.Now(), again.LastHeartbeat)
	assert.Equal(t, 1, sm.Count())
}

func TestSessionManager_HeartbeatPreventsEviction(t *testing.T) {
	clock := newFakeClock()
	sm := NewSessionManager(15*time.Second, WithClock(clock.Now))
	addr := netip.MustParseAddrPort("127.0.0.1:12345")
	sm.Connect(addr)

	clock.Advance(10 * time.Second)
	require.True(t, sm.Heartbeat(addr))

	clock.Advance(10 * time.Second)
	assert.Empty(t, sm.CleanupInactive())
	assert.Equal(t, 1, sm.Count())

	clock.Advance(6 * time.Second)
	evicted := sm.CleanupInactive()
	require.Len(t, evicted, 1)
	assert.Equal(t, addr, evicted[0].Addr)
	assert.Equal(t, 0, sm.Count())

	_, hasBeat := sm.LastHeartbeat(addr)
	assert.False(t, hasBeat, "heartbeat entry must go with the session")
}

func TestSessionManager_TimeoutBoundaryIsExclusive(t *testing.T) {
	clock := newFakeClock()
	sm := NewSessionManager(15*time.Second, WithClock(clock.Now))
	addr := netip.MustParseAddrPort("127.0.0.1:12345")
	sm.Connect(addr)

	clock.Advance(15 * time.Second)
	assert.Empty(t, sm.CleanupInactive(), "exactly timeout old is still alive")

	clock.Advance(time.Nanosecond)
	assert.Len(t, sm.CleanupInactive(), 1)
}

func TestSessionManager_OrphanHeartbeats(t *testing.T) {
	addr := netip.MustParseAddrPort("192.0.2.7:5000")

	t.Run("accepted and swept", func(t *testing.T) {
		clock := newFakeClock()
		sm := NewSessionManager(15*time.Second, WithClock(clock.Now))

		require.True(t, sm.Heartbeat(addr))
		_, hasBeat := sm.LastHeartbeat(addr)
		assert.True(t, hasBeat)
		assert.Equal(t, 0, sm.Count(), "a heartbeat never creates a session")

		clock.Advance(16 * time.Second)
		evicted := sm.CleanupInactive()
		require.Len(t, evicted, 1)
		assert.Empty(t, evicted[0].ID)
	})

	t.Run("rejected", func(t *testing.T) {
		sm := NewSessionManager(15*time.Second, WithOrphanHeartbeats(false))

		assert.False(t, sm.Heartbeat(addr))
		_, hasBeat := sm.LastHeartbeat(addr)
		assert.False(t, hasBeat)

		sm.Connect(addr)
		assert.True(t, sm.Heartbeat(addr))
	})
}

func TestSessionManager_AdvanceStepBound(t *testing.T) {
	sm := NewSessionManager(time.Minute, WithRand(rand.New(rand.NewPCG(5, 6))))
	addr := netip.MustParseAddrPort("127.0.0.1:12345")
	prev, _ := sm.Connect(addr)

	last := prev.Position
	for i := 0; i < 10000; i++ {
		next, ok := sm.Advance(addr)
		require.True(t, ok)
		if d := next.Sub(last).Length(); d > 1+1e-9 {
			t.Fatalf("tick %d moved %f", i, d)
		}
		last = next
	}
}

func TestSessionManager_AdvanceMissingSession(t *testing.T) {
	sm := NewSessionManager(time.Minute)
	_, ok := sm.Advance(netip.MustParseAddrPort("127.0.0.1:1"))
	assert.False(t, ok)
}

func TestSessionManager_SnapshotIsCopy(t *testing.T) {
	sm := NewSessionManager(time.Minute)
	addr := netip.MustParseAddrPort("127.0.0.1:12345")
	sm.Connect(addr)

	snaps := sm.Snapshot()
	require.Len(t, snaps, 1)
	before := snaps[0].Position

	sm.Advance(addr)
	assert.Equal(t, before, snaps[0].Position)
}

func TestSessionManager_SnapshotOrdered(t *testing.T) {
	sm := NewSessionManager(time.Minute)
	sm.Connect(netip.MustParseAddrPort("127.0.0.3:1"))
	sm.Connect(netip.MustParseAddrPort("127.0.0.1:1"))
	sm.Connect(netip.MustParseAddrPort("127.0.0.2:1"))

	snaps := sm.Snapshot()
	require.Len(t, snaps, 3)
	assert.Equal(t, "127.0.0.1:1", snaps[0].Addr.String())
	assert.Equal(t, "127.0.0.3:1", snaps[2].Addr.String())
}

func TestSessionManager_Concurrent(t *testing.T) {
	sm := NewSessionManager(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			addr := netip.MustParseAddrPort(fmt.Sprintf("127.0.0.1:%d", 20000+id))
			sm.Connect(addr)
			for j := 0; j < 100; j++ {
				sm.Heartbeat(addr)
				sm.Advance(addr)
				_ = sm.Snapshot()
				sm.CleanupInactive()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, sm.Count())
}

func TestSessionManager_StartCleanupRoutine(t *testing.T) {
	sm := NewSessionManager(20 * time.Millisecond)
	sm.Connect(netip.MustParseAddrPort("127.0.0.1:12345"))

	ctx, cancel := context.WithCancel(context.Background())
	evictedCh := make(chan []SessionSnapshot, 1)
	done := make(chan struct{})
	go func() {
		sm.StartCleanupRoutine(ctx, 10*time.Millisecond, func(s []SessionSnapshot) {
			select {
			case evictedCh <- s:
			default:
			}
		})
		close(done)
	}()

	select {
	case evicted := <-evictedCh:
		assert.Len(t, evicted, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("session was never swept")
	}

	cancel()
	<-done
	assert.Equal(t, 0, sm.Count())
}
