package udp

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

type sentDatagram struct {
	data []byte
	addr netip.AddrPort
}

// fakeConn is an in-memory Transport that records every write.
type fakeConn struct {
	mu       sync.Mutex
	sent     []sentDatagram
	writeErr error
	deadline time.Time
	inbox    chan sentDatagram
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan sentDatagram, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	c.mu.Lock()
	wait := time.Until(c.deadline)
	c.mu.Unlock()
	if wait <= 0 {
		wait = time.Millisecond
	}

	select {
	case d := <-c.inbox:
		return copy(b, d.data), d.addr, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case <-time.After(wait):
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
}

func (c *fakeConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.sent = append(c.sent, sentDatagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTo(addr netip.AddrPort) []sentDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentDatagram
	for _, d := range c.sent {
		if d.addr == addr {
			out = append(out, d)
		}
	}
	return out
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) deliver(data string, from netip.AddrPort) {
	c.inbox <- sentDatagram{data: []byte(data), addr: from}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
