package udp

import "sync/atomic"

// Metrics counts what the server did since start. All fields are updated atomically.
type Metrics struct {
	DatagramsReceived  int64
	DecodeErrors       int64
	RateLimited        int64
	SessionsCreated    int64
	Reconnects         int64
	Heartbeats         int64
	HeartbeatsRejected int64
	SessionsEvicted    int64
	BroadcastTicks     int64
	PositionsSent      int64
	SendFailures       int64
}

func (m *Metrics) incDatagrams()          { atomic.AddInt64(&m.DatagramsReceived, 1) }
func (m *Metrics) incDecodeErrors()       { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) incRateLimited()        { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) incSessionsCreated()    { atomic.AddInt64(&m.SessionsCreated, 1) }
func (m *Metrics) incReconnects()         { atomic.AddInt64(&m.Reconnects, 1) }
func (m *Metrics) incHeartbeats()         { atomic.AddInt64(&m.Heartbeats, 1) }
func (m *Metrics) incHeartbeatsRejected() { atomic.AddInt64(&m.HeartbeatsRejected, 1) }
func (m *Metrics) addEvicted(n int)       { atomic.AddInt64(&m.SessionsEvicted, int64(n)) }
func (m *Metrics) incBroadcastTicks()     { atomic.AddInt64(&m.BroadcastTicks, 1) }
func (m *Metrics) incPositionsSent()      { atomic.AddInt64(&m.PositionsSent, 1) }
func (m *Metrics) incSendFailures()       { atomic.AddInt64(&m.SendFailures, 1) }

// Snapshot returns a read-only copy for the admin API.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"datagrams_received":  atomic.LoadInt64(&m.DatagramsReceived),
		"decode_errors":       atomic.LoadInt64(&m.DecodeErrors),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"sessions_created":    atomic.LoadInt64(&m.SessionsCreated),
		"reconnects":          atomic.LoadInt64(&m.Reconnects),
		"heartbeats":          atomic.LoadInt64(&m.Heartbeats),
		"heartbeats_rejected": atomic.LoadInt64(&m.HeartbeatsRejected),
		"sessions_evicted":    atomic.LoadInt64(&m.SessionsEvicted),
		"broadcast_ticks":     atomic.LoadInt64(&m.BroadcastTicks),
		"positions_sent":      atomic.LoadInt64(&m.PositionsSent),
		"send_failures":       atomic.LoadInt64(&m.SendFailures),
	}
}
