package qrelay

import "sync/atomic"

// Metrics tracks relay statistics with the same Increment*/Get* atomic
// counter convention the project has always used; this extends it with the
// relay-specific counters named in SPEC_FULL.md §5: auth outcomes,
// exchange pairings, store-and-forward activity, and channel lookups.
type Metrics interface {
	IncrementAuthSuccess()
	IncrementAuthFailure()
	IncrementExchangePaired()
	IncrementExchangeAlreadyConnected()
	IncrementQueueSpooled()
	IncrementQueueDelivered()
	IncrementQueueDropped()
	IncrementChannelLookup()
	IncrementConnectionsAdmitted()
	IncrementConnectionsClosed()

	GetAuthSuccessCount() int64
	GetAuthFailureCount() int64
	GetExchangePairedCount() int64
	GetExchangeAlreadyConnectedCount() int64
	GetQueueSpooledCount() int64
	GetQueueDeliveredCount() int64
	GetQueueDroppedCount() int64
	GetChannelLookupCount() int64
	GetConnectionsAdmittedCount() int64
	GetConnectionsClosedCount() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	authSuccess             int64
	authFailure             int64
	exchangePaired          int64
	exchangeAlreadyConnected int64
	queueSpooled            int64
	queueDelivered          int64
	queueDropped            int64
	channelLookup           int64
	connectionsAdmitted     int64
	connectionsClosed       int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementAuthSuccess()              { atomic.AddInt64(&m.authSuccess, 1) }
func (m *DefaultMetrics) IncrementAuthFailure()              { atomic.AddInt64(&m.authFailure, 1) }
func (m *DefaultMetrics) IncrementExchangePaired()           { atomic.AddInt64(&m.exchangePaired, 1) }
func (m *DefaultMetrics) IncrementExchangeAlreadyConnected() { atomic.AddInt64(&m.exchangeAlreadyConnected, 1) }
func (m *DefaultMetrics) IncrementQueueSpooled()             { atomic.AddInt64(&m.queueSpooled, 1) }
func (m *DefaultMetrics) IncrementQueueDelivered()           { atomic.AddInt64(&m.queueDelivered, 1) }
func (m *DefaultMetrics) IncrementQueueDropped()             { atomic.AddInt64(&m.queueDropped, 1) }
func (m *DefaultMetrics) IncrementChannelLookup()            { atomic.AddInt64(&m.channelLookup, 1) }
func (m *DefaultMetrics) IncrementConnectionsAdmitted()      { atomic.AddInt64(&m.connectionsAdmitted, 1) }
func (m *DefaultMetrics) IncrementConnectionsClosed()        { atomic.AddInt64(&m.connectionsClosed, 1) }

func (m *DefaultMetrics) GetAuthSuccessCount() int64  { return atomic.LoadInt64(&m.authSuccess) }
func (m *DefaultMetrics) GetAuthFailureCount() int64  { return atomic.LoadInt64(&m.authFailure) }
func (m *DefaultMetrics) GetExchangePairedCount() int64 {
	return atomic.LoadInt64(&m.exchangePaired)
}
func (m *DefaultMetrics) GetExchangeAlreadyConnectedCount() int64 {
	return atomic.LoadInt64(&m.exchangeAlreadyConnected)
}
func (m *DefaultMetrics) GetQueueSpooledCount() int64   { return atomic.LoadInt64(&m.queueSpooled) }
func (m *DefaultMetrics) GetQueueDeliveredCount() int64 { return atomic.LoadInt64(&m.queueDelivered) }
func (m *DefaultMetrics) GetQueueDroppedCount() int64   { return atomic.LoadInt64(&m.queueDropped) }
func (m *DefaultMetrics) GetChannelLookupCount() int64  { return atomic.LoadInt64(&m.channelLookup) }
func (m *DefaultMetrics) GetConnectionsAdmittedCount() int64 {
	return atomic.LoadInt64(&m.connectionsAdmitted)
}
func (m *DefaultMetrics) GetConnectionsClosedCount() int64 {
	return atomic.LoadInt64(&m.connectionsClosed)
}
