package qrelay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMetricsCounters(t *testing.T) {
	m := NewDefaultMetrics()

	m.IncrementAuthSuccess()
	m.IncrementAuthSuccess()
	m.IncrementAuthFailure()
	m.IncrementExchangePaired()
	m.IncrementExchangeAlreadyConnected()
	m.IncrementQueueSpooled()
	m.IncrementQueueDelivered()
	m.IncrementQueueDropped()
	m.IncrementChannelLookup()
	m.IncrementConnectionsAdmitted()
	m.IncrementConnectionsClosed()

	assert.EqualValues(t, 2, m.GetAuthSuccessCount())
	assert.EqualValues(t, 1, m.GetAuthFailureCount())
	assert.EqualValues(t, 1, m.GetExchangePairedCount())
	assert.EqualValues(t, 1, m.GetExchangeAlreadyConnectedCount())
	assert.EqualValues(t, 1, m.GetQueueSpooledCount())
	assert.EqualValues(t, 1, m.GetQueueDeliveredCount())
	assert.EqualValues(t, 1, m.GetQueueDroppedCount())
	assert.EqualValues(t, 1, m.GetChannelLookupCount())
	assert.EqualValues(t, 1, m.GetConnectionsAdmittedCount())
	assert.EqualValues(t, 1, m.GetConnectionsClosedCount())
}

func TestDefaultMetricsConcurrentIncrements(t *testing.T) {
	m := NewDefaultMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementAuthSuccess()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 100, m.GetAuthSuccessCount())
}
