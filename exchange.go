package qrelay

import "sync"

// exchangeQueueCap bounds each direction's FIFO so one stalled peer cannot
// grow memory without limit (§3: "bounded FIFO queues").
const exchangeQueueCap = 256

// MessageExchange is the in-memory rendezvous object keyed by a device key
// (§3, §4.6). It holds two bounded FIFO queues, each with its own
// mutual-exclusion guard, and is owned jointly by the two connection tasks
// of a device key: it exists while at least one owner holds a reference.
type MessageExchange struct {
	DeviceKey string

	platformToApp queueState
	appToPlatform queueState

	mu      sync.Mutex
	holders int // number of connection tasks currently holding a reference
}

type queueState struct {
	mu    sync.Mutex
	items [][]byte
}

func (q *queueState) push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= exchangeQueueCap {
		return false
	}
	q.items = append(q.items, frame)
	return true
}

func (q *queueState) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *queueState) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// NewMessageExchange creates an empty exchange for deviceKey.
func NewMessageExchange(deviceKey string) *MessageExchange {
	return &MessageExchange{DeviceKey: deviceKey}
}

// PushFrom enqueues frame onto the sender's outbound side: PLATFORM writes
// onto platform->app, APP writes onto app->platform.
func (e *MessageExchange) PushFrom(sender ActorType, frame []byte) bool {
	if sender == ActorPlatform {
		return e.platformToApp.push(frame)
	}
	return e.appToPlatform.push(frame)
}

// PopFor dequeues the next frame addressed to recipient: a PLATFORM
// recipient reads app->platform, an APP recipient reads platform->app.
func (e *MessageExchange) PopFor(recipient ActorType) ([]byte, bool) {
	if recipient == ActorPlatform {
		return e.appToPlatform.pop()
	}
	return e.platformToApp.pop()
}

// ClearQueues discards both directions' queued frames (§4.6: app admission
// clears stale data; platform re-admission after PARTNER_CLOSED does too).
func (e *MessageExchange) ClearQueues() {
	e.platformToApp.clear()
	e.appToPlatform.clear()
}

// Acquire registers a new owner and returns the new holder count.
func (e *MessageExchange) Acquire() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holders++
	return e.holders
}

// Release drops one owner and returns the remaining holder count.
func (e *MessageExchange) Release() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holders > 0 {
		e.holders--
	}
	return e.holders
}

// HolderCount reports the current number of owning connection tasks: 2
// means both platform and app are attached and live relay is possible, any
// other value means the caller should fall back to store-and-forward.
func (e *MessageExchange) HolderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holders
}

// exchangeHash is the non-cryptographic additive-shift hash from §4.6,
// intentionally simple — collisions are handled correctly by the
// directory's bucket scan, so a stronger hash is a drop-in improvement.
func exchangeHash(key string) uint32 {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = (h + uint32(key[i])) << 10
		h ^= h >> 6
	}
	h <<= 3
	h ^= h >> 11
	h <<= 15
	return h
}

const directoryBucketCount = 1024

// ExchangeDirectory is the name-keyed registry of active exchanges (C7),
// bucketed by exchangeHash and resolved within a bucket by exact string
// comparison (§4.6). Guarded by a single mutex; operations are O(bucket
// size).
type ExchangeDirectory struct {
	mu      sync.Mutex
	buckets [directoryBucketCount][]*MessageExchange
}

// NewExchangeDirectory returns an empty directory.
func NewExchangeDirectory() *ExchangeDirectory {
	return &ExchangeDirectory{}
}

func (d *ExchangeDirectory) bucketIndex(key string) uint32 {
	return exchangeHash(key) % directoryBucketCount
}

// Lookup returns the exchange registered for deviceKey, if any, without
// removing it.
func (d *ExchangeDirectory) Lookup(deviceKey string) (*MessageExchange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.bucketIndex(deviceKey)
	for _, ex := range d.buckets[idx] {
		if ex.DeviceKey == deviceKey {
			return ex, true
		}
	}
	return nil, false
}

// Insert registers ex under its device key. It does not check for an
// exchange already registered under that key; the platform admission path
// guards against duplicates through its connection_device_channel row check.
func (d *ExchangeDirectory) Insert(ex *MessageExchange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.bucketIndex(ex.DeviceKey)
	d.buckets[idx] = append(d.buckets[idx], ex)
}

// Pop removes and returns the exchange for deviceKey if present (the app
// admission "lookup-and-pop" of §4.6, so a second app cannot attach).
func (d *ExchangeDirectory) Pop(deviceKey string) (*MessageExchange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.bucketIndex(deviceKey)
	bucket := d.buckets[idx]
	for i, ex := range bucket {
		if ex.DeviceKey == deviceKey {
			d.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return ex, true
		}
	}
	return nil, false
}

// Remove deletes ex from the directory if it is still the registered
// exchange for its device key (used on admission failure/cleanup).
func (d *ExchangeDirectory) Remove(ex *MessageExchange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.bucketIndex(ex.DeviceKey)
	bucket := d.buckets[idx]
	for i, cand := range bucket {
		if cand == ex {
			d.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}
