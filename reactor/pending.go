package reactor

import (
	"sync"

	"someipd/wire"
)

// pendingKey identifies one in-flight request awaiting a response, per spec
// section 3's Pending Request record.
type pendingKey struct {
	ServiceID uint16
	MethodID  uint16
	SessionID uint16
}

// pendingResult is what a waiter receives: either a payload (success or
// application error return code) or a local Err (timeout, runtime stopped).
type pendingResult struct {
	ReturnCode wire.ReturnCode
	Payload    []byte
	Err        error
}

type pendingTable struct {
	mu      sync.Mutex
	waiters map[pendingKey]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[pendingKey]chan pendingResult)}
}

// register creates a one-shot waiter for key. The waiter stays in the table
// until deliver, release or stopAll removes it.
func (t *pendingTable) register(key pendingKey) chan pendingResult {
	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.waiters[key] = ch
	t.mu.Unlock()
	return ch
}

// deliver completes the waiter for key, if one is registered, and removes
// it. Unmatched responses are silently discarded, per spec section 4.4.
func (t *pendingTable) deliver(key pendingKey, result pendingResult) {
	t.mu.Lock()
	ch, ok := t.waiters[key]
	if ok {
		delete(t.waiters, key)
	}
	t.mu.Unlock()
	if ok {
		ch <- result
	}
}

// release removes key's waiter without delivering anything (used on
// timeout, where the caller already gave up).
func (t *pendingTable) release(key pendingKey) {
	t.mu.Lock()
	delete(t.waiters, key)
	t.mu.Unlock()
}

// stopAll delivers RuntimeStopped to every outstanding waiter and clears
// the table, per spec section 5's shutdown guarantee.
func (t *pendingTable) stopAll(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[pendingKey]chan pendingResult)
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- pendingResult{Err: err}
	}
}
