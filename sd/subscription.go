package sd

import (
	"net"
	"sync"
)

// eventgroupKey identifies one (ServiceId, EventgroupId) pair.
type eventgroupKey struct {
	ServiceID    uint16
	EventgroupID uint16
}

// ConsumerSubscriptions tracks this process's outstanding subscriptions to
// remote event groups: (ServiceId, EventgroupId) -> acknowledged?, per spec
// section 3.
type ConsumerSubscriptions struct {
	mu    sync.RWMutex
	acked map[eventgroupKey]bool
}

// NewConsumerSubscriptions returns an empty tracker.
func NewConsumerSubscriptions() *ConsumerSubscriptions {
	return &ConsumerSubscriptions{acked: make(map[eventgroupKey]bool)}
}

// Subscribe records the intent to subscribe, initially unacknowledged.
func (c *ConsumerSubscriptions) Subscribe(serviceID, eventgroupID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[eventgroupKey{serviceID, eventgroupID}] = false
}

// Ack marks a subscription acknowledged (SubscribeEventgroupAck with TTL >
// 0) or removes it entirely (TTL == 0, per the open-question resolution:
// local removal is immediate on any Stop-Subscribe regardless of whether
// the Ack was already seen).
func (c *ConsumerSubscriptions) Ack(serviceID, eventgroupID uint16, ttl uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := eventgroupKey{serviceID, eventgroupID}
	if ttl == 0 {
		delete(c.acked, key)
		return
	}
	c.acked[key] = true
}

// Unsubscribe removes the subscription record immediately; a Stop-Subscribe
// entry is still emitted by the caller so the provider can drop its
// subscriber record, but the local bookkeeping does not wait for the ack.
func (c *ConsumerSubscriptions) Unsubscribe(serviceID, eventgroupID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.acked, eventgroupKey{serviceID, eventgroupID})
}

// IsAcked reports whether (serviceID, eventgroupID) is subscribed and
// acknowledged.
func (c *ConsumerSubscriptions) IsAcked(serviceID, eventgroupID uint16) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acked[eventgroupKey{serviceID, eventgroupID}]
}

// addrKey makes net.Addr comparable as a map key via its string form;
// net.UDPAddr/net.TCPAddr values are not otherwise usable as map keys
// across distinct pointer identities for the same address.
func addrKey(a net.Addr) string { return a.Network() + "|" + a.String() }

// SubscriberRegistry tracks, per offered event group, the set of consumer
// addresses that have subscribed, per spec section 3's Subscriber record.
// Membership is idempotent.
type SubscriberRegistry struct {
	mu          sync.RWMutex
	subscribers map[eventgroupKey]map[string]net.Addr
}

// NewSubscriberRegistry returns an empty registry.
func NewSubscriberRegistry() *SubscriberRegistry {
	return &SubscriberRegistry{subscribers: make(map[eventgroupKey]map[string]net.Addr)}
}

// Add records addr as subscribed to (serviceID, eventgroupID). Adding the
// same address twice is a no-op: spec section 8's subscriber-idempotence
// property.
func (r *SubscriberRegistry) Add(serviceID, eventgroupID uint16, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventgroupKey{serviceID, eventgroupID}
	set, ok := r.subscribers[key]
	if !ok {
		set = make(map[string]net.Addr)
		r.subscribers[key] = set
	}
	set[addrKey(addr)] = addr
}

// Remove drops addr's subscription to (serviceID, eventgroupID).
func (r *SubscriberRegistry) Remove(serviceID, eventgroupID uint16, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventgroupKey{serviceID, eventgroupID}
	set, ok := r.subscribers[key]
	if !ok {
		return
	}
	delete(set, addrKey(addr))
	if len(set) == 0 {
		delete(r.subscribers, key)
	}
}

// Subscribers returns the current subscriber addresses for (serviceID,
// eventgroupID), for notification fan-out.
func (r *SubscriberRegistry) Subscribers(serviceID, eventgroupID uint16) []net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subscribers[eventgroupKey{serviceID, eventgroupID}]
	out := make([]net.Addr, 0, len(set))
	for _, a := range set {
		out = append(out, a)
	}
	return out
}

// Count returns the number of distinct subscribers for (serviceID,
// eventgroupID).
func (r *SubscriberRegistry) Count(serviceID, eventgroupID uint16) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[eventgroupKey{serviceID, eventgroupID}])
}
