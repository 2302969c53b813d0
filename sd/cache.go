package sd

import (
	"net"
	"sync"
)

// AnyInstance is the InstanceId a consumer uses to mean "any instance of
// this service" (spec section 3).
const AnyInstance uint16 = 0xFFFF

// ServiceKey identifies one discoverable service.
type ServiceKey struct {
	ServiceID  uint16
	InstanceID uint16
}

// RemoteService is a discovered provider's identity and transport address,
// per spec section 3's Remote Service record.
type RemoteService struct {
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32
	Addr         net.Addr
}

// Cache tracks remote services discovered via SD Offers, keyed by
// (ServiceId, InstanceId). Lookups also support AnyInstance, returning any
// one matching record.
type Cache struct {
	mu       sync.RWMutex
	services map[ServiceKey]RemoteService
	waiters  map[uint16][]chan RemoteService // keyed by ServiceID, for AnyInstance waits
}

// NewCache returns an empty discovery cache.
func NewCache() *Cache {
	return &Cache{
		services: make(map[ServiceKey]RemoteService),
		waiters:  make(map[uint16][]chan RemoteService),
	}
}

// Offer records (or replaces) a discovered service. Per spec section 4.3,
// an endpoint that differs from a cached entry is silently replaced: no
// TTL-respecting refresh window is implemented. Any waiters blocked in
// AwaitAny for this ServiceID are woken with the new record.
func (c *Cache) Offer(svc RemoteService) {
	c.mu.Lock()
	key := ServiceKey{ServiceID: svc.ServiceID, InstanceID: svc.InstanceID}
	c.services[key] = svc
	waiting := c.waiters[svc.ServiceID]
	delete(c.waiters, svc.ServiceID)
	c.mu.Unlock()

	for _, ch := range waiting {
		ch <- svc
		close(ch)
	}
}

// StopOffer removes a discovered service (TTL = 0 arrived).
func (c *Cache) StopOffer(serviceID, instanceID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, ServiceKey{ServiceID: serviceID, InstanceID: instanceID})
}

// Lookup returns the record for (serviceID, instanceID). If instanceID is
// AnyInstance, any one matching record for serviceID is returned.
func (c *Cache) Lookup(serviceID, instanceID uint16) (RemoteService, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if instanceID != AnyInstance {
		svc, ok := c.services[ServiceKey{ServiceID: serviceID, InstanceID: instanceID}]
		return svc, ok
	}
	for _, svc := range c.services {
		if svc.ServiceID == serviceID {
			return svc, true
		}
	}
	return RemoteService{}, false
}

// AwaitAny returns a channel that receives the first offer matching
// serviceID (any instance) observed after this call, or the value
// immediately if a matching service is already cached. The caller is
// responsible for applying its own timeout; the channel is never closed
// without a value unless Offer delivers one, and CancelWait should be
// called if the wait is abandoned before a value arrives.
func (c *Cache) AwaitAny(serviceID uint16) <-chan RemoteService {
	c.mu.Lock()
	for _, svc := range c.services {
		if svc.ServiceID == serviceID {
			c.mu.Unlock()
			ch := make(chan RemoteService, 1)
			ch <- svc
			close(ch)
			return ch
		}
	}
	ch := make(chan RemoteService, 1)
	c.waiters[serviceID] = append(c.waiters[serviceID], ch)
	c.mu.Unlock()
	return ch
}

// CancelWait removes ch from the waiter list for serviceID; safe to call
// even if ch already fired.
func (c *Cache) CancelWait(serviceID uint16, ch <-chan RemoteService) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[serviceID]
	for i, w := range list {
		if w == ch {
			c.waiters[serviceID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
