package reactor

import (
	"sync"

	"someipd/wire"
)

// Handler processes an inbound Request or RequestNoReturn. A non-nil
// returned response is sent back (with bumped MessageType 0x80) only when
// the inbound message type was Request, per spec section 4.4.
type Handler func(h wire.Header, payload []byte) (response []byte, err error)

type handlerKey struct {
	ServiceID uint16
	MethodID  uint16
}

// handlerRegistry maps (ServiceId, MethodId) to the Handler offered for it,
// and separately tracks which ServiceIds have at least one registered
// method, so a miss can be reported as UnknownMethod rather than
// UnknownService when the service itself is known.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	services map[uint16]bool
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[handlerKey]Handler),
		services: make(map[uint16]bool),
	}
}

func (r *handlerRegistry) register(serviceID, methodID uint16, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey{serviceID, methodID}] = h
	r.services[serviceID] = true
}

func (r *handlerRegistry) unregisterService(serviceID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.handlers {
		if k.ServiceID == serviceID {
			delete(r.handlers, k)
		}
	}
	delete(r.services, serviceID)
}

// lookup returns (handler, knownService, knownMethod). A registration under
// methodID 0 acts as a catch-all for every method of that service, checked
// only after an exact (ServiceId, MethodId) match misses.
func (r *handlerRegistry) lookup(serviceID, methodID uint16) (Handler, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[handlerKey{serviceID, methodID}]; ok {
		return h, true, true
	}
	if h, ok := r.handlers[handlerKey{serviceID, 0}]; ok && methodID != 0 {
		return h, true, true
	}
	return nil, r.services[serviceID], false
}
