package reactor

import (
	"net"
	"time"

	"someipd/rterr"
	"someipd/sd"
	"someipd/tp"
	"someipd/wire"
)

// Client is a handle to one discovered remote service instance, bound to a
// dedicated UDP socket for request/response traffic (spec section 6).
type Client struct {
	rt       *Runtime
	alias    string
	target   sd.RemoteService
	conn     *net.UDPConn
	stopCh   chan struct{}
	stopOnce func()
}

// CreateClient resolves the required service named alias, waiting up to the
// instance's configured request timeout for a matching offer to appear in
// the discovery cache, and opens a dedicated socket to it. Returns a
// DiscoveryTimeout rterr if no matching offer arrives in time.
func (rt *Runtime) CreateClient(alias string) (*Client, error) {
	req, ok := rt.required[alias]
	if !ok {
		return nil, rterr.New(rterr.KindConfigResolution, "unknown required alias "+alias)
	}

	instanceID := req.required.InstanceID
	if svc, ok := rt.cache.Lookup(req.required.ServiceID, instanceID); ok {
		return rt.dialClient(alias, svc)
	}

	wait := rt.cache.AwaitAny(req.required.ServiceID)
	defer rt.cache.CancelWait(req.required.ServiceID, wait)

	select {
	case svc := <-wait:
		return rt.dialClient(alias, svc)
	case <-time.After(rt.requestTimeout):
		return nil, rterr.New(rterr.KindDiscoveryTimeout, "no offer for "+alias+" within request timeout")
	}
}

func (rt *Runtime) dialClient(alias string, svc sd.RemoteService) (*Client, error) {
	udpAddr, ok := svc.Addr.(*net.UDPAddr)
	if !ok {
		return nil, rterr.New(rterr.KindBindFailure, "discovered endpoint is not UDP")
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, rterr.Wrap(rterr.KindBindFailure, "dialing client socket for "+alias, err)
	}
	c := &Client{
		rt:     rt,
		alias:  alias,
		target: svc,
		conn:   conn,
		stopCh: make(chan struct{}),
	}
	rt.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.rt.wg.Done()
	defer c.conn.Close()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rt.stopCh:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		c.rt.handleInboundFrame(data, func([]byte) {})
	}
}

// Close releases the client's socket. Outstanding requests on it are left
// to time out normally.
func (c *Client) Close() {
	close(c.stopCh)
	c.conn.Close()
}

// SendRequest sends a Request for methodID and blocks for a Response or
// Error, up to the runtime's request timeout. Payloads larger than
// tp.DefaultMaxSegmentPayload are transparently segmented via SOME/IP-TP.
func (c *Client) SendRequest(methodID uint16, payload []byte) ([]byte, error) {
	serviceID := c.target.ServiceID
	sessionID := c.rt.sessions.Next(serviceID, methodID)
	key := pendingKey{serviceID, methodID, sessionID}
	waiter := c.rt.pending.register(key)

	if err := c.sendSegmented(serviceID, methodID, sessionID, wire.MsgRequest, payload); err != nil {
		c.rt.pending.release(key)
		return nil, err
	}

	select {
	case result := <-waiter:
		if result.Err != nil {
			return nil, result.Err
		}
		if result.ReturnCode != wire.RCOk {
			return nil, rterr.New(rterr.KindSocketIO, "remote returned non-ok return code")
		}
		return result.Payload, nil
	case <-time.After(c.rt.requestTimeout):
		c.rt.pending.release(key)
		return nil, rterr.New(rterr.KindTimeout, "no response within request timeout")
	}
}

// SendRequestNoReturn sends a fire-and-forget request: no waiter is
// registered and no response is expected.
func (c *Client) SendRequestNoReturn(methodID uint16, payload []byte) error {
	sessionID := c.rt.sessions.Next(c.target.ServiceID, methodID)
	return c.sendSegmented(c.target.ServiceID, methodID, sessionID, wire.MsgRequestNoReturn, payload)
}

// SubscribeEventgroup emits a SubscribeEventgroup SD entry for this client's
// target service/instance and records the local intent to subscribe; the ack
// updates ConsumerSubscriptions asynchronously once the provider replies.
func (c *Client) SubscribeEventgroup(eventgroupID uint16, ttl uint32) error {
	c.rt.consumerSubs.Subscribe(c.target.ServiceID, eventgroupID)
	entry := wire.Entry{
		Type:         wire.EntrySubscribeEventgroup,
		ServiceID:    c.target.ServiceID,
		InstanceID:   c.target.InstanceID,
		MajorVersion: c.target.MajorVersion,
		TTL:          ttl,
		EventgroupID: eventgroupID,
	}
	frame := buildSDFrame(c.rt.sessions.Next(wire.SDServiceIDValue, wire.SDMethodIDValue), false, entry, nil)
	c.rt.sendSDFrame(frame)
	return nil
}

// UnsubscribeEventgroup emits a StopSubscribe (TTL=0) entry and immediately
// clears the local acked-subscription record (spec section 4.3's decision to
// treat TTL=0 as synchronous, not just a remote-driven expiry).
func (c *Client) UnsubscribeEventgroup(eventgroupID uint16) error {
	c.rt.consumerSubs.Unsubscribe(c.target.ServiceID, eventgroupID)
	entry := wire.Entry{
		Type:         wire.EntrySubscribeEventgroup,
		ServiceID:    c.target.ServiceID,
		InstanceID:   c.target.InstanceID,
		MajorVersion: c.target.MajorVersion,
		TTL:          0,
		EventgroupID: eventgroupID,
	}
	frame := buildSDFrame(c.rt.sessions.Next(wire.SDServiceIDValue, wire.SDMethodIDValue), false, entry, nil)
	c.rt.sendSDFrame(frame)
	return nil
}

// IsSubscriptionAcked reports whether the provider has acknowledged this
// client's subscription to eventgroupID.
func (c *Client) IsSubscriptionAcked(eventgroupID uint16) bool {
	return c.rt.consumerSubs.IsAcked(c.target.ServiceID, eventgroupID)
}

func (c *Client) sendSegmented(serviceID, methodID, sessionID uint16, msgType wire.MessageType, payload []byte) error {
	if len(payload) <= tp.DefaultMaxSegmentPayload {
		h := wire.Header{
			ServiceID:        serviceID,
			MethodID:         methodID,
			SessionID:        sessionID,
			ProtocolVersion:  wire.ProtocolVersion,
			InterfaceVersion: 0x01,
			MessageType:      msgType,
		}
		_, err := c.conn.Write(wire.BuildMessage(h, payload))
		return err
	}

	for _, seg := range tp.SegmentPayload(payload, tp.DefaultMaxSegmentPayload) {
		h := wire.Header{
			ServiceID:        serviceID,
			MethodID:         methodID,
			SessionID:        sessionID,
			ProtocolVersion:  wire.ProtocolVersion,
			InterfaceVersion: 0x01,
			MessageType:      msgType.WithTP(),
		}
		body := append(tp.SerializeTPHeader(seg.Header), seg.Payload...)
		if _, err := c.conn.Write(wire.BuildMessage(h, body)); err != nil {
			return err
		}
	}
	return nil
}

// SendNotification fans payload out to every address currently subscribed
// to (serviceID, eventID)'s eventgroup, per spec section 4.3/4.4. Delivery
// is best-effort UDP; no acknowledgement is expected.
func (rt *Runtime) SendNotification(serviceID, eventID uint16, payload []byte) error {
	subscribers := rt.subscribers.Subscribers(serviceID, eventID)
	if len(subscribers) == 0 {
		return nil
	}

	rt.mu.Lock()
	var sock *net.UDPConn
	for _, svc := range rt.offered {
		if svc.providing.ServiceID == serviceID {
			for _, conn := range svc.udp {
				sock = conn
				break
			}
		}
		if sock != nil {
			break
		}
	}
	rt.mu.Unlock()
	if sock == nil {
		return rterr.New(rterr.KindConfigResolution, "no bound socket for offered service")
	}

	sessionID := rt.sessions.Next(serviceID, eventID)
	h := wire.Header{
		ServiceID:        serviceID,
		MethodID:         eventID,
		SessionID:        sessionID,
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: 0x01,
		MessageType:      wire.MsgNotification,
	}
	frame := wire.BuildMessage(h, payload)
	for _, addr := range subscribers {
		if udpAddr, ok := addr.(*net.UDPAddr); ok {
			sock.WriteToUDP(frame, udpAddr)
		}
	}
	return nil
}
