package reactor

import (
	"fmt"
	"net"
	"time"

	"someipd/logging"
	"someipd/sd"
	"someipd/tp"
	"someipd/wire"
)

// offerTTLSeconds is the TTL carried on every emitted OfferService entry:
// several cycle-offer periods, the common AUTOSAR stack convention so a
// single dropped cyclic offer doesn't expire a remote's discovery cache
// entry. SubscribeEventgroupAck entries echo the TTL of the Subscribe they
// answer instead.
const offerTTLSeconds = 6

// replyFunc sends a complete wire frame back to whoever sent the message
// dispatchMessage is currently handling.
type replyFunc func(frame []byte)

func (rt *Runtime) readDataLoop(conn *net.UDPConn) {
	defer rt.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		rt.handleInboundFrame(data, func(frame []byte) {
			conn.WriteToUDP(frame, addr)
		})
	}
}

func (rt *Runtime) acceptLoop(ln *net.TCPListener) {
	defer rt.wg.Done()
	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}
		ln.SetDeadline(time.Now().Add(pollInterval))
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		rt.wg.Add(1)
		go rt.readTCPConn(conn)
	}
}

func (rt *Runtime) readTCPConn(conn net.Conn) {
	defer rt.wg.Done()
	defer conn.Close()
	framer := &streamFramer{}
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		for _, frame := range framer.Feed(buf[:n]) {
			rt.handleInboundFrame(frame, func(resp []byte) {
				conn.Write(resp)
			})
		}
	}
}

func (rt *Runtime) readSDLoop(sock *sdSocket) {
	defer rt.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}
		sock.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := sock.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		rt.handleSDPacket(sock, addr, data)
	}
}

// handleInboundFrame parses one complete wire frame (UDP datagram or framed
// TCP message), reassembling TP segments before dispatch.
func (rt *Runtime) handleInboundFrame(data []byte, reply replyFunc) {
	h, payload, err := wire.SplitMessage(data)
	if err != nil {
		rt.logger.Log(logging.Warn, "reactor", fmt.Sprintf("dropping malformed frame: %v", err))
		return
	}

	if h.MessageType.IsTP() {
		if len(payload) < tp.HeaderSize {
			return
		}
		tph, err := tp.DeserializeTPHeader(payload)
		if err != nil {
			rt.logger.Log(logging.Warn, "tp", fmt.Sprintf("bad TP header: %v", err))
			return
		}
		key := tp.SessionKey{ServiceID: h.ServiceID, MethodID: h.MethodID, ClientID: h.ClientID, SessionID: h.SessionID}
		full, complete, err := rt.reassembler.Insert(key, tph, payload[tp.HeaderSize:])
		if err != nil {
			rt.logger.Log(logging.Error, "tp", fmt.Sprintf("reassembly failed: %v", err))
			return
		}
		if !complete {
			return
		}
		h.MessageType = h.MessageType.WithoutTP()
		payload = full
	}

	rt.dispatchMessage(h, payload, reply)
}

func (rt *Runtime) dispatchMessage(h wire.Header, payload []byte, reply replyFunc) {
	switch h.MessageType {
	case wire.MsgRequest, wire.MsgRequestNoReturn:
		rt.dispatchRequest(h, payload, reply)
	case wire.MsgNotification:
		rt.dispatchNotification(h, payload)
	case wire.MsgResponse, wire.MsgError:
		rt.pending.deliver(pendingKey{h.ServiceID, h.MethodID, h.SessionID}, pendingResult{
			ReturnCode: h.ReturnCode,
			Payload:    payload,
		})
	}
}

func (rt *Runtime) dispatchRequest(h wire.Header, payload []byte, reply replyFunc) {
	expectsReply := h.MessageType == wire.MsgRequest

	handler, knownService, knownMethod := rt.handlers.lookup(h.ServiceID, h.MethodID)
	if !knownService {
		if expectsReply {
			reply(rt.buildErrorFrame(h, wire.RCUnknownService))
		}
		return
	}
	if !knownMethod {
		if expectsReply {
			reply(rt.buildErrorFrame(h, wire.RCUnknownMethod))
		}
		return
	}

	resp, err := handler(h, payload)
	if !expectsReply {
		return
	}
	if err != nil {
		reply(rt.buildErrorFrame(h, wire.RCNotOk))
		return
	}
	reply(rt.buildResponseFrame(h, resp))
}

func (rt *Runtime) dispatchNotification(h wire.Header, payload []byte) {
	rt.notifMu.RLock()
	fn, ok := rt.notifiers[handlerKey{h.ServiceID, h.MethodID}]
	rt.notifMu.RUnlock()
	if ok {
		fn(payload)
	}
}

func (rt *Runtime) buildResponseFrame(req wire.Header, payload []byte) []byte {
	resp := req
	resp.MessageType = wire.MsgResponse
	resp.ReturnCode = wire.RCOk
	return wire.BuildMessage(resp, payload)
}

func (rt *Runtime) buildErrorFrame(req wire.Header, rc wire.ReturnCode) []byte {
	resp := req
	resp.MessageType = wire.MsgError
	resp.ReturnCode = rc
	return wire.BuildMessage(resp, nil)
}

// OnNotification registers a callback invoked whenever a Notification for
// (serviceID, eventID) arrives. Used by subscribers to observe events they
// have subscribed to.
func (rt *Runtime) OnNotification(serviceID, eventID uint16, fn func(payload []byte)) {
	rt.notifMu.Lock()
	rt.notifiers[handlerKey{serviceID, eventID}] = fn
	rt.notifMu.Unlock()
}

// handleSDPacket interprets one inbound SD datagram: offers update the
// discovery cache, finds targeting a locally offered service get an
// immediate unicast offer back, subscribes register the sender and get
// acked, stop-subscribes (TTL = 0) remove the sender, and acks mark a
// consumer-side subscription confirmed.
func (rt *Runtime) handleSDPacket(sock *sdSocket, addr *net.UDPAddr, data []byte) {
	h, payload, err := wire.SplitMessage(data)
	if err != nil || h.ServiceID != wire.SDServiceIDValue {
		return
	}
	msg, err := wire.DeserializeSDMessage(payload)
	if err != nil {
		rt.logger.Log(logging.Warn, "sd", fmt.Sprintf("malformed SD packet from %s: %v", addr, err))
		return
	}

	for _, re := range sd.ResolveEntries(msg) {
		switch re.Entry.Type {
		case wire.EntryOfferService:
			rt.handleOfferEntry(re, addr)
		case wire.EntryFindService:
			rt.handleFindEntry(sock, re, addr)
		case wire.EntrySubscribeEventgroup:
			rt.handleSubscribeEntry(sock, re, addr)
		case wire.EntrySubscribeEventgroupAck:
			rt.consumerSubs.Ack(re.Entry.ServiceID, re.Entry.EventgroupID, re.Entry.TTL)
		}
	}
}

func (rt *Runtime) handleOfferEntry(re sd.ResolvedEntry, addr *net.UDPAddr) {
	if re.Entry.IsStop() {
		rt.cache.StopOffer(re.Entry.ServiceID, re.Entry.InstanceID)
		return
	}
	var peer net.Addr = addr
	for _, opt := range re.Options {
		if opt.Type == wire.OptionIPv4Endpoint || opt.Type == wire.OptionIPv6Endpoint {
			peer = &net.UDPAddr{IP: opt.Addr, Port: int(opt.Port)}
			break
		}
	}
	rt.cache.Offer(sd.RemoteService{
		ServiceID:    re.Entry.ServiceID,
		InstanceID:   re.Entry.InstanceID,
		MajorVersion: re.Entry.MajorVersion,
		MinorVersion: re.Entry.MinorVersion,
		Addr:         peer,
	})
}

func (rt *Runtime) handleFindEntry(sock *sdSocket, re sd.ResolvedEntry, addr *net.UDPAddr) {
	rt.mu.Lock()
	var match *offeredService
	for _, svc := range rt.offered {
		if svc.providing.ServiceID == re.Entry.ServiceID &&
			(re.Entry.InstanceID == sd.AnyInstance || svc.providing.InstanceID == re.Entry.InstanceID) {
			match = svc
			break
		}
	}
	rt.mu.Unlock()
	if match == nil {
		return
	}
	frame := rt.buildOfferFrame(match)
	sock.conn.WriteToUDP(frame, addr)
}

func (rt *Runtime) handleSubscribeEntry(sock *sdSocket, re sd.ResolvedEntry, addr *net.UDPAddr) {
	var peer net.Addr = addr
	for _, opt := range re.Options {
		if opt.Type == wire.OptionIPv4Endpoint || opt.Type == wire.OptionIPv6Endpoint {
			peer = &net.UDPAddr{IP: opt.Addr, Port: int(opt.Port)}
			break
		}
	}
	if re.Entry.IsStop() {
		rt.subscribers.Remove(re.Entry.ServiceID, re.Entry.EventgroupID, peer)
		return
	}
	rt.subscribers.Add(re.Entry.ServiceID, re.Entry.EventgroupID, peer)

	ack := wire.Entry{
		Type:         wire.EntrySubscribeEventgroupAck,
		ServiceID:    re.Entry.ServiceID,
		InstanceID:   re.Entry.InstanceID,
		MajorVersion: re.Entry.MajorVersion,
		TTL:          re.Entry.TTL,
		EventgroupID: re.Entry.EventgroupID,
	}
	frame := buildSDFrame(rt.sessions.Next(wire.SDServiceIDValue, wire.SDMethodIDValue), false, ack, nil)
	sock.conn.WriteToUDP(frame, addr)
}

// buildOfferFrame assembles the single-entry OfferService SD frame for an
// offered service, using its first bound data endpoint as the option.
func (rt *Runtime) buildOfferFrame(svc *offeredService) []byte {
	var ip string
	var port uint16
	for _, conn := range svc.udp {
		if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			ip, port = a.IP.String(), uint16(a.Port)
		}
		break
	}
	entry := wire.Entry{
		Type:         wire.EntryOfferService,
		ServiceID:    svc.providing.ServiceID,
		InstanceID:   svc.providing.InstanceID,
		MajorVersion: svc.providing.MajorVersion,
		MinorVersion: svc.providing.MinorVersion,
		TTL:          offerTTLSeconds,
		NumOpts1st:   1,
	}
	proto := wire.ProtoUDP
	if svc.providing.Protocol == "tcp" {
		proto = wire.ProtoTCP
	}
	opt := wire.Option{Type: wire.OptionIPv4Endpoint, Addr: net.ParseIP(ip), Protocol: proto, Port: port}
	return buildSDFrame(rt.sessions.Next(wire.SDServiceIDValue, wire.SDMethodIDValue), false, entry, &opt)
}

// offerLoop drives one offered service's cyclic-offer state machine
// (spec section 4.2: Down -> InitialWait -> Repetition -> Main).
func (rt *Runtime) offerLoop(svc *offeredService) {
	defer rt.wg.Done()
	wait := svc.scheduler.Start()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-rt.stopCh:
			if svc.scheduler.Stop() {
				rt.sendStopOffer(svc)
			}
			return
		case <-timer.C:
			emit, next := svc.scheduler.Advance()
			if emit {
				rt.sendSDFrame(rt.buildOfferFrame(svc))
			}
			timer.Reset(next)
		}
	}
}

func (rt *Runtime) sendStopOffer(svc *offeredService) {
	entry := wire.Entry{
		Type:         wire.EntryOfferService,
		ServiceID:    svc.providing.ServiceID,
		InstanceID:   svc.providing.InstanceID,
		MajorVersion: svc.providing.MajorVersion,
		TTL:          0,
	}
	rt.sendSDFrame(buildSDFrame(rt.sessions.Next(wire.SDServiceIDValue, wire.SDMethodIDValue), false, entry, nil))
}

func (rt *Runtime) sendSDFrame(frame []byte) {
	for _, sock := range rt.sdSockets {
		sock.conn.WriteToUDP(frame, sock.target)
	}
}
