package reactor

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"someipd/config"
	"someipd/logging"
	"someipd/rterr"
	"someipd/sd"
	"someipd/session"
	"someipd/tp"
	"someipd/wire"
)

// newTestRuntime builds a bare Runtime with every table initialized but no
// bound sockets, for tests that only need the in-process dispatch/session/
// discovery machinery and manage their own sockets directly.
func newTestRuntime(t *testing.T, requestTimeout time.Duration) *Runtime {
	t.Helper()
	rt := &Runtime{
		logger:         logging.NopLogger{},
		sessions:       session.NewManager(),
		cache:          sd.NewCache(),
		consumerSubs:   sd.NewConsumerSubscriptions(),
		subscribers:    sd.NewSubscriberRegistry(),
		reassembler:    tp.NewReassembler(),
		handlers:       newHandlerRegistry(),
		pending:        newPendingTable(),
		offered:        make(map[string]*offeredService),
		required:       make(map[string]*requiredClient),
		notifiers:      make(map[handlerKey]func([]byte)),
		stopCh:         make(chan struct{}),
		requestTimeout: requestTimeout,
	}
	t.Cleanup(func() {
		rt.stopOnce.Do(func() { close(rt.stopCh) })
	})
	return rt
}

// TestRuntime_RequestResponse_SpecScenario exercises the section 8 scenario
// 2 example end to end over a real loopback UDP socket: a Request carrying
// two big-endian int32s gets a Response carrying their sum.
func TestRuntime_RequestResponse_SpecScenario(t *testing.T) {
	rt := newTestRuntime(t, time.Second)

	conn, err := bindUDP(config.Endpoint{IP: "127.0.0.1", Port: 0, Version: config.IPv4})
	if err != nil {
		t.Fatalf("bindUDP: %v", err)
	}
	defer conn.Close()

	rt.RegisterHandler(0x1001, 0x0001, func(h wire.Header, payload []byte) ([]byte, error) {
		a := int32(binary.BigEndian.Uint32(payload[0:4]))
		b := int32(binary.BigEndian.Uint32(payload[4:8]))
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, uint32(a+b))
		return resp, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		buf := make([]byte, 1500)
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			rt.handleInboundFrame(data, func(frame []byte) {
				conn.WriteToUDP(frame, addr)
			})
		}
	}()
	defer func() { close(stop); wg.Wait() }()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := []byte{0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x03}
	req := wire.BuildMessage(wire.Header{
		ServiceID:        0x1001,
		MethodID:         0x0001,
		SessionID:        1,
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: 0x01,
		MessageType:      wire.MsgRequest,
	}, payload)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	h, respPayload, err := wire.SplitMessage(buf[:n])
	if err != nil {
		t.Fatalf("split response: %v", err)
	}
	if h.MessageType != wire.MsgResponse {
		t.Fatalf("expected MessageType Response, got 0x%02x", h.MessageType)
	}
	want := []byte{0x00, 0x00, 0x00, 0x08}
	if len(respPayload) != 4 || string(respPayload) != string(want) {
		t.Fatalf("expected sum payload %v, got %v", want, respPayload)
	}
}

func TestRuntime_CreateClient_DiscoveryTimeout(t *testing.T) {
	rt := newTestRuntime(t, 100*time.Millisecond)
	rt.required["meter"] = &requiredClient{
		alias:    "meter",
		required: config.Required{ServiceID: 0x5000, InstanceID: sd.AnyInstance},
	}

	start := time.Now()
	_, err := rt.CreateClient("meter")
	elapsed := time.Since(start)

	if !rterr.Is(err, rterr.KindDiscoveryTimeout) {
		t.Fatalf("expected DiscoveryTimeout, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("returned before the request timeout elapsed: %v", elapsed)
	}
	if elapsed > 600*time.Millisecond {
		t.Fatalf("took implausibly long to time out: %v", elapsed)
	}
}

func TestRuntime_CreateClient_ResolvesImmediatelyFromCache(t *testing.T) {
	rt := newTestRuntime(t, time.Second)
	rt.required["meter"] = &requiredClient{
		alias:    "meter",
		required: config.Required{ServiceID: 0x5000, InstanceID: sd.AnyInstance},
	}
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
	rt.cache.Offer(sd.RemoteService{ServiceID: 0x5000, InstanceID: 1, Addr: target})

	client, err := rt.CreateClient("meter")
	if err != nil {
		t.Fatalf("expected immediate resolution from cache, got %v", err)
	}
	defer client.Close()
}

func TestHandlerRegistry_UnknownServiceProducesErrorReply(t *testing.T) {
	rt := newTestRuntime(t, time.Second)

	req := wire.Header{
		ServiceID:        0x9999,
		MethodID:         0x0001,
		SessionID:        1,
		MessageType:      wire.MsgRequest,
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: 0x01,
	}
	var gotFrame []byte
	rt.dispatchMessage(req, nil, func(frame []byte) { gotFrame = frame })

	h, _, err := wire.SplitMessage(gotFrame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if h.MessageType != wire.MsgError || h.ReturnCode != wire.RCUnknownService {
		t.Fatalf("expected UnknownService error, got type=0x%02x rc=0x%02x", h.MessageType, h.ReturnCode)
	}
}

func TestHandlerRegistry_UnknownMethodProducesErrorReply(t *testing.T) {
	rt := newTestRuntime(t, time.Second)
	rt.RegisterHandler(0x1001, 0x0001, func(wire.Header, []byte) ([]byte, error) { return nil, nil })

	req := wire.Header{
		ServiceID:        0x1001,
		MethodID:         0x0099,
		SessionID:        1,
		MessageType:      wire.MsgRequest,
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: 0x01,
	}
	var gotFrame []byte
	rt.dispatchMessage(req, nil, func(frame []byte) { gotFrame = frame })

	h, _, err := wire.SplitMessage(gotFrame)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if h.MessageType != wire.MsgError || h.ReturnCode != wire.RCUnknownMethod {
		t.Fatalf("expected UnknownMethod error, got type=0x%02x rc=0x%02x", h.MessageType, h.ReturnCode)
	}
}

func TestDispatchMessage_RequestNoReturnNeverReplies(t *testing.T) {
	rt := newTestRuntime(t, time.Second)
	called := false
	rt.RegisterHandler(0x1001, 0x0001, func(wire.Header, []byte) ([]byte, error) {
		called = true
		return []byte("ignored"), nil
	})

	req := wire.Header{
		ServiceID:   0x1001,
		MethodID:    0x0001,
		MessageType: wire.MsgRequestNoReturn,
	}
	replied := false
	rt.dispatchMessage(req, nil, func([]byte) { replied = true })

	if !called {
		t.Fatalf("expected handler to run for RequestNoReturn")
	}
	if replied {
		t.Fatalf("RequestNoReturn must never produce a reply")
	}
}

func TestDispatchMessage_ResponseDeliversToPendingWaiter(t *testing.T) {
	rt := newTestRuntime(t, time.Second)
	key := pendingKey{ServiceID: 0x1001, MethodID: 0x0001, SessionID: 5}
	waiter := rt.pending.register(key)

	resp := wire.Header{
		ServiceID:   0x1001,
		MethodID:    0x0001,
		SessionID:   5,
		MessageType: wire.MsgResponse,
		ReturnCode:  wire.RCOk,
	}
	rt.dispatchMessage(resp, []byte{0xAA}, nil)

	select {
	case result := <-waiter:
		if result.ReturnCode != wire.RCOk || len(result.Payload) != 1 || result.Payload[0] != 0xAA {
			t.Fatalf("unexpected delivered result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}
