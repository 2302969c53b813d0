// Package reactor implements the multi-interface SOME/IP runtime (spec
// section 4.4): socket lifecycle per interface, one reader goroutine per
// bound socket with a short poll timeout, request/response correlation, and
// subscriber fan-out. It ties
// together wire, session, sd, tp and config into the public Runtime API
// described in spec section 6.
package reactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"someipd/config"
	"someipd/logging"
	"someipd/rterr"
	"someipd/sd"
	"someipd/session"
	"someipd/tp"
	"someipd/wire"
)

// pollInterval bounds the event loop's timer resolution (spec section 4.4:
// "a short poll timeout, ~100ms, bounds timer resolution").
const pollInterval = 100 * time.Millisecond

// DefaultRequestTimeout is used when an instance's SD config leaves
// request_timeout_ms unset.
const DefaultRequestTimeout = 1 * time.Second

// offeredService is one locally offered service: its config, offer
// scheduler, and the sockets it was bound to.
type offeredService struct {
	alias     string
	providing config.Providing
	scheduler *sd.OfferScheduler
	udp       map[string]*net.UDPConn // interface alias -> data socket
	tcp       map[string]*net.TCPListener
}

// requiredClient is one locally required (consumed) service.
type requiredClient struct {
	alias    string
	required config.Required
}

// Runtime is one running instance of the SOME/IP stack: bound sockets, the
// SD protocol engine, the session counter, and the pending-request and
// subscriber tables. Inbound traffic is dispatched concurrently from one
// reader goroutine per bound socket; each table guards itself with its own
// lock.
type Runtime struct {
	cfg      *config.Config
	instName string
	inst     config.Instance
	logger   logging.Logger

	sessions     *session.Manager
	cache        *sd.Cache
	consumerSubs *sd.ConsumerSubscriptions
	subscribers  *sd.SubscriberRegistry
	reassembler  *tp.Reassembler
	handlers     *handlerRegistry
	pending      *pendingTable

	mu        sync.Mutex
	offered   map[string]*offeredService
	required  map[string]*requiredClient
	sdSockets []*sdSocket

	notifMu   sync.RWMutex
	notifiers map[handlerKey]func(payload []byte)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	requestTimeout time.Duration
}

// New constructs a Runtime for instance instanceName from the configuration
// document at configPath. Binding an offered service's socket is fatal on
// failure; auxiliary bind failures (e.g. a missing IPv6 leg) are logged at
// Warn and the runtime continues with reduced capability, per spec section
// 7's error policy.
func New(configPath, instanceName string, logger logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	inst, ok := cfg.Instances[instanceName]
	if !ok {
		return nil, rterr.New(rterr.KindConfigResolution, "unknown instance "+instanceName)
	}

	rt := &Runtime{
		cfg:            cfg,
		instName:       instanceName,
		inst:           inst,
		logger:         logger,
		sessions:       session.NewManager(),
		cache:          sd.NewCache(),
		consumerSubs:   sd.NewConsumerSubscriptions(),
		subscribers:    sd.NewSubscriberRegistry(),
		reassembler:    tp.NewReassembler(),
		handlers:       newHandlerRegistry(),
		pending:        newPendingTable(),
		offered:        make(map[string]*offeredService),
		required:       make(map[string]*requiredClient),
		notifiers:      make(map[handlerKey]func(payload []byte)),
		stopCh:         make(chan struct{}),
		requestTimeout: inst.RequestTimeout(DefaultRequestTimeout),
	}

	for alias, req := range inst.Required {
		rt.required[alias] = &requiredClient{alias: alias, required: req}
	}

	if err := rt.bindSDSockets(); err != nil {
		return nil, err
	}

	rt.wg.Add(1)
	go rt.pruneLoop()

	return rt, nil
}

// bindSDSockets opens one SD multicast socket per family referenced by any
// interface used in this instance, and starts a reader goroutine for each.
func (rt *Runtime) bindSDSockets() error {
	seen := make(map[string]bool)
	touch := func(ifaceAlias string) error {
		if seen[ifaceAlias] {
			return nil
		}
		seen[ifaceAlias] = true
		iface, ok := rt.cfg.Interfaces[ifaceAlias]
		if !ok {
			return rterr.New(rterr.KindConfigResolution, "unknown interface "+ifaceAlias)
		}
		if iface.SD.Endpoint != "" {
			ep, err := rt.cfg.ResolvedEndpoint(ifaceAlias, iface.SD.Endpoint)
			if err != nil {
				return err
			}
			if sock, err := rt.openSDSocket(ep); err != nil {
				rt.logger.Log(logging.Warn, "reactor", fmt.Sprintf("SD v4 bind failed on %s: %v", ifaceAlias, err))
			} else {
				rt.sdSockets = append(rt.sdSockets, sock)
			}
		}
		if iface.SD.EndpointV6 != "" {
			ep, err := rt.cfg.ResolvedEndpoint(ifaceAlias, iface.SD.EndpointV6)
			if err != nil {
				return err
			}
			if sock, err := rt.openSDSocket(ep); err != nil {
				rt.logger.Log(logging.Warn, "reactor", fmt.Sprintf("SD v6 bind failed on %s: %v", ifaceAlias, err))
			} else {
				rt.sdSockets = append(rt.sdSockets, sock)
			}
		}
		return nil
	}

	for ifaceAlias := range rt.inst.UnicastBind {
		if err := touch(ifaceAlias); err != nil {
			return err
		}
	}
	for _, p := range rt.inst.Providing {
		for ifaceAlias := range p.OfferOn {
			if err := touch(ifaceAlias); err != nil {
				return err
			}
		}
	}
	for _, r := range rt.inst.Required {
		for _, ifaceAlias := range r.FindOn {
			if err := touch(ifaceAlias); err != nil {
				return err
			}
		}
	}
	return nil
}

// sdSocket pairs a joined SD multicast socket with the group address to
// send cyclic offers and find/subscribe traffic to.
type sdSocket struct {
	conn   *net.UDPConn
	target *net.UDPAddr
}

func (rt *Runtime) openSDSocket(ep config.Endpoint) (*sdSocket, error) {
	conn, err := joinSDMulticast(ep)
	if err != nil {
		return nil, err
	}
	sock := &sdSocket{conn: conn, target: &net.UDPAddr{IP: net.ParseIP(ep.IP), Port: int(ep.Port)}}
	rt.wg.Add(1)
	go rt.readSDLoop(sock)
	return sock, nil
}

// OfferService binds the data socket(s) for the providing entry named
// alias and starts its offer scheduler. Bind failure here is fatal (spec
// section 7).
func (rt *Runtime) OfferService(alias string, handler Handler) error {
	p, ok := rt.inst.Providing[alias]
	if !ok {
		return rterr.New(rterr.KindConfigResolution, "unknown providing alias "+alias)
	}

	svc := &offeredService{
		alias:     alias,
		providing: p,
		scheduler: sd.NewOfferScheduler(rt.timingFor(p)),
		udp:       make(map[string]*net.UDPConn),
		tcp:       make(map[string]*net.TCPListener),
	}

	offerOn := p.OfferOn
	if len(offerOn) == 0 && p.Endpoint != "" {
		// Single-interface shorthand: bind on every interface this instance
		// already binds via unicast_bind, using the shared endpoint alias.
		offerOn = make(map[string]string)
		for ifaceAlias := range rt.inst.UnicastBind {
			offerOn[ifaceAlias] = p.Endpoint
		}
	}

	for ifaceAlias, endpointAlias := range offerOn {
		ep, err := rt.cfg.ResolvedEndpoint(ifaceAlias, endpointAlias)
		if err != nil {
			return err
		}
		conn, err := bindUDP(ep)
		if err != nil {
			return rterr.Wrap(rterr.KindBindFailure, "binding offered service "+alias+" on "+ifaceAlias, err)
		}
		svc.udp[ifaceAlias] = conn
		rt.wg.Add(1)
		go rt.readDataLoop(conn)

		if ep.Protocol == config.ProtoTCP {
			ln, err := bindTCPListener(ep)
			if err != nil {
				return rterr.Wrap(rterr.KindBindFailure, "binding TCP listener for "+alias+" on "+ifaceAlias, err)
			}
			svc.tcp[ifaceAlias] = ln
			rt.wg.Add(1)
			go rt.acceptLoop(ln)
		}
	}

	rt.mu.Lock()
	rt.offered[alias] = svc
	rt.mu.Unlock()

	rt.wg.Add(1)
	go rt.offerLoop(svc)

	if handler != nil {
		rt.RegisterHandler(p.ServiceID, 0, handler)
	}
	return nil
}

// RegisterHandler binds a method-level request handler for serviceID. A
// methodID of 0 is treated as a catch-all: OfferService's convenience
// overload registers handlers this way when callers don't care to split by
// method.
func (rt *Runtime) RegisterHandler(serviceID, methodID uint16, h Handler) {
	rt.handlers.register(serviceID, methodID, h)
}

func (rt *Runtime) timingFor(p config.Providing) sd.OfferTiming {
	timing := sd.OfferTiming{}
	if p.CycleOfferMs > 0 {
		timing.CycleOffer = time.Duration(p.CycleOfferMs) * time.Millisecond
	}
	return timing
}

// Stop cooperatively shuts down the runtime: every pending waiter is
// released with RuntimeStopped, every socket is closed, and every
// background goroutine joins before Stop returns.
func (rt *Runtime) Stop() {
	rt.stopOnce.Do(func() {
		close(rt.stopCh)
		rt.pending.stopAll(rterr.New(rterr.KindRuntimeStopped, "runtime stopped"))

		for _, sock := range rt.sdSockets {
			sock.conn.Close()
		}
		rt.mu.Lock()
		for _, svc := range rt.offered {
			for _, conn := range svc.udp {
				conn.Close()
			}
			for _, ln := range svc.tcp {
				ln.Close()
			}
		}
		rt.mu.Unlock()
	})
	rt.wg.Wait()
}

func (rt *Runtime) pruneLoop() {
	defer rt.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rt.stopCh:
			return
		case now := <-ticker.C:
			rt.reassembler.Prune(now.Add(-time.Minute))
		}
	}
}

// buildSDFrame assembles a single-entry, single-option SD message frame
// (used by the cyclic offer scheduler and ad-hoc find/subscribe/ack
// emission alike).
func buildSDFrame(sessionID uint16, reboot bool, entry wire.Entry, opt *wire.Option) []byte {
	msg := wire.Message{Reboot: reboot, Entries: []wire.Entry{entry}}
	if opt != nil {
		msg.Options = []wire.Option{*opt}
	}
	h := wire.Header{
		ServiceID:        wire.SDServiceIDValue,
		MethodID:         wire.SDMethodIDValue,
		SessionID:        sessionID,
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: 0x01,
		MessageType:      wire.MsgNotification,
		ReturnCode:       wire.RCOk,
	}
	return wire.BuildMessage(h, wire.SerializeSDMessage(msg))
}
