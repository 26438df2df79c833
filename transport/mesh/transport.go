package mesh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/metrics"
)

// Options configures the peer-mesh transport per spec.md §4.6.
type Options struct {
	NodeID              string
	Host                string
	Port                int
	Peers               []string
	ReconnectIntervalMs int
	Logger              *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.NodeID == "" {
		o.NodeID = newNodeID()
	}
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.Port == 0 {
		o.Port = 9090
	}
	if o.ReconnectIntervalMs == 0 {
		o.ReconnectIntervalMs = 5000
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// peerConn is the bookkeeping record for one handshake-complete
// connection, keyed by the remote's nodeId. address is set only for
// connections we dialed ourselves, and records which configured peer
// address this nodeId currently resolves to.
type peerConn struct {
	client  *client
	address string
}

// Transport is the TCP peer-mesh federation transport. It listens for
// inbound peers and dials every address in Options.Peers, deduplicating
// so that only one live connection per remote nodeId survives.
type Transport struct {
	opts Options
	hub  *hub.Hub
	log  *logging.Logger

	listener net.Listener

	mu          sync.Mutex
	stopped     bool
	readyByNode map[string]*peerConn
	addrToNode  map[string]string
	dialing     map[string]struct{}
	timers      map[string]*time.Timer
	breakers    map[string]*gobreaker.CircuitBreaker

	wg sync.WaitGroup
}

// New constructs a peer-mesh transport. It does not dial or listen until
// Start is called.
func New(opts Options) *Transport {
	o := opts.withDefaults()
	return &Transport{
		opts:        o,
		log:         o.Logger,
		readyByNode: make(map[string]*peerConn),
		addrToNode:  make(map[string]string),
		dialing:     make(map[string]struct{}),
		timers:      make(map[string]*time.Timer),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Start implements kernel.Transport: bind the listener, spawn the accept
// loop, and kick off an initial dial for every configured peer address.
func (t *Transport) Start(ctx context.Context, h *hub.Hub) error {
	t.hub = h

	addr := fmt.Sprintf("%s:%d", t.opts.Host, t.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mesh: listen %s: %w", addr, err)
	}
	t.listener = ln

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.acceptLoop()
	}()

	for _, peer := range t.opts.Peers {
		t.scheduleDial(peer)
	}

	return nil
}

// Stop implements kernel.Transport: cancel pending reconnect timers,
// close the listener, close every live peer connection this transport
// owns, and wait for their read loops to exit.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[string]*time.Timer)
	conns := make([]*client, 0, len(t.readyByNode))
	for _, pc := range t.readyByNode {
		conns = append(conns, pc.client)
	}
	t.mu.Unlock()

	if t.listener != nil {
		t.listener.Close()
	}
	for _, c := range conns {
		_ = c.Close("mesh transport stopping")
	}

	t.wg.Wait()
	return nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if stopped {
				return
			}
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn, "", false)
		}()
	}
}

// handleConnection runs the hello handshake then the message read loop
// for one TCP connection, whether we dialed it (isDialer) or accepted
// it. address is non-empty only for a connection bound to a configured
// peer address, which is what makes it eligible for reconnection.
func (t *Transport) handleConnection(conn net.Conn, address string, isDialer bool) {
	defer conn.Close()

	if isDialer {
		if err := writeHello(conn, t.opts.NodeID); err != nil {
			t.log.Debug("mesh: failed writing hello", logging.String("address", address), logging.Err(err))
			t.afterConnectionClosed(address)
			return
		}
	}

	reader := bufio.NewReader(conn)
	var pc *peerConn
	defer func() {
		if pc != nil {
			t.onPeerGone(pc)
		}
		t.afterConnectionClosed(address)
	}()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.log.Error("mesh: dropping malformed envelope", logging.Err(err))
			continue
		}

		switch env.Kind {
		case "hello":
			if pc != nil || env.NodeID == "" {
				continue
			}
			if !isDialer {
				if err := writeHello(conn, t.opts.NodeID); err != nil {
					return
				}
			}
			if address != "" {
				// Record this regardless of who wins registerReady below:
				// it's our own dial, so we now know which nodeId this
				// configured address resolves to even if the inbound side
				// of a concurrent mutual dial wins the race instead.
				t.mu.Lock()
				t.addrToNode[address] = env.NodeID
				t.mu.Unlock()
			}
			newPC, ok := t.registerReady(conn, env.NodeID, address)
			if !ok {
				t.log.Debug("mesh: duplicate connection for peer, closing", logging.String("nodeId", env.NodeID))
				return
			}
			pc = newPC
		case "message":
			if pc == nil || env.Message == nil {
				continue
			}
			t.hub.Receive(*env.Message, pc.client.ID())
		}
	}
}

// registerReady admits a handshake-complete connection as the live peer
// for remoteID, unless one already exists — in which case the caller
// closes the new connection and keeps the existing one.
func (t *Transport) registerReady(conn net.Conn, remoteID, address string) (*peerConn, bool) {
	t.mu.Lock()
	if _, exists := t.readyByNode[remoteID]; exists {
		t.mu.Unlock()
		return nil, false
	}
	c := newClient(remoteID, conn)
	pc := &peerConn{client: c, address: address}
	t.readyByNode[remoteID] = pc
	t.mu.Unlock()

	t.hub.RegisterClient(c, map[string]string{"nodeId": remoteID})
	metrics.MeshPeersReady.Inc()
	return pc, true
}

func (t *Transport) onPeerGone(pc *peerConn) {
	t.mu.Lock()
	if cur, ok := t.readyByNode[pc.client.remoteID]; ok && cur == pc {
		delete(t.readyByNode, pc.client.remoteID)
	}
	t.mu.Unlock()

	metrics.MeshPeersReady.Dec()
	t.hub.UnregisterClient(pc.client.ID(), "mesh peer disconnected")
}

// afterConnectionClosed schedules a reconnect for address, provided it is
// a configured peer address, the transport is not shutting down, and no
// ready connection for the address's nodeId already exists (which
// happens when the peer's inbound dial won a concurrent mutual-dial
// race against our own outbound one).
func (t *Transport) afterConnectionClosed(address string) {
	if address == "" {
		return
	}
	t.mu.Lock()
	stopped := t.stopped
	alreadyReady := t.addressAlreadyReadyLocked(address)
	t.mu.Unlock()
	if stopped || alreadyReady {
		return
	}
	t.scheduleReconnect(address)
}

// addressAlreadyReadyLocked reports whether address's last-known nodeId
// (learned from a hello exchanged on a connection we dialed to it) has a
// live connection right now, regardless of which side of a concurrent
// dial that connection belongs to. Callers must hold t.mu.
func (t *Transport) addressAlreadyReadyLocked(address string) bool {
	nodeID, known := t.addrToNode[address]
	if !known {
		return false
	}
	_, ready := t.readyByNode[nodeID]
	return ready
}

func (t *Transport) scheduleReconnect(address string) {
	interval := time.Duration(t.opts.ReconnectIntervalMs) * time.Millisecond
	timer := time.AfterFunc(interval, func() {
		t.mu.Lock()
		delete(t.timers, address)
		t.mu.Unlock()
		t.scheduleDial(address)
	})

	t.mu.Lock()
	t.timers[address] = timer
	t.mu.Unlock()
}

// scheduleDial kicks off a dial attempt for address unless one is
// already pending or a ready connection bound to that address exists.
func (t *Transport) scheduleDial(address string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if _, pending := t.dialing[address]; pending {
		t.mu.Unlock()
		return
	}
	if t.addressAlreadyReadyLocked(address) {
		t.mu.Unlock()
		return
	}
	t.dialing[address] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.dial(address)
	}()
}

func (t *Transport) dial(address string) {
	defer func() {
		t.mu.Lock()
		delete(t.dialing, address)
		t.mu.Unlock()
	}()

	cb := t.breakerFor(address)
	result, err := cb.Execute(func() (interface{}, error) {
		return net.DialTimeout("tcp", address, 5*time.Second)
	})
	if err != nil {
		metrics.MeshDialAttempts.WithLabelValues(address, "failure").Inc()
		t.log.Debug("mesh: dial failed", logging.String("address", address), logging.Err(err))
		t.afterConnectionClosed(address)
		return
	}
	metrics.MeshDialAttempts.WithLabelValues(address, "success").Inc()

	conn := result.(net.Conn)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.handleConnection(conn, address, true)
	}()
}

// breakerFor lazily builds one circuit breaker per configured address,
// so a peer that is consistently down stops being dialed on every
// reconnect tick and instead fails fast until it recovers.
func (t *Transport) breakerFor(address string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[address]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mesh.dial." + address,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(circuitStateValue(to))
		},
	})
	t.breakers[address] = cb
	return cb
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
