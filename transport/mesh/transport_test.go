package mesh

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestMeshHandshakeYieldsOneReadyPeerEvenOnConcurrentDial exercises
// scenario 6: two nodes with mutual peer configuration, dialing each
// other at the same moment, must converge on exactly one live
// connection per remote nodeId.
func TestMeshHandshakeYieldsOneReadyPeerEvenOnConcurrentDial(t *testing.T) {
	hub1 := hub.New(logging.Nop())
	hub2 := hub.New(logging.Nop())

	var mu sync.Mutex
	var received []types.Message
	hub2.SetHandlers(hub.EventHandlers{
		OnMessage: func(msg types.Message, id types.ClientID) {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
		},
	})

	t1 := New(Options{NodeID: "node1", Host: "127.0.0.1", Port: 0, Logger: logging.Nop()})
	t2 := New(Options{NodeID: "node2", Host: "127.0.0.1", Port: 0, Logger: logging.Nop()})
	require.NoError(t, t1.Start(context.Background(), hub1))
	require.NoError(t, t2.Start(context.Background(), hub2))
	defer t1.Stop(context.Background())
	defer t2.Stop(context.Background())

	addr1 := t1.listener.Addr().String()
	addr2 := t2.listener.Addr().String()

	// Simulate mutual peer configuration by dialing concurrently, the way
	// two freshly-started nodes configured with each other would race.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); t1.scheduleDial(addr2) }()
	go func() { defer wg.Done(); t2.scheduleDial(addr1) }()
	wg.Wait()

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := hub1.PresenceGet("mesh:node2")
		return ok
	})
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := hub2.PresenceGet("mesh:node1")
		return ok
	})

	t1.mu.Lock()
	node2Conns := len(t1.readyByNode)
	t1.mu.Unlock()
	assert.Equal(t, 1, node2Conns)

	t2.mu.Lock()
	node1Conns := len(t2.readyByNode)
	t2.mu.Unlock()
	assert.Equal(t, 1, node1Conns)

	snap, ok := hub1.PresenceGet("mesh:node2")
	require.True(t, ok)
	assert.Equal(t, "mesh", snap.Transport)
	assert.Equal(t, "node2", snap.Metadata["nodeId"])

	payload, err := json.Marshal(map[string]string{"hello": "node2"})
	require.NoError(t, err)
	assert.True(t, hub1.Send("mesh:node2", types.Message{Type: "chat:message", Payload: payload}))

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "chat:message", received[0].Type)
}

// TestScheduleDialDoesNotRedialWhenAcceptedConnectionWon covers the case
// where a concurrent mutual dial resolves in favor of the *inbound*
// connection (address == ""): the dialer side's bookkeeping must still
// recognize the peer as ready via the address-to-nodeId association
// recorded from its own hello exchange, not just via an address-keyed
// ready map that only the dialer-wins case would populate. Without that,
// scheduleDial/afterConnectionClosed redial the same already-connected
// peer forever.
func TestScheduleDialDoesNotRedialWhenAcceptedConnectionWon(t *testing.T) {
	tr := New(Options{NodeID: "node1", Host: "127.0.0.1", Port: 0, Logger: logging.Nop()})
	h := hub.New(logging.Nop())
	tr.hub = h

	const addr = "127.0.0.1:1" // deliberately unreachable; a real dial attempt would be a test failure
	pc := &peerConn{client: newClient("node2", nil)}

	tr.mu.Lock()
	tr.readyByNode["node2"] = pc
	tr.addrToNode[addr] = "node2"
	tr.mu.Unlock()

	tr.scheduleDial(addr)

	tr.mu.Lock()
	_, dialing := tr.dialing[addr]
	tr.mu.Unlock()
	assert.False(t, dialing, "scheduleDial must not start a dial for an address whose peer is already ready via another connection")

	tr.afterConnectionClosed(addr)

	tr.mu.Lock()
	_, hasTimer := tr.timers[addr]
	tr.mu.Unlock()
	assert.False(t, hasTimer, "afterConnectionClosed must not schedule a reconnect when the peer is already ready")
}

func TestDisconnectUnregistersMeshPeer(t *testing.T) {
	h1 := hub.New(logging.Nop())
	h2 := hub.New(logging.Nop())

	t1 := New(Options{NodeID: "node1", Host: "127.0.0.1", Port: 0, Logger: logging.Nop()})
	t2 := New(Options{NodeID: "node2", Host: "127.0.0.1", Port: 0, Logger: logging.Nop()})
	require.NoError(t, t1.Start(context.Background(), h1))
	require.NoError(t, t2.Start(context.Background(), h2))
	defer t2.Stop(context.Background())

	t1.scheduleDial(t2.listener.Addr().String())

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := h1.PresenceGet("mesh:node2")
		return ok
	})

	require.NoError(t, t1.Stop(context.Background()))

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := h2.PresenceGet("mesh:node1")
		return !ok
	})
}
