package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient is an in-memory types.Client that records every message it
// was asked to send.
type fakeClient struct {
	id        types.ClientID
	transport string

	mu     sync.Mutex
	sent   []types.Message
	closed bool
}

func newFakeClient(id, transport string) *fakeClient {
	return &fakeClient{id: types.ClientID(id), transport: transport}
}

func (c *fakeClient) ID() types.ClientID { return c.id }
func (c *fakeClient) Transport() string  { return c.transport }

func (c *fakeClient) Send(msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegisterClientCreatesPresenceEntry(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")

	h.RegisterClient(alice)

	snap, ok := h.PresenceGet("alice")
	require.True(t, ok)
	assert.Equal(t, "websocket", snap.Transport)
	assert.Empty(t, snap.Rooms)
}

func TestUnregisterClientLeavesRoomsAndRemovesPresence(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")
	h.RegisterClient(alice)
	h.JoinRoom("alice", "lobby")

	h.UnregisterClient("alice", "client closed")

	_, ok := h.PresenceGet("alice")
	assert.False(t, ok)
	assert.NotContains(t, h.RoomList("lobby"), "alice")
}

func TestUnregisterUnknownClientIsNoOp(t *testing.T) {
	h := New(logging.Nop())
	h.UnregisterClient("ghost", "whatever")
	assert.False(t, h.IsRegistered("ghost"))
}

func TestSendStampsTimestampAndReturnsDeliveryAttempted(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")
	h.RegisterClient(alice)

	attempted := h.Send("alice", types.Message{Type: "chat:message"})
	assert.True(t, attempted)

	msgs := alice.messages()
	require.Len(t, msgs, 1)
	assert.NotZero(t, msgs[0].Timestamp)
}

func TestSendToUnregisteredClientReturnsFalse(t *testing.T) {
	h := New(logging.Nop())
	assert.False(t, h.Send("ghost", types.Message{Type: "chat:message"}))
}

func TestBroadcastScopesToRoomAndHonorsExcept(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")
	bob := newFakeClient("bob", "websocket")
	carol := newFakeClient("carol", "websocket")
	h.RegisterClient(alice)
	h.RegisterClient(bob)
	h.RegisterClient(carol)
	h.JoinRoom("alice", "lobby")
	h.JoinRoom("bob", "lobby")

	h.Broadcast(types.Message{Type: "chat:message"}, BroadcastOptions{
		Room:   "lobby",
		Except: map[types.ClientID]struct{}{"alice": {}},
	})

	assert.Empty(t, alice.messages())
	assert.Len(t, bob.messages(), 1)
	assert.Empty(t, carol.messages())
}

func TestBroadcastWithNoRoomReachesEveryone(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")
	bob := newFakeClient("bob", "mesh")
	h.RegisterClient(alice)
	h.RegisterClient(bob)

	h.Broadcast(types.Message{Type: "presence:ping"}, BroadcastOptions{})

	assert.Len(t, alice.messages(), 1)
	assert.Len(t, bob.messages(), 1)
}

func TestReceiveDropsMessagesFromUnknownClients(t *testing.T) {
	h := New(logging.Nop())
	called := false
	h.SetHandlers(EventHandlers{
		OnMessage: func(msg types.Message, id types.ClientID) { called = true },
	})

	h.Receive(types.Message{Type: "chat:message"}, "ghost")

	assert.False(t, called)
}

func TestRegisterClientSeedsInitialMetadata(t *testing.T) {
	h := New(logging.Nop())
	peer := newFakeClient("mesh:node-2", "mesh")

	h.RegisterClient(peer, map[string]string{"nodeId": "node-2"})

	snap, ok := h.PresenceGet("mesh:node-2")
	require.True(t, ok)
	assert.Equal(t, "node-2", snap.Metadata["nodeId"])
}

func TestJoinRoomWithEmptyRoomIsNoOp(t *testing.T) {
	h := New(logging.Nop())
	alice := newFakeClient("alice", "websocket")
	h.RegisterClient(alice)

	h.JoinRoom("alice", "")

	snap, _ := h.PresenceGet("alice")
	assert.Empty(t, snap.Rooms)
}
