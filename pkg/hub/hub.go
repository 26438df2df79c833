// Package hub implements the connection hub described in spec.md §4.3:
// the authoritative client registry, room membership, presence tracking,
// and broadcast fan-out. All mutating operations are serialized behind a
// single mutex, the "coarse lock" alternative spec.md §5 explicitly
// allows in place of a dedicated actor goroutine.
package hub

import (
	"sync"
	"time"

	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/metrics"
	"github.com/relaymesh/kernel/pkg/presence"
	"github.com/relaymesh/kernel/pkg/rooms"
	"github.com/relaymesh/kernel/pkg/types"
)

// EventHandlers are the callbacks the Kernel installs to subscribe to
// Hub events. The Hub never imports the kernel package — it only holds
// these function values, keeping ownership one-directional as described
// in spec.md §9.
type EventHandlers struct {
	OnConnect    func(id types.ClientID)
	OnDisconnect func(id types.ClientID, reason string)
	OnMessage    func(msg types.Message, id types.ClientID)
}

// Mirror is the optional side-channel the Hub publishes connect,
// disconnect, and room-change events to. See pkg/bus for the Redis
// implementation; it is never required for correctness.
type Mirror interface {
	PublishConnect(id types.ClientID, transport string)
	PublishDisconnect(id types.ClientID, reason string)
	PublishRoomChange(id types.ClientID, room, action string)
}

// BroadcastOptions scopes a Broadcast call.
type BroadcastOptions struct {
	Room   string
	Except map[types.ClientID]struct{}
}

// Hub owns the client registry, RoomManager, and PresenceStore.
type Hub struct {
	mu       sync.Mutex
	log      *logging.Logger
	clients  map[types.ClientID]types.Client
	roomMgr  *rooms.Manager
	presence *presence.Store
	handlers EventHandlers
	mirror   Mirror
}

// New constructs an empty Hub. log may be nil, in which case logging is
// a no-op.
func New(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:      log,
		clients:  make(map[types.ClientID]types.Client),
		roomMgr:  rooms.New(),
		presence: presence.New(),
	}
}

// SetHandlers installs the Kernel's event callbacks. Must be called
// before any transport starts registering clients.
func (h *Hub) SetHandlers(handlers EventHandlers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = handlers
}

// SetMirror attaches an optional observability mirror.
func (h *Hub) SetMirror(m Mirror) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirror = m
}

// RegisterClient inserts client into the registry, takes its initial
// presence snapshot, and emits client:connected. An optional initial
// metadata map seeds the snapshot — used by the mesh transport to stamp
// a synthetic peer client with its remote nodeId up front.
func (h *Hub) RegisterClient(c types.Client, initialMetadata ...map[string]string) {
	h.mu.Lock()
	id := c.ID()
	h.clients[id] = c
	meta := map[string]string{}
	if len(initialMetadata) > 0 {
		for k, v := range initialMetadata[0] {
			meta[k] = v
		}
	}
	snap := types.Snapshot{
		ID:          id,
		Transport:   c.Transport(),
		Metadata:    meta,
		ConnectedAt: time.Now().UnixMilli(),
		Rooms:       []string{},
	}
	h.presence.Connect(snap)
	onConnect := h.handlers.OnConnect
	mirror := h.mirror
	h.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(c.Transport()).Inc()
	h.log.Debug("client connected", logging.String("id", string(id)), logging.String("transport", c.Transport()))

	if mirror != nil {
		mirror.PublishConnect(id, c.Transport())
	}
	if onConnect != nil {
		onConnect(id)
	}
}

// UnregisterClient removes client id from every room it belonged to,
// deletes its registry and presence entries, and emits
// client:disconnected. Unknown ids are a no-op.
func (h *Hub) UnregisterClient(id types.ClientID, reason string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.roomMgr.LeaveAll(string(id))
	h.presence.Disconnect(id)
	delete(h.clients, id)
	onDisconnect := h.handlers.OnDisconnect
	mirror := h.mirror
	h.mu.Unlock()

	h.syncRoomMetrics()
	metrics.ActiveConnections.WithLabelValues(c.Transport()).Dec()
	h.log.Debug("client disconnected", logging.String("id", string(id)), logging.String("reason", reason))

	if mirror != nil {
		mirror.PublishDisconnect(id, reason)
	}
	if onDisconnect != nil {
		onDisconnect(id, reason)
	}
}

// Receive emits a message event if the client is known. Unknown clients
// are dropped silently — they may have just disconnected.
func (h *Hub) Receive(msg types.Message, id types.ClientID) {
	h.mu.Lock()
	_, ok := h.clients[id]
	onMessage := h.handlers.OnMessage
	h.mu.Unlock()
	if !ok {
		h.log.Debug("dropping message from unknown client", logging.String("id", string(id)))
		return
	}
	if onMessage != nil {
		onMessage(msg, id)
	}
}

// JoinRoom adds id to room, then refreshes its presence rooms list.
func (h *Hub) JoinRoom(id types.ClientID, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	h.roomMgr.Join(room, string(id))
	h.presence.SyncRooms(id, h.roomMgr.RoomsFor(string(id)))
	mirror := h.mirror
	h.mu.Unlock()
	h.syncRoomMetrics()
	if mirror != nil {
		mirror.PublishRoomChange(id, room, "join")
	}
}

// LeaveRoom removes id from room, then refreshes its presence rooms list.
func (h *Hub) LeaveRoom(id types.ClientID, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	h.roomMgr.Leave(room, string(id))
	h.presence.SyncRooms(id, h.roomMgr.RoomsFor(string(id)))
	mirror := h.mirror
	h.mu.Unlock()
	h.syncRoomMetrics()
	if mirror != nil {
		mirror.PublishRoomChange(id, room, "leave")
	}
}

// RoomList returns the client ids currently in room.
func (h *Hub) RoomList(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomMgr.List(room)
}

// RoomsFor returns the rooms id currently belongs to.
func (h *Hub) RoomsFor(id types.ClientID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomMgr.RoomsFor(string(id))
}

// Send stamps msg with the current timestamp and forwards it to id's
// Send capability. It returns whether delivery was attempted (i.e.
// whether id is currently registered) — not whether the write succeeded.
func (h *Hub) Send(id types.ClientID, msg types.Message) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	msg.Timestamp = time.Now().UnixMilli()
	if err := c.Send(msg); err != nil {
		h.log.Debug("send failed", logging.String("id", string(id)), logging.Err(err))
	}
	return true
}

// Broadcast stamps msg once and dispatches it to every target: room
// members if opts.Room is set, otherwise every registered client, minus
// opts.Except. Target enumeration order is unspecified.
func (h *Hub) Broadcast(msg types.Message, opts BroadcastOptions) {
	h.mu.Lock()
	var targets []types.Client
	if opts.Room != "" {
		for _, id := range h.roomMgr.List(opts.Room) {
			if c, ok := h.clients[types.ClientID(id)]; ok {
				targets = append(targets, c)
			}
		}
	} else {
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	msg.Timestamp = time.Now().UnixMilli()
	for _, c := range targets {
		if opts.Except != nil {
			if _, excluded := opts.Except[c.ID()]; excluded {
				continue
			}
		}
		if err := c.Send(msg); err != nil {
			h.log.Debug("broadcast send failed", logging.String("id", string(c.ID())), logging.Err(err))
		}
	}
}

// PresenceList returns a snapshot of every connected client.
func (h *Hub) PresenceList() []types.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.List()
}

// PresenceGet returns the snapshot for id.
func (h *Hub) PresenceGet(id types.ClientID) (types.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Get(id)
}

// PresenceUpdate shallow-merges metadata into id's snapshot.
func (h *Hub) PresenceUpdate(id types.ClientID, metadata map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence.Update(id, metadata)
}

// IsRegistered reports whether id is currently in the registry.
func (h *Hub) IsRegistered(id types.ClientID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[id]
	return ok
}

// CloseAll closes every registered client with reason, whichever
// transport owns it. The transports in this module do not call it; each
// closes only its own clients on Stop.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	clients := make([]types.Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.Close(reason)
	}
}

func (h *Hub) syncRoomMetrics() {
	h.mu.Lock()
	count := h.roomMgr.RoomCount()
	counts := h.roomMgr.MemberCounts()
	h.mu.Unlock()
	metrics.ActiveRooms.Set(float64(count))
	metrics.RoomMembers.Reset()
	for room, n := range counts {
		metrics.RoomMembers.WithLabelValues(room).Set(float64(n))
	}
}
