package kernel

import (
	"fmt"

	"github.com/relaymesh/kernel/pkg/codec"
	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/types"
)

// Toolkit is the per-invocation capability bundle passed to handlers.
// Rather than capturing the kernel and client id in a closure, it is a
// small value object with a back-pointer to the kernel and the
// originating client id, per spec.md §9 — this keeps handler signatures
// uniform and the toolkit itself trivially testable in isolation.
type Toolkit struct {
	k        *Kernel
	clientID types.ClientID
	msg      types.Message
}

// ClientID returns the id of the client that triggered this dispatch.
func (t *Toolkit) ClientID() types.ClientID {
	return t.clientID
}

// Reply sends a message back to the originating client. A string
// produces a system:reply envelope; a types.Message is sent as-is with
// overrides (if any) merged last.
func (t *Toolkit) Reply(content any, overrides ...types.Message) error {
	var msg types.Message
	switch v := content.(type) {
	case string:
		payload, err := codec.EncodePayload(map[string]string{"message": v})
		if err != nil {
			return err
		}
		msg = types.Message{Type: types.TypeSystemReply, Payload: payload}
	case types.Message:
		msg = v
	default:
		return fmt.Errorf("kernel: Reply expects a string or types.Message, got %T", content)
	}

	if len(overrides) > 0 {
		msg = mergeOverrides(msg, overrides[0])
	}

	t.k.hub.Send(t.clientID, msg)
	return nil
}

func mergeOverrides(base, override types.Message) types.Message {
	if override.Type != "" {
		base.Type = override.Type
	}
	if override.Payload != nil {
		base.Payload = override.Payload
	}
	if override.Room != "" {
		base.Room = override.Room
	}
	if override.Target != nil {
		base.Target = override.Target
	}
	if override.Ack != "" {
		base.Ack = override.Ack
	}
	return base
}

// Send unicasts msg directly to targetID through the Hub.
func (t *Toolkit) Send(targetID types.ClientID, msg types.Message) {
	t.k.hub.Send(targetID, msg)
}

// Broadcast sends msg to every client with no room scope when filter is
// nil, or to every presence snapshot for which filter returns true.
func (t *Toolkit) Broadcast(msg types.Message, filter func(types.Snapshot) bool) {
	if filter == nil {
		t.k.hub.Broadcast(msg, hub.BroadcastOptions{})
		return
	}
	for _, snap := range t.k.hub.PresenceList() {
		if filter(snap) {
			t.k.hub.Send(snap.ID, msg)
		}
	}
}

// Log emits a debug log entry scoped to the originating client.
func (t *Toolkit) Log(args ...any) {
	t.k.log.Debug(fmt.Sprint(args...), logging.String("clientId", string(t.clientID)))
}

// Rooms returns the room sub-toolkit.
func (t *Toolkit) Rooms() *RoomsToolkit {
	return &RoomsToolkit{t: t}
}

// Presence returns the presence sub-toolkit.
func (t *Toolkit) Presence() *PresenceToolkit {
	return &PresenceToolkit{t: t}
}

// RoomsToolkit bundles the room-manipulation calls delegated to the Hub.
type RoomsToolkit struct {
	t *Toolkit
}

// Join adds the originating client to room.
func (r *RoomsToolkit) Join(room string) {
	r.t.k.hub.JoinRoom(r.t.clientID, room)
}

// Leave removes the originating client from room.
func (r *RoomsToolkit) Leave(room string) {
	r.t.k.hub.LeaveRoom(r.t.clientID, room)
}

// List returns the client ids currently in room.
func (r *RoomsToolkit) List(room string) []string {
	return r.t.k.hub.RoomList(room)
}

// RoomBroadcastOptions scopes a room broadcast.
type RoomBroadcastOptions struct {
	ExceptSelf bool
	Except     []types.ClientID
}

// Broadcast sends msg to room (defaulting to the triggering message's
// room when room is empty). If no room resolves, the call is a
// documented no-op — see spec.md §9 Open Questions.
func (r *RoomsToolkit) Broadcast(msg types.Message, room string, opts RoomBroadcastOptions) {
	if room == "" {
		room = r.t.msg.Room
	}
	if room == "" {
		return
	}

	except := make(map[types.ClientID]struct{}, len(opts.Except)+1)
	for _, id := range opts.Except {
		except[id] = struct{}{}
	}
	if opts.ExceptSelf {
		except[r.t.clientID] = struct{}{}
	}

	r.t.k.hub.Broadcast(msg, hub.BroadcastOptions{Room: room, Except: except})
}

// PresenceToolkit bundles the presence calls delegated to the Hub.
type PresenceToolkit struct {
	t *Toolkit
}

// List returns every connected client's snapshot.
func (p *PresenceToolkit) List() []types.Snapshot {
	return p.t.k.hub.PresenceList()
}

// Get returns the snapshot for id.
func (p *PresenceToolkit) Get(id types.ClientID) (types.Snapshot, bool) {
	return p.t.k.hub.PresenceGet(id)
}

// Update shallow-merges metadata into the originating client's snapshot.
func (p *PresenceToolkit) Update(metadata map[string]string) {
	p.t.k.hub.PresenceUpdate(p.t.clientID, metadata)
}
