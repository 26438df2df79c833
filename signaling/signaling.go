// Package signaling implements the WebRTC signaling bridge of spec.md
// §4.7: a thin relay over the kernel's dispatch registry that forwards
// offer/answer/candidate/bye signals to a target client or a room,
// without understanding anything about SDP or ICE itself.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/relaymesh/kernel/kernel"
	"github.com/relaymesh/kernel/pkg/codec"
	"github.com/relaymesh/kernel/pkg/types"
)

// Options configures Attach.
type Options struct {
	// Namespace prefixes the four channel event types. Defaults to
	// "webrtc", yielding webrtc:offer, webrtc:answer, webrtc:candidate,
	// webrtc:bye.
	Namespace string

	// AutoJoinRooms, when set, joins the originator to an offer's room
	// before forwarding it.
	AutoJoinRooms bool
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = "webrtc"
	}
	return o
}

// inboundSignal is the normalized shape of a signaling message's
// payload. description is also accepted under the alias offer.
type inboundSignal struct {
	Target      string            `json:"target,omitempty"`
	Room        string            `json:"room,omitempty"`
	Description json.RawMessage   `json:"description,omitempty"`
	Offer       json.RawMessage   `json:"offer,omitempty"`
	Candidate   json.RawMessage   `json:"candidate,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s inboundSignal) description() json.RawMessage {
	if len(s.Description) > 0 {
		return s.Description
	}
	return s.Offer
}

// outboundSignal is the envelope payload relayed to the target/room per
// spec.md §4.7 step 4.
type outboundSignal struct {
	From        types.ClientID    `json:"from"`
	Room        string            `json:"room,omitempty"`
	Target      string            `json:"target,omitempty"`
	Description json.RawMessage   `json:"description,omitempty"`
	Candidate   json.RawMessage   `json:"candidate,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type bridge struct {
	ns       string
	autoJoin bool
}

// Attach registers the four signaling channel handlers on k. It never
// blocks and returns an error only if registration itself fails (e.g.
// a colliding reserved type, which cannot happen for the namespaces
// this package builds).
func Attach(k *kernel.Kernel, opts Options) error {
	o := opts.withDefaults()
	b := &bridge{ns: o.Namespace, autoJoin: o.AutoJoinRooms}

	handlers := map[string]kernel.Handler{
		o.ns + ":offer":     b.handleOffer,
		o.ns + ":answer":    b.handleAnswer,
		o.ns + ":candidate": b.handleCandidate,
		o.ns + ":bye":       b.handleBye,
	}
	for eventType, handler := range handlers {
		if err := k.On(eventType, handler); err != nil {
			return fmt.Errorf("signaling: register %s: %w", eventType, err)
		}
	}
	return nil
}

func (b *bridge) handleOffer(tk *kernel.Toolkit, msg types.Message) error {
	var sig inboundSignal
	if err := codec.DecodePayload(msg.Payload, &sig); err != nil {
		return b.reject(tk, "INVALID_OFFER")
	}
	desc := sig.description()
	if len(desc) == 0 {
		return b.reject(tk, "INVALID_OFFER")
	}
	if b.autoJoin && sig.Room != "" {
		tk.Rooms().Join(sig.Room)
	}
	return b.route(tk, sig, b.ns+":offer", desc, nil)
}

func (b *bridge) handleAnswer(tk *kernel.Toolkit, msg types.Message) error {
	var sig inboundSignal
	if err := codec.DecodePayload(msg.Payload, &sig); err != nil {
		return b.reject(tk, "INVALID_ANSWER")
	}
	desc := sig.description()
	if len(desc) == 0 {
		return b.reject(tk, "INVALID_ANSWER")
	}
	return b.route(tk, sig, b.ns+":answer", desc, nil)
}

func (b *bridge) handleCandidate(tk *kernel.Toolkit, msg types.Message) error {
	var sig inboundSignal
	if err := codec.DecodePayload(msg.Payload, &sig); err != nil {
		return b.reject(tk, "INVALID_CANDIDATE")
	}
	if len(sig.Candidate) == 0 {
		return b.reject(tk, "INVALID_CANDIDATE")
	}
	return b.route(tk, sig, b.ns+":candidate", nil, sig.Candidate)
}

// handleBye has no required field, so a malformed or empty payload is
// treated as an empty signal rather than rejected — there is no
// INVALID_BYE reason code.
func (b *bridge) handleBye(tk *kernel.Toolkit, msg types.Message) error {
	var sig inboundSignal
	_ = codec.DecodePayload(msg.Payload, &sig)
	return b.route(tk, sig, b.ns+":bye", nil, nil)
}

// route wraps the signal into the outbound envelope and dispatches it to
// sig.Target (unicast) or sig.Room (broadcast, excluding the sender),
// replying with TARGET_OR_ROOM_REQUIRED if neither is set.
func (b *bridge) route(tk *kernel.Toolkit, sig inboundSignal, eventType string, description, candidate json.RawMessage) error {
	if sig.Target == "" && sig.Room == "" {
		return b.reject(tk, "TARGET_OR_ROOM_REQUIRED")
	}

	out := outboundSignal{
		From:        tk.ClientID(),
		Room:        sig.Room,
		Target:      sig.Target,
		Description: description,
		Candidate:   candidate,
		Metadata:    sig.Metadata,
	}
	payload, err := codec.EncodePayload(out)
	if err != nil {
		return err
	}
	envelope := types.Message{Type: eventType, Payload: payload, Room: sig.Room}

	if sig.Target != "" {
		tk.Send(types.ClientID(sig.Target), envelope)
		return nil
	}
	tk.Rooms().Broadcast(envelope, sig.Room, kernel.RoomBroadcastOptions{ExceptSelf: true})
	return nil
}

func (b *bridge) reject(tk *kernel.Toolkit, reason string) error {
	payload, err := codec.EncodePayload(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	return tk.Reply(types.Message{Type: b.ns + ":error", Payload: payload})
}
