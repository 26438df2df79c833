// Package codec provides the safe JSON encode/decode helpers used by the
// WebSocket transport, the kernel, and the signaling bridge: untrusted
// bytes in from sockets, structured Message values out. The mesh
// transport encodes its envelopes with encoding/json directly.
package codec

import (
	"encoding/json"
	"errors"

	"github.com/relaymesh/kernel/pkg/types"
)

// ErrMissingType is returned when a decoded message has no routing type.
var ErrMissingType = errors.New("codec: message missing type")

// DecodeMessage parses raw bytes into a Message. It returns
// ErrMissingType if the JSON is well-formed but carries an empty type,
// since spec.md §4.5/§4.8 treats that the same as malformed input.
func DecodeMessage(raw []byte) (types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.Message{}, err
	}
	if msg.Type == "" {
		return types.Message{}, ErrMissingType
	}
	return msg, nil
}

// EncodeMessage serializes a Message for the wire.
func EncodeMessage(msg types.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// EncodePayload marshals an arbitrary value into a json.RawMessage
// suitable for Message.Payload.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodePayload unmarshals a Message.Payload into dst.
func DecodePayload(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, dst)
}
