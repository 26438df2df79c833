package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/kernel/pkg/types"
)

func TestDecodeMessageRejectsMissingType(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"payload":{"a":1}}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecodeMessageRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := EncodePayload(map[string]string{"hello": "world"})
	require.NoError(t, err)

	msg := types.Message{Type: "chat:message", Payload: payload, Room: "lobby", Ack: "tok-1"}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodePayloadIntoStruct(t *testing.T) {
	var dst struct {
		Hello string `json:"hello"`
	}
	require.NoError(t, DecodePayload([]byte(`{"hello":"world"}`), &dst))
	assert.Equal(t, "world", dst.Hello)
}

func TestDecodePayloadEmptyIsNoOp(t *testing.T) {
	var dst struct {
		Hello string `json:"hello"`
	}
	require.NoError(t, DecodePayload(nil, &dst))
	assert.Equal(t, "", dst.Hello)
}

func TestEncodePayloadNilIsNil(t *testing.T) {
	payload, err := EncodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, payload)
}
