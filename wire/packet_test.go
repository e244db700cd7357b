package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONPacketRoundTrip(t *testing.T) {
	payload := map[string]string{"entity_id": "e1"}
	buf, err := EncodeJSON(EntityUpdate, payload, 1234.5)
	require.NoError(t, err)

	p, err := DecodeJSON(buf)
	require.NoError(t, err)
	assert.Equal(t, EntityUpdate, p.Type)
	assert.InDelta(t, 1234.5, p.Timestamp, 1e-9)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(p.Data, &decoded))
	assert.Equal(t, "e1", decoded["entity_id"])
}

func TestBinaryPacketRoundTrip(t *testing.T) {
	payload := []byte(`{"x":1}`)
	buf := EncodeBinary(StateUpdate, 42.0, payload, false)

	decoded, err := DecodeBinary(buf)
	require.NoError(t, err)
	assert.Equal(t, StateUpdate, decoded.Type)
	assert.InDelta(t, 42.0, decoded.TimestampMs, 1e-9)
	assert.Equal(t, payload, decoded.Payload)
}

func TestBinaryPacketCompressedRoundTrip(t *testing.T) {
	payload := []byte(`{"entities":{"e1":{"x":1},"e2":{"x":1},"e3":{"x":1}}}`)
	buf := EncodeBinary(StateUpdate, 42.0, payload, true)

	decoded, err := DecodeBinary(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Payload)
}

func TestDecodeBinaryRejectsShortHeader(t *testing.T) {
	_, err := DecodeBinary([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeBinaryRejectsLengthMismatch(t *testing.T) {
	buf := EncodeBinary(Ping, 0, []byte("abcd"), false)
	_, err := DecodeBinary(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReliableEnvelopeRoundTrip(t *testing.T) {
	buf, err := EncodeReliable(7, []byte(`{"k":"v"}`), 100)
	require.NoError(t, err)

	env, err := DecodeReliableEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, "reliable", env.Type)
	require.NotNil(t, env.Sequence)
	assert.Equal(t, uint64(7), *env.Sequence)
	assert.JSONEq(t, `{"k":"v"}`, string(env.Data))
}

func TestAckEnvelopeCarriesNoData(t *testing.T) {
	buf, err := EncodeAck(3, 100)
	require.NoError(t, err)

	env, err := DecodeReliableEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, "ack", env.Type)
	require.NotNil(t, env.Sequence)
	assert.Equal(t, uint64(3), *env.Sequence)
	assert.Empty(t, env.Data)
}

func TestUnreliableEnvelopeOmitsSequence(t *testing.T) {
	buf, err := EncodeUnreliable([]byte(`1`), 100)
	require.NoError(t, err)

	env, err := DecodeReliableEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, "unreliable", env.Type)
	assert.Nil(t, env.Sequence)
}
