// Package wire implements the packet layer shared by every transport
// binding (websocket, WebRTC data channel): packet type codes, the JSON
// packet envelope, the binary packet header, the reliable-channel JSON
// overlay, and the LZ77 payload codec.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
)

// PacketType identifies the payload carried by a Packet.
type PacketType int

const (
	Connect       PacketType = 0
	Disconnect    PacketType = 1
	Ping          PacketType = 2
	Pong          PacketType = 3
	EntityUpdate  PacketType = 10
	EntityCreate  PacketType = 11
	EntityDestroy PacketType = 12
	Input         PacketType = 20
	StateUpdate   PacketType = 21
	JoinRoom      PacketType = 30
	LeaveRoom     PacketType = 31
	RoomState     PacketType = 32
	Custom        PacketType = 100
)

// Packet is the JSON wire envelope: {type, data, timestamp}.
type Packet struct {
	Type      PacketType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// EncodeJSON marshals a Packet whose Data is the JSON encoding of payload.
func EncodeJSON(t PacketType, payload interface{}, timestampMs float64) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Packet{Type: t, Data: data, Timestamp: timestampMs})
}

// DecodeJSON parses a JSON Packet envelope.
func DecodeJSON(buf []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(buf, &p); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// ErrMalformedPacket is returned for a header that fails to parse, a
// length mismatch, or an unknown LZ77 token — the
// MalformedPacket error kind: callers warn and drop.
var ErrMalformedPacket = errors.New("wire: malformed packet")

const (
	flagCompressed byte = 1 << 0
)

// binaryHeaderLen is the fixed prefix: type(1) + flags(1) + timestamp(8) + data_len(4).
const binaryHeaderLen = 1 + 1 + 8 + 4

// EncodeBinary frames payload with the little-endian binary header.
// When compress is true, payload is LZ77-compressed first
// and flag bit 0 is set.
func EncodeBinary(t PacketType, timestampMs float64, payload []byte, compress bool) []byte {
	var flags byte
	body := payload
	if compress {
		flags |= flagCompressed
		body = CompressLZ77(payload)
	}

	buf := make([]byte, binaryHeaderLen+len(body))
	buf[0] = byte(t)
	buf[1] = flags
	binary.LittleEndian.PutUint64(buf[2:10], math.Float64bits(timestampMs))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[binaryHeaderLen:], body)
	return buf
}

// DecodedBinary is a parsed binary packet with its payload decompressed
// (if it was compressed) into plain bytes — JSON bytes when flag bit 0
// was clear, arbitrary bytes otherwise.
type DecodedBinary struct {
	Type        PacketType
	TimestampMs float64
	Payload     []byte
}

// DecodeBinary parses and, if needed, decompresses a binary packet.
func DecodeBinary(buf []byte) (DecodedBinary, error) {
	if len(buf) < binaryHeaderLen {
		return DecodedBinary{}, ErrMalformedPacket
	}
	t := PacketType(buf[0])
	flags := buf[1]
	ts := math.Float64frombits(binary.LittleEndian.Uint64(buf[2:10]))
	dataLen := binary.LittleEndian.Uint32(buf[10:14])

	body := buf[binaryHeaderLen:]
	if uint32(len(body)) != dataLen {
		return DecodedBinary{}, ErrMalformedPacket
	}

	payload := body
	if flags&flagCompressed != 0 {
		decompressed, err := DecompressLZ77(body)
		if err != nil {
			return DecodedBinary{}, err
		}
		payload = decompressed
	}

	return DecodedBinary{Type: t, TimestampMs: ts, Payload: payload}, nil
}

// EntityUpdatePayload is the JSON body of an ENTITY_UPDATE packet: the
// target entity, whether Payload is a full 40-byte transform or a
// masked delta, and the encoded bytes themselves.
type EntityUpdatePayload struct {
	EntityID string `json:"entity_id"`
	Full     bool   `json:"full"`
	Payload  []byte `json:"payload"`
}

// ReliableEnvelope is the reliable-channel JSON overlay carried as
// CUSTOM or on its own sub-protocol: {type, sequence?, data?, timestamp}.
type ReliableEnvelope struct {
	Type      string          `json:"type"` // "reliable" | "unreliable" | "ack"
	Sequence  *uint64         `json:"sequence,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp"`
}

func seqPtr(seq uint64) *uint64 { return &seq }

// EncodeReliable wraps payload as a "reliable" envelope carrying sequence.
func EncodeReliable(sequence uint64, payload []byte, timestampMs float64) ([]byte, error) {
	return json.Marshal(ReliableEnvelope{Type: "reliable", Sequence: seqPtr(sequence), Data: payload, Timestamp: timestampMs})
}

// EncodeUnreliable wraps payload as an "unreliable" envelope (no sequence).
func EncodeUnreliable(payload []byte, timestampMs float64) ([]byte, error) {
	return json.Marshal(ReliableEnvelope{Type: "unreliable", Data: payload, Timestamp: timestampMs})
}

// EncodeAck builds an {type:"ack", sequence, timestamp} envelope.
func EncodeAck(sequence uint64, timestampMs float64) ([]byte, error) {
	return json.Marshal(ReliableEnvelope{Type: "ack", Sequence: seqPtr(sequence), Timestamp: timestampMs})
}

// DecodeReliableEnvelope parses the reliable-channel JSON overlay.
func DecodeReliableEnvelope(buf []byte) (ReliableEnvelope, error) {
	var e ReliableEnvelope
	if err := json.Unmarshal(buf, &e); err != nil {
		return ReliableEnvelope{}, err
	}
	return e, nil
}
