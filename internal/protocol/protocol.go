package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet kinds. The reliable family travels over the TCP stream, the
// real-time family over UDP datagrams. The split is a transport
// convention, not a value-range rule.
const (
	KindConnect         Kind = 0x01
	KindDisconnect      Kind = 0x02
	KindInventoryUpdate Kind = 0x03
	KindQuestUpdate     Kind = 0x04
	KindChatMessage     Kind = 0x05

	KindPlayerUpdate   Kind = 0x10
	KindWorldState     Kind = 0x11
	KindCombatState    Kind = 0x12
	KindDamage         Kind = 0x13
	KindSurvivalStats  Kind = 0x14
	KindAnimationState Kind = 0x15
)

const (
	// EnvelopeHeaderSize is 1 byte kind + 4 bytes little-endian payload length.
	EnvelopeHeaderSize = 5

	// MaxPayloadSize caps a single envelope payload. The length field is
	// uint32 on the wire; anything near that is hostile input, not a game
	// packet.
	MaxPayloadSize = 1 << 20
)

var (
	// ErrTruncatedStream reports a stream connection that closed or errored
	// mid-envelope. The connection cannot be resynchronized and must be torn
	// down.
	ErrTruncatedStream = errors.New("truncated stream envelope")

	// ErrMalformedDatagram reports a datagram too short to hold an envelope
	// or whose declared length exceeds the datagram. Callers discard it and
	// continue.
	ErrMalformedDatagram = errors.New("malformed datagram envelope")
)

// Kind identifies the packet type carried by an envelope.
type Kind uint8

// Reliable reports whether the kind belongs to the stream-transport family.
func (k Kind) Reliable() bool {
	switch k {
	case KindConnect, KindDisconnect, KindInventoryUpdate, KindQuestUpdate, KindChatMessage:
		return true
	}
	return false
}

// Realtime reports whether the kind belongs to the datagram-transport family.
func (k Kind) Realtime() bool {
	switch k {
	case KindPlayerUpdate, KindWorldState, KindCombatState, KindDamage, KindSurvivalStats, KindAnimationState:
		return true
	}
	return false
}

// Known reports whether the kind is part of the closed enumeration.
// Unknown kinds are ignored by the dispatcher, never treated as errors.
func (k Kind) Known() bool {
	return k.Reliable() || k.Realtime()
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "Connect"
	case KindDisconnect:
		return "Disconnect"
	case KindInventoryUpdate:
		return "InventoryUpdate"
	case KindQuestUpdate:
		return "QuestUpdate"
	case KindChatMessage:
		return "ChatMessage"
	case KindPlayerUpdate:
		return "PlayerUpdate"
	case KindWorldState:
		return "WorldState"
	case KindCombatState:
		return "CombatState"
	case KindDamage:
		return "Damage"
	case KindSurvivalStats:
		return "SurvivalStats"
	case KindAnimationState:
		return "AnimationState"
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(k))
}

// EncodeEnvelope produces the wire form of one envelope:
// [kind:1][length:4 LE][payload:length]. It never fails.
func EncodeEnvelope(kind Kind, payload []byte) []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(payload))
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[EnvelopeHeaderSize:], payload)
	return buf
}

// DecodeStreamEnvelope reads one envelope off a stream transport as three
// sequential reads: kind, length, payload. Any short read means the stream
// can no longer be framed and the caller must drop the connection. A clean
// close on an envelope boundary is reported as io.EOF, not as truncation.
func DecodeStreamEnvelope(r io.Reader) (Kind, []byte, error) {
	var header [EnvelopeHeaderSize]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: reading kind: %v", ErrTruncatedStream, err)
	}
	if _, err := io.ReadFull(r, header[1:5]); err != nil {
		return 0, nil, fmt.Errorf("%w: reading length: %v", ErrTruncatedStream, err)
	}

	kind := Kind(header[0])
	length := binary.LittleEndian.Uint32(header[1:5])
	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: declared payload length %d exceeds limit %d",
			ErrTruncatedStream, length, MaxPayloadSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: reading %d-byte payload: %v", ErrTruncatedStream, length, err)
	}

	return kind, payload, nil
}

// DecodeDatagramEnvelope parses one envelope that must be fully contained in
// a single datagram. Datagrams arrive unauthenticated, so malformed input is
// expected and reported for silent discard, never as a server fault.
func DecodeDatagramEnvelope(data []byte) (Kind, []byte, error) {
	if len(data) < EnvelopeHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes, need at least %d",
			ErrMalformedDatagram, len(data), EnvelopeHeaderSize)
	}

	kind := Kind(data[0])
	length := binary.LittleEndian.Uint32(data[1:5])
	if uint64(length) > uint64(len(data)-EnvelopeHeaderSize) {
		return 0, nil, fmt.Errorf("%w: declared length %d exceeds %d remaining bytes",
			ErrMalformedDatagram, length, len(data)-EnvelopeHeaderSize)
	}

	payload := make([]byte, length)
	copy(payload, data[EnvelopeHeaderSize:EnvelopeHeaderSize+int(length)])
	return kind, payload, nil
}
