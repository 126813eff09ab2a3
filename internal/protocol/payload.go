package protocol

import (
	"encoding/json"
	"fmt"
)

// Payloads are JSON: field-named and human-readable so both sides of the
// wire can be inspected with standard tooling. Clients that agree may swap
// in a binary encoding without touching the envelope layer.

// Vector3 is a position in world coordinates.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation is a facing in degrees.
type Orientation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// PlayerState is the per-player payload carried by Connect, Disconnect and
// PlayerUpdate envelopes. Sequence is advisory ordering metadata for the
// datagram transport.
type PlayerState struct {
	Identity    string      `json:"identity"`
	Position    Vector3     `json:"position"`
	Orientation Orientation `json:"orientation"`
	Health      float64     `json:"health"`
	IsDead      bool        `json:"is_dead"`
	IsInWater   bool        `json:"is_in_water"`
	Sequence    uint32      `json:"sequence"`
}

// WorldState is the shared world payload. One instance per server,
// last writer wins.
type WorldState struct {
	GameTime  float64 `json:"game_time"`
	WeatherID int     `json:"weather_id"`
	CellID    string  `json:"cell_id"`
	Sequence  uint32  `json:"sequence"`
}

// DisconnectNotice carries a human-readable reason when the server closes a
// session (kick, ban, rejected connect).
type DisconnectNotice struct {
	Reason string `json:"reason"`
}

// ChatText is the payload of server-originated ChatMessage envelopes, such
// as the MOTD and operator broadcasts.
type ChatText struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// EncodePlayerState marshals a PlayerState payload.
func EncodePlayerState(state *PlayerState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding player state: %w", err)
	}
	return data, nil
}

// DecodePlayerState unmarshals a PlayerState payload.
func DecodePlayerState(data []byte) (*PlayerState, error) {
	var state PlayerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding player state: %w", err)
	}
	return &state, nil
}

// EncodeWorldState marshals a WorldState payload.
func EncodeWorldState(state *WorldState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding world state: %w", err)
	}
	return data, nil
}

// DecodeWorldState unmarshals a WorldState payload.
func DecodeWorldState(data []byte) (*WorldState, error) {
	var state WorldState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding world state: %w", err)
	}
	return &state, nil
}

// EncodeDisconnectNotice marshals a DisconnectNotice payload.
func EncodeDisconnectNotice(reason string) []byte {
	data, _ := json.Marshal(&DisconnectNotice{Reason: reason})
	return data
}

// EncodeChatText marshals a ChatText payload.
func EncodeChatText(sender, text string) []byte {
	data, _ := json.Marshal(&ChatText{Sender: sender, Text: text})
	return data
}

// ExtractIdentity pulls only the identity field out of a payload, without
// validating the rest of its shape. Real-time payloads are otherwise opaque
// to the server, but the sender identity is needed for datagram endpoint
// binding and echo suppression.
func ExtractIdentity(payload []byte) (string, bool) {
	var probe struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	return probe.Identity, probe.Identity != ""
}
