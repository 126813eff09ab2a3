package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerStateRoundTrip(t *testing.T) {
	state := &PlayerState{
		Identity:    "Aerin",
		Position:    Vector3{X: 12.5, Y: -3.25, Z: 140},
		Orientation: Orientation{Pitch: 10, Yaw: 180, Roll: 0},
		Health:      87.5,
		IsInWater:   true,
		Sequence:    42,
	}

	data, err := EncodePlayerState(state)
	require.NoError(t, err)

	decoded, err := DecodePlayerState(data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestDecodePlayerStateMalformed(t *testing.T) {
	_, err := DecodePlayerState([]byte("not json at all"))
	assert.Error(t, err)
}

func TestWorldStateRoundTrip(t *testing.T) {
	state := &WorldState{
		GameTime:  13.75,
		WeatherID: 2,
		CellID:    "Balmora",
		Sequence:  9,
	}

	data, err := EncodeWorldState(state)
	require.NoError(t, err)

	decoded, err := DecodeWorldState(data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestExtractIdentity(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
		wantOK  bool
	}{
		{
			"full player state",
			[]byte(`{"identity":"Aerin","position":{"x":1,"y":2,"z":3},"sequence":5}`),
			"Aerin", true,
		},
		{"identity only", []byte(`{"identity":"B"}`), "B", true},
		{"missing identity", []byte(`{"health":50}`), "", false},
		{"empty identity", []byte(`{"identity":""}`), "", false},
		{"not json", []byte("garbage"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractIdentity(tt.payload)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDisconnectNotice(t *testing.T) {
	var notice DisconnectNotice
	require.NoError(t, json.Unmarshal(EncodeDisconnectNotice("banned"), &notice))
	assert.Equal(t, "banned", notice.Reason)
}

func TestEncodeChatText(t *testing.T) {
	var chat ChatText
	require.NoError(t, json.Unmarshal(EncodeChatText("server", "welcome"), &chat))
	assert.Equal(t, "server", chat.Sender)
	assert.Equal(t, "welcome", chat.Text)
}
