package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	desc := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	tests := []struct {
		name string
		msg  Message
		err  error
	}{
		{"join", Message{Type: MessageTypeJoinRoom, RoomID: "a-b"}, nil},
		{"join without room", Message{Type: MessageTypeJoinRoom}, ErrMissingRoom},
		{"offer", *NewOffer("a-b", "a", desc), nil},
		{"offer without from", Message{Type: MessageTypeOffer, RoomID: "a-b", Offer: desc}, ErrMissingPayload},
		{"offer without room", Message{Type: MessageTypeOffer, From: "a", Offer: desc}, ErrMissingRoom},
		{"answer without payload", Message{Type: MessageTypeAnswer, RoomID: "a-b"}, ErrMissingPayload},
		{"candidate", *NewCandidate("a-b", json.RawMessage(`{"candidate":"c"}`)), nil},
		{"end call", *NewEndCall("a-b", "a", ReasonHangup), nil},
		{"unknown", Message{Type: "create_room", RoomID: "a-b"}, ErrUnknownType},
		{"empty", Message{}, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWireFormat(t *testing.T) {
	msg := NewOffer("alice-bob", "alice", json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "offer", fields["type"])
	assert.Equal(t, "alice-bob", fields["roomId"])
	assert.Equal(t, "alice", fields["from"])
	assert.NotContains(t, fields, "answer")
	assert.NotContains(t, fields, "candidate")

	offer, ok := fields["offer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v=0", offer["sdp"])
}

func TestPayload(t *testing.T) {
	c := json.RawMessage(`{"candidate":"x"}`)
	assert.JSONEq(t, string(c), string(NewCandidate("r", c).Payload()))
	assert.Nil(t, NewJoin("r").Payload())
	assert.True(t, IsSignal(MessageTypeEndCall))
	assert.False(t, IsSignal(MessageTypeJoinRoom))
}
