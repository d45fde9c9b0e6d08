package transport

import "github.com/vmihailenco/msgpack/v5"

const (
	// ControlLabel is the pre-negotiated data channel both sides create.
	ControlLabel = "control"

	MessageTypeMediaState = "media-state"
)

// controlChannelID is fixed so neither side has to announce the channel.
var controlChannelID uint16 = 0

// ControlMessage is the envelope for everything sent on the control channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MediaStatePayload tells the peer which local tracks are currently enabled.
type MediaStatePayload struct {
	Video bool `msgpack:"video"`
	Audio bool `msgpack:"audio"`
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewControlMessage creates a ControlMessage with the given type and payload.
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

func encodeControl(t string, payload any) ([]byte, error) {
	msg, err := NewControlMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func decodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}
