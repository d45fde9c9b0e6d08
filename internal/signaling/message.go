package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message represents all WebSocket messages between clients and the relay.
// Descriptors are carried as opaque JSON; only the endpoints interpret them.
type Message struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom     = "join-room"
	MessageTypeLeaveRoom    = "leave-room"
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"
	MessageTypeEndCall      = "end-call"
)

// Reasons carried by end-call.
const (
	ReasonHangup   = "hangup"
	ReasonDeclined = "declined"
	ReasonBusy     = "busy"
	ReasonMissed   = "missed"
	ReasonFailed   = "failed"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingRoom    = errors.New("missing roomId")
	ErrMissingPayload = errors.New("missing payload")
)

// IsSignal reports whether t is relayed between room members.
func IsSignal(t string) bool {
	switch t {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate, MessageTypeEndCall:
		return true
	}
	return false
}

// Validate checks that the message is well formed for its type.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeEndCall:
	case MessageTypeOffer:
		if len(m.Offer) == 0 || m.From == "" {
			return fmt.Errorf("%w: offer requires offer and from", ErrMissingPayload)
		}
	case MessageTypeAnswer:
		if len(m.Answer) == 0 {
			return fmt.Errorf("%w: answer requires answer", ErrMissingPayload)
		}
	case MessageTypeICECandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%w: ice-candidate requires candidate", ErrMissingPayload)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return nil
}

// Payload returns the kind-specific descriptor of a signal message.
func (m *Message) Payload() json.RawMessage {
	switch m.Type {
	case MessageTypeOffer:
		return m.Offer
	case MessageTypeAnswer:
		return m.Answer
	case MessageTypeICECandidate:
		return m.Candidate
	}
	return nil
}

// NewJoin builds a join-room message.
func NewJoin(roomID string) *Message {
	return &Message{Type: MessageTypeJoinRoom, RoomID: roomID}
}

// NewOffer builds an offer message from the caller.
func NewOffer(roomID, from string, offer json.RawMessage) *Message {
	return &Message{Type: MessageTypeOffer, RoomID: roomID, From: from, Offer: offer}
}

// NewAnswer builds an answer message.
func NewAnswer(roomID string, answer json.RawMessage) *Message {
	return &Message{Type: MessageTypeAnswer, RoomID: roomID, Answer: answer}
}

// NewCandidate builds an ice-candidate message.
func NewCandidate(roomID string, candidate json.RawMessage) *Message {
	return &Message{Type: MessageTypeICECandidate, RoomID: roomID, Candidate: candidate}
}

// NewEndCall builds an end-call message.
func NewEndCall(roomID, from, reason string) *Message {
	return &Message{Type: MessageTypeEndCall, RoomID: roomID, From: from, Reason: reason}
}
