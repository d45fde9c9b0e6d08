package call

import (
	"context"
	"encoding/json"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// Transport is one negotiated peer connection plus the local media attached
// to it. Descriptors and candidates are opaque JSON as carried by the relay.
type Transport interface {
	// CreateOffer sets and returns the local offer.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// CreateAnswer sets and returns the local answer. The remote offer must
	// already be applied.
	CreateAnswer(ctx context.Context) (json.RawMessage, error)
	ApplyRemoteDescriptor(desc json.RawMessage) error
	ApplyCandidate(candidate json.RawMessage) error
	ToggleLocalVideo(enabled bool) error
	ToggleLocalAudio(enabled bool) error
	// Teardown stops local tracks and closes the connection. Repeated calls
	// are no-ops.
	Teardown() error
}

// TransportEvents receives everything a Transport reports asynchronously.
type TransportEvents interface {
	LocalCandidate(candidate json.RawMessage)
	ConnectionStateChanged(state ConnectionState)
	RemoteTrack(kind string)
	RemoteMediaState(video, audio bool)
}

// TransportProvider acquires local media and opens a transport wired to events.
// It fails with ErrMediaUnavailable when capture cannot be obtained.
type TransportProvider interface {
	Open(ctx context.Context, events TransportEvents) (Transport, error)
}

// Signaler sends envelopes to the relay.
type Signaler interface {
	Send(msg *signaling.Message) error
}

// sessionEvents routes transport callbacks to the session they were opened
// for. Callbacks from a transport whose session is gone are ignored.
type sessionEvents struct {
	m *Machine
	s *Session
}

func (e *sessionEvents) LocalCandidate(candidate json.RawMessage) {
	e.m.onLocalCandidate(e.s, candidate)
}

func (e *sessionEvents) ConnectionStateChanged(state ConnectionState) {
	e.m.onConnectionState(e.s, state)
}

func (e *sessionEvents) RemoteTrack(kind string) {
	e.m.onRemoteTrack(e.s, kind)
}

func (e *sessionEvents) RemoteMediaState(video, audio bool) {
	e.m.onRemoteMediaState(e.s, video, audio)
}
