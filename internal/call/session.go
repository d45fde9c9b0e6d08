package call

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the record of one call attempt. Fields are guarded by the
// owning Machine's mutex; opMu serializes calls into the transport so that
// buffered candidates are flushed before any later one is applied.
type Session struct {
	ID    string
	Peer  string
	Room  string
	Role  Role
	State State

	// offer is the remote offer a callee holds until it accepts.
	offer     json.RawMessage
	transport Transport
	opMu      sync.Mutex

	remoteApplied bool
	localSent     bool
	pendingRemote []json.RawMessage
	pendingLocal  []json.RawMessage

	// localOffer and sentLocal are what a caller has sent so far, kept so
	// the attempt can be replayed to a peer that joined the room late.
	localOffer json.RawMessage
	sentLocal  []json.RawMessage

	accepting  bool
	glareHeld  bool
	superseded bool
	timer      *time.Timer

	Video        bool
	Audio        bool
	RemoteVideo  bool
	RemoteAudio  bool
	RemoteTracks []string
	Linked       bool

	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Reason      string
	Err         error
}

func newSession(role Role, peer, room string, now time.Time) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Peer:        peer,
		Room:        room,
		Role:        role,
		Video:       true,
		Audio:       true,
		RemoteVideo: true,
		RemoteAudio: true,
		StartedAt:   now,
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SessionInfo is a point-in-time snapshot of a Session.
type SessionInfo struct {
	ID                string    `json:"id,omitempty"`
	Peer              string    `json:"peer,omitempty"`
	Room              string    `json:"room,omitempty"`
	Role              Role      `json:"role"`
	State             State     `json:"state"`
	Video             bool      `json:"video"`
	Audio             bool      `json:"audio"`
	RemoteVideo       bool      `json:"remoteVideo"`
	RemoteAudio       bool      `json:"remoteAudio"`
	RemoteTracks      []string  `json:"remoteTracks,omitempty"`
	Linked            bool      `json:"linked"`
	PendingCandidates int       `json:"pendingCandidates"`
	StartedAt         time.Time `json:"startedAt,omitzero"`
	ConnectedAt       time.Time `json:"connectedAt,omitzero"`
	EndedAt           time.Time `json:"endedAt,omitzero"`
	Reason            string    `json:"reason,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:                s.ID,
		Peer:              s.Peer,
		Room:              s.Room,
		Role:              s.Role,
		State:             s.State,
		Video:             s.Video,
		Audio:             s.Audio,
		RemoteVideo:       s.RemoteVideo,
		RemoteAudio:       s.RemoteAudio,
		RemoteTracks:      append([]string(nil), s.RemoteTracks...),
		Linked:            s.Linked,
		PendingCandidates: len(s.pendingRemote),
		StartedAt:         s.StartedAt,
		ConnectedAt:       s.ConnectedAt,
		EndedAt:           s.EndedAt,
		Reason:            s.Reason,
	}
	if s.Err != nil {
		info.Error = s.Err.Error()
	}
	return info
}

// Duration is how long the call was connected, zero if it never was.
func (i SessionInfo) Duration() time.Duration {
	if i.ConnectedAt.IsZero() {
		return 0
	}
	end := i.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(i.ConnectedAt)
}
