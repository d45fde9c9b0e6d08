// Package call drives one two-party call at a time through
// idle, calling, ringing, connected, ended and failed.
//
// The Machine owns the session record and makes every state decision. The
// transport only reports events; relay envelopes arrive through HandleSignal.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/roomkey"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

const (
	DefaultRingTimeout = 30 * time.Second
	DefaultDialTimeout = 45 * time.Second

	updatesBuffer = 32
)

// Options tunes a Machine. A zero timeout selects the default and a negative
// one disables it.
type Options struct {
	RingTimeout time.Duration
	DialTimeout time.Duration
	// NotifyPeer sends end-call envelopes on hangup, deny, missed and busy.
	NotifyPeer bool
}

func DefaultOptions() Options {
	return Options{
		RingTimeout: DefaultRingTimeout,
		DialTimeout: DefaultDialTimeout,
		NotifyPeer:  true,
	}
}

// Machine is the call state machine for one local identity.
type Machine struct {
	self     string
	signaler Signaler
	provider TransportProvider
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	session *Session
	watched map[string]struct{}
	updates chan SessionInfo
	closed  bool
}

// NewMachine creates a Machine for identity self.
func NewMachine(self string, sig Signaler, provider TransportProvider, opts Options, logger *slog.Logger) (*Machine, error) {
	if self == "" {
		return nil, NewError("new machine", ErrInvalidPeer)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RingTimeout == 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	return &Machine{
		self:     self,
		signaler: sig,
		provider: provider,
		opts:     opts,
		logger:   logger.With("self", self),
		watched:  make(map[string]struct{}),
		updates:  make(chan SessionInfo, updatesBuffer),
	}, nil
}

// Self returns the local identity.
func (m *Machine) Self() string {
	return m.self
}

// Updates delivers a snapshot after every change. Slow readers lose the
// oldest snapshots. The channel is closed by Close.
func (m *Machine) Updates() <-chan SessionInfo {
	return m.updates
}

// State returns the current state; idle when there is no session.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateIdle
	}
	return m.session.State
}

// Session returns a snapshot of the current or most recent session.
func (m *Machine) Session() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionInfo{State: StateIdle}
	}
	return m.session.Info()
}

// Watch joins the room shared with peer so that its offers reach us.
func (m *Machine) Watch(peer string) error {
	if err := m.checkPeer(peer); err != nil {
		return NewError("watch", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewError("watch", ErrClosed)
	}
	return m.joinLocked(roomkey.Key(m.self, peer))
}

// StartCall dials peer. It returns once the offer has been sent; the answer
// arrives asynchronously.
func (m *Machine) StartCall(ctx context.Context, peer string) error {
	if err := m.checkPeer(peer); err != nil {
		return NewError("start call", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return NewError("start call", ErrClosed)
	}
	if m.session != nil && !m.session.State.Terminal() {
		m.mu.Unlock()
		return NewError("start call", ErrAlreadyInCall)
	}
	room := roomkey.Key(m.self, peer)
	if err := m.joinLocked(room); err != nil {
		m.mu.Unlock()
		return NewError("start call", err)
	}
	s := newSession(RoleCaller, peer, room, time.Now())
	s.State = StateCalling
	m.session = s
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("starting call", "peer", peer, "room", room, "session", s.ID)

	tr, err := m.provider.Open(ctx, &sessionEvents{m: m, s: s})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrCallCancelled
		}
		return m.abort(s, "acquire media", err)
	}

	m.mu.Lock()
	if m.session != s || s.State != StateCalling {
		superseded := s.superseded
		m.mu.Unlock()
		m.teardown(tr)
		if superseded {
			return nil
		}
		return NewError("start call", ErrCallCancelled)
	}
	s.transport = tr
	video, audio := s.Video, s.Audio
	m.mu.Unlock()

	m.applyToggles(tr, video, audio)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	offer, err := tr.CreateOffer(ctx)
	if err != nil {
		return m.abort(s, "create offer", err)
	}

	m.mu.Lock()
	if m.session != s || s.State != StateCalling {
		superseded := s.superseded
		m.mu.Unlock()
		if superseded {
			return nil
		}
		return NewError("start call", ErrCallCancelled)
	}
	if err := m.signaler.Send(signaling.NewOffer(room, m.self, offer)); err != nil {
		stale := m.finishLocked(s, StateFailed, signaling.ReasonFailed, NewError("send offer", err))
		m.mu.Unlock()
		m.teardown(stale)
		return NewError("send offer", err)
	}
	s.localOffer = offer
	m.flushLocalLocked(s)
	if m.opts.DialTimeout > 0 {
		s.timer = time.AfterFunc(m.opts.DialTimeout, func() { m.dialExpired(s) })
	}
	m.mu.Unlock()
	return nil
}

// AcceptCall answers the ringing call.
func (m *Machine) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	if m.closed {
		m.mu.Unlock()
		return NewError("accept call", ErrClosed)
	}
	if s == nil || s.State != StateRinging {
		m.mu.Unlock()
		return NewError("accept call", ErrNoIncomingCall)
	}
	if s.accepting {
		m.mu.Unlock()
		return WrapError("accept call", ErrInvalidSignalingState, "accept already in progress")
	}
	s.accepting = true
	s.stopTimer()
	m.mu.Unlock()

	return m.accept(ctx, s)
}

func (m *Machine) accept(ctx context.Context, s *Session) error {
	tr, err := m.provider.Open(ctx, &sessionEvents{m: m, s: s})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrCallCancelled
		}
		return m.abort(s, "acquire media", err)
	}

	m.mu.Lock()
	if m.session != s || s.State != StateRinging {
		m.mu.Unlock()
		m.teardown(tr)
		return NewError("accept call", ErrCallCancelled)
	}
	s.transport = tr
	offer := s.offer
	video, audio := s.Video, s.Audio
	m.mu.Unlock()

	m.applyToggles(tr, video, audio)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := tr.ApplyRemoteDescriptor(offer); err != nil {
		return m.abort(s, "apply offer", err)
	}
	answer, err := tr.CreateAnswer(ctx)
	if err != nil {
		return m.abort(s, "create answer", err)
	}

	m.mu.Lock()
	if m.session != s || s.State != StateRinging {
		m.mu.Unlock()
		return NewError("accept call", ErrCallCancelled)
	}
	if err := m.signaler.Send(signaling.NewAnswer(s.Room, answer)); err != nil {
		tr := m.finishLocked(s, StateFailed, signaling.ReasonFailed, NewError("send answer", err))
		m.mu.Unlock()
		m.teardown(tr)
		return NewError("send answer", err)
	}
	m.flushLocalLocked(s)
	pending := m.takePendingLocked(s)
	s.offer = nil
	s.accepting = false
	s.State = StateConnected
	s.ConnectedAt = time.Now()
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("call accepted", "peer", s.Peer, "session", s.ID, "buffered", len(pending))
	m.applyPending(s, tr, pending)
	return nil
}

// DenyCall rejects the ringing call and returns to idle.
func (m *Machine) DenyCall() error {
	m.mu.Lock()
	s := m.session
	if s == nil || s.State != StateRinging {
		m.mu.Unlock()
		return NewError("deny call", ErrNoIncomingCall)
	}
	s.stopTimer()
	m.notifyLocked(s.Room, signaling.ReasonDeclined)
	s.Reason = signaling.ReasonDeclined
	// An accept in flight finds the session gone and releases what it
	// opens from here on.
	tr := s.transport
	s.transport = nil
	m.resetLocked(s)
	m.mu.Unlock()

	m.logger.Info("call denied", "peer", s.Peer, "session", s.ID)
	m.teardown(tr)
	return nil
}

// EndCall hangs up. Local media and the transport are released before it
// returns.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	s := m.session
	if s == nil || !s.State.Active() {
		m.mu.Unlock()
		return NewError("end call", ErrNoActiveCall)
	}
	m.notifyLocked(s.Room, signaling.ReasonHangup)
	tr := m.finishLocked(s, StateEnded, signaling.ReasonHangup, nil)
	m.mu.Unlock()

	m.logger.Info("call ended locally", "peer", s.Peer, "session", s.ID)
	m.teardown(tr)
	return nil
}

// ToggleLocalVideo enables or disables outgoing video without renegotiating.
func (m *Machine) ToggleLocalVideo(enabled bool) error {
	return m.toggle("toggle video", enabled, func(s *Session) { s.Video = enabled },
		func(tr Transport) error { return tr.ToggleLocalVideo(enabled) })
}

// ToggleLocalAudio mutes or unmutes the microphone.
func (m *Machine) ToggleLocalAudio(enabled bool) error {
	return m.toggle("toggle audio", enabled, func(s *Session) { s.Audio = enabled },
		func(tr Transport) error { return tr.ToggleLocalAudio(enabled) })
}

func (m *Machine) toggle(op string, enabled bool, set func(*Session), apply func(Transport) error) error {
	m.mu.Lock()
	s := m.session
	if s == nil || !s.State.Active() {
		m.mu.Unlock()
		return NewError(op, ErrNoActiveCall)
	}
	set(s)
	tr := s.transport
	m.publishLocked()
	m.mu.Unlock()

	// Without a transport yet the flag is applied once it is opened.
	if tr == nil {
		return nil
	}
	if err := apply(tr); err != nil {
		return NewError(op, err)
	}
	return nil
}

// Close ends any active call, leaves every watched room and closes Updates.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var tr Transport
	if s := m.session; s != nil && s.State.Active() {
		s.stopTimer()
		if s.State == StateRinging {
			m.notifyLocked(s.Room, signaling.ReasonDeclined)
		} else {
			m.notifyLocked(s.Room, signaling.ReasonHangup)
		}
		tr = m.finishLocked(s, StateEnded, signaling.ReasonHangup, nil)
	}
	for room := range m.watched {
		if err := m.signaler.Send(&signaling.Message{Type: signaling.MessageTypeLeaveRoom, RoomID: room}); err != nil {
			m.logger.Debug("leave room not sent", "room", room, "error", err)
		}
	}
	m.watched = map[string]struct{}{}
	m.closed = true
	close(m.updates)
	m.mu.Unlock()

	m.teardown(tr)
}

// HandleSignal consumes one envelope from the relay.
func (m *Machine) HandleSignal(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeOffer:
		m.handleOffer(msg)
	case signaling.MessageTypeAnswer:
		m.handleAnswer(msg)
	case signaling.MessageTypeICECandidate:
		m.handleCandidate(msg)
	case signaling.MessageTypeEndCall:
		m.handleEndCall(msg)
	default:
		m.logger.Debug("ignoring signal", "type", msg.Type)
	}
}

func (m *Machine) handleOffer(msg *signaling.Message) {
	from := msg.From
	if m.checkPeer(from) != nil || msg.RoomID != roomkey.Key(m.self, from) {
		m.logger.Warn("dropping offer with mismatched identity", "from", from, "room", msg.RoomID)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	s := m.session

	switch {
	case s == nil || s.State.Terminal():
		m.ringLocked(from, msg)
		m.mu.Unlock()

	case s.Peer != from:
		m.logger.Info("rejecting offer while busy", "from", from, "current", s.Peer)
		m.notifyLocked(msg.RoomID, signaling.ReasonBusy)
		m.mu.Unlock()

	case s.State == StateCalling:
		m.resolveGlareLocked(s, msg)

	case s.State == StateRinging && !s.accepting:
		// The caller restarted its attempt; earlier candidates belong to the
		// old offer.
		s.offer = msg.Offer
		s.pendingRemote = nil
		m.publishLocked()
		m.mu.Unlock()

	default:
		m.logger.Warn("ignoring offer during active call", "from", from, "state", s.State)
		m.mu.Unlock()
	}
}

// resolveGlareLocked settles two simultaneous offers between the same pair:
// the offer from the lexicographically smaller identity wins. It unlocks mu.
func (m *Machine) resolveGlareLocked(s *Session, msg *signaling.Message) {
	if m.self < msg.From {
		m.logger.Info("simultaneous offer, keeping ours", "peer", msg.From)
		s.glareHeld = true
		// The peer may have joined after our offer was relayed into an empty
		// room. Its offer proves it is listening now.
		m.replayOfferLocked(s)
		m.mu.Unlock()
		return
	}

	m.logger.Info("simultaneous offer, yielding to peer", "peer", msg.From)
	s.superseded = true
	tr := m.finishLocked(s, StateEnded, "superseded", nil)
	ns := m.ringLocked(msg.From, msg)
	ns.Video, ns.Audio = s.Video, s.Audio
	ns.stopTimer()
	ns.accepting = true
	m.mu.Unlock()

	m.teardown(tr)
	go func() {
		if err := m.accept(context.Background(), ns); err != nil {
			m.logger.Warn("auto-accept after simultaneous offer failed", "peer", ns.Peer, "error", err)
		}
	}()
}

// replayOfferLocked sends the caller's offer and candidates again. A peer
// that already has them ignores the duplicate offer.
func (m *Machine) replayOfferLocked(s *Session) {
	if s.localOffer == nil {
		return
	}
	if err := m.signaler.Send(signaling.NewOffer(s.Room, m.self, s.localOffer)); err != nil {
		m.logger.Debug("offer not resent", "room", s.Room, "error", err)
		return
	}
	for _, c := range s.sentLocal {
		if err := m.signaler.Send(signaling.NewCandidate(s.Room, c)); err != nil {
			m.logger.Debug("candidate not resent", "error", err)
		}
	}
}

func (m *Machine) ringLocked(from string, msg *signaling.Message) *Session {
	s := newSession(RoleCallee, from, msg.RoomID, time.Now())
	s.State = StateRinging
	s.offer = msg.Offer
	if m.opts.RingTimeout > 0 {
		s.timer = time.AfterFunc(m.opts.RingTimeout, func() { m.ringExpired(s) })
	}
	m.session = s
	m.publishLocked()
	m.logger.Info("incoming call", "peer", from, "session", s.ID)
	return s
}

func (m *Machine) handleAnswer(msg *signaling.Message) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Room != msg.RoomID || s.Role != RoleCaller || s.State != StateCalling || s.transport == nil {
		m.mu.Unlock()
		m.logger.Debug("ignoring unexpected answer", "room", msg.RoomID)
		return
	}
	s.glareHeld = false
	s.stopTimer()
	tr := s.transport
	m.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := tr.ApplyRemoteDescriptor(msg.Answer); err != nil {
		m.abort(s, "apply answer", err)
		return
	}

	m.mu.Lock()
	if m.session != s || s.State != StateCalling {
		m.mu.Unlock()
		return
	}
	pending := m.takePendingLocked(s)
	s.State = StateConnected
	s.ConnectedAt = time.Now()
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("call answered", "peer", s.Peer, "session", s.ID, "buffered", len(pending))
	m.applyPending(s, tr, pending)
}

func (m *Machine) handleCandidate(msg *signaling.Message) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Room != msg.RoomID || !s.State.Active() || s.glareHeld {
		m.mu.Unlock()
		m.logger.Debug("dropping candidate", "room", msg.RoomID)
		return
	}
	if !s.remoteApplied {
		s.pendingRemote = append(s.pendingRemote, msg.Candidate)
		m.mu.Unlock()
		return
	}
	tr := s.transport
	m.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := tr.ApplyCandidate(msg.Candidate); err != nil {
		m.logger.Warn("failed to apply candidate", "session", s.ID, "error", err)
	}
}

func (m *Machine) handleEndCall(msg *signaling.Message) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Room != msg.RoomID || msg.From != s.Peer || !s.State.Active() {
		m.mu.Unlock()
		return
	}

	reason := msg.Reason
	if reason == "" {
		reason = signaling.ReasonHangup
	}
	s.stopTimer()

	var tr Transport
	switch {
	case s.State == StateRinging:
		// The caller gave up before we answered.
		s.Reason = reason
		tr = s.transport
		s.transport = nil
		m.resetLocked(s)
	case s.State == StateCalling:
		var err error
		switch reason {
		case signaling.ReasonDeclined:
			err = ErrCallDeclined
		case signaling.ReasonBusy:
			err = ErrBusy
		case signaling.ReasonMissed:
			err = ErrNoAnswer
		}
		tr = m.finishLocked(s, StateEnded, reason, err)
	default:
		tr = m.finishLocked(s, StateEnded, reason, nil)
	}
	m.mu.Unlock()

	m.logger.Info("peer ended call", "peer", s.Peer, "reason", reason, "session", s.ID)
	m.teardown(tr)
}

func (m *Machine) onLocalCandidate(s *Session, candidate json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s || !s.State.Active() {
		return
	}
	if !s.localSent {
		s.pendingLocal = append(s.pendingLocal, candidate)
		return
	}
	if err := m.signaler.Send(signaling.NewCandidate(s.Room, candidate)); err != nil {
		m.logger.Debug("candidate not sent", "error", err)
	}
	m.keepSentLocked(s, candidate)
}

func (m *Machine) keepSentLocked(s *Session, candidate json.RawMessage) {
	if s.Role == RoleCaller && s.State == StateCalling {
		s.sentLocal = append(s.sentLocal, candidate)
	}
}

func (m *Machine) onConnectionState(s *Session, state ConnectionState) {
	m.mu.Lock()
	if m.session != s || s.State.Terminal() {
		m.mu.Unlock()
		return
	}

	m.logger.Debug("transport state", "session", s.ID, "state", state)

	var tr Transport
	switch state {
	case ConnectionConnected:
		s.Linked = true
		m.publishLocked()
	case ConnectionDisconnected:
		if s.State == StateConnected {
			tr = m.finishLocked(s, StateEnded, "disconnected", nil)
		}
	case ConnectionFailed:
		tr = m.finishLocked(s, StateFailed, signaling.ReasonFailed, NewError("transport", ErrTransportFailure))
	}
	m.mu.Unlock()

	m.teardown(tr)
}

func (m *Machine) onRemoteTrack(s *Session, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s || s.State.Terminal() {
		return
	}
	s.RemoteTracks = append(s.RemoteTracks, kind)
	m.publishLocked()
}

func (m *Machine) onRemoteMediaState(s *Session, video, audio bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s || s.State.Terminal() {
		return
	}
	s.RemoteVideo, s.RemoteAudio = video, audio
	m.publishLocked()
}

func (m *Machine) ringExpired(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.session != s || s.State != StateRinging || s.accepting {
		return
	}
	m.logger.Info("incoming call expired", "peer", s.Peer, "session", s.ID)
	m.notifyLocked(s.Room, signaling.ReasonMissed)
	s.Reason = signaling.ReasonMissed
	m.resetLocked(s)
}

func (m *Machine) dialExpired(s *Session) {
	m.mu.Lock()
	if m.closed || m.session != s || s.State != StateCalling {
		m.mu.Unlock()
		return
	}
	m.logger.Info("outgoing call not answered", "peer", s.Peer, "session", s.ID)
	m.notifyLocked(s.Room, signaling.ReasonMissed)
	tr := m.finishLocked(s, StateEnded, "no-answer", NewError("dial", ErrNoAnswer))
	m.mu.Unlock()

	m.teardown(tr)
}

// abort fails s after op returned err, unless s is no longer current.
func (m *Machine) abort(s *Session, op string, err error) error {
	cerr := NewError(op, err)
	m.mu.Lock()
	if m.session != s || !s.State.Active() {
		m.mu.Unlock()
		if s.superseded {
			return nil
		}
		return NewError(op, ErrCallCancelled)
	}
	state := StateFailed
	reason := signaling.ReasonFailed
	if errors.Is(err, ErrCallCancelled) {
		state, reason = StateEnded, signaling.ReasonHangup
	}
	m.notifyLocked(s.Room, reason)
	tr := m.finishLocked(s, state, reason, cerr)
	m.mu.Unlock()

	m.logger.Warn("call aborted", "op", op, "peer", s.Peer, "error", err)
	m.teardown(tr)
	return cerr
}

// finishLocked moves s into a terminal state and detaches its transport,
// which the caller must tear down after releasing mu.
func (m *Machine) finishLocked(s *Session, state State, reason string, err error) Transport {
	s.stopTimer()
	s.State = state
	s.Reason = reason
	s.Err = err
	s.EndedAt = time.Now()
	s.pendingRemote = nil
	s.pendingLocal = nil
	s.localOffer = nil
	s.sentLocal = nil
	tr := s.transport
	s.transport = nil
	m.publishLocked()
	return tr
}

// resetLocked drops s and returns to idle.
func (m *Machine) resetLocked(s *Session) {
	info := s.Info()
	info.State = StateIdle
	info.EndedAt = time.Now()
	s.State = StateIdle
	s.pendingRemote = nil
	s.offer = nil
	m.session = nil
	m.sendUpdateLocked(info)
}

func (m *Machine) takePendingLocked(s *Session) []json.RawMessage {
	pending := s.pendingRemote
	s.pendingRemote = nil
	s.remoteApplied = true
	return pending
}

// applyPending applies buffered candidates in arrival order. The caller
// holds s.opMu so no later candidate can overtake them.
func (m *Machine) applyPending(s *Session, tr Transport, pending []json.RawMessage) {
	for _, c := range pending {
		if err := tr.ApplyCandidate(c); err != nil {
			m.logger.Warn("failed to apply buffered candidate", "session", s.ID, "error", err)
		}
	}
}

func (m *Machine) flushLocalLocked(s *Session) {
	s.localSent = true
	for _, c := range s.pendingLocal {
		if err := m.signaler.Send(signaling.NewCandidate(s.Room, c)); err != nil {
			m.logger.Debug("candidate not sent", "error", err)
		}
		m.keepSentLocked(s, c)
	}
	s.pendingLocal = nil
}

func (m *Machine) applyToggles(tr Transport, video, audio bool) {
	if !video {
		if err := tr.ToggleLocalVideo(false); err != nil {
			m.logger.Debug("video toggle not applied", "error", err)
		}
	}
	if !audio {
		if err := tr.ToggleLocalAudio(false); err != nil {
			m.logger.Debug("audio toggle not applied", "error", err)
		}
	}
}

func (m *Machine) notifyLocked(room, reason string) {
	if !m.opts.NotifyPeer {
		return
	}
	if err := m.signaler.Send(signaling.NewEndCall(room, m.self, reason)); err != nil {
		m.logger.Debug("end-call not sent", "room", room, "error", err)
	}
}

func (m *Machine) joinLocked(room string) error {
	if _, ok := m.watched[room]; ok {
		return nil
	}
	if err := m.signaler.Send(signaling.NewJoin(room)); err != nil {
		return err
	}
	m.watched[room] = struct{}{}
	return nil
}

func (m *Machine) teardown(tr Transport) {
	if tr == nil {
		return
	}
	if err := tr.Teardown(); err != nil {
		m.logger.Warn("transport teardown failed", "error", err)
	}
}

func (m *Machine) checkPeer(peer string) error {
	if peer == "" || peer == m.self {
		return ErrInvalidPeer
	}
	return nil
}

func (m *Machine) publishLocked() {
	if m.session == nil {
		m.sendUpdateLocked(SessionInfo{State: StateIdle})
		return
	}
	m.sendUpdateLocked(m.session.Info())
}

func (m *Machine) sendUpdateLocked(info SessionInfo) {
	if m.closed {
		return
	}
	for {
		select {
		case m.updates <- info:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}
