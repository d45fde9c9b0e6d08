package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/BioHazard786/Warpcall/internal/roomkey"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietOptions() Options {
	return Options{RingTimeout: -1, DialTimeout: -1, NotifyPeer: false}
}

// connectPair runs a full call from alice to bob and returns once both sides
// are connected.
func connectPair(t *testing.T, opts Options) (alice, bob *peer) {
	t.Helper()
	reg := relay.NewRegistry()
	alice = newPeer(t, "alice", reg, opts)
	bob = newPeer(t, "bob", reg, opts)
	alice.ep.run(t, alice)
	bob.ep.run(t, bob)

	require.NoError(t, bob.Watch("alice"))
	require.NoError(t, alice.StartCall(context.Background(), "bob"))
	waitState(t, bob.Machine, StateRinging)
	require.NoError(t, bob.AcceptCall(context.Background()))
	waitState(t, alice.Machine, StateConnected)
	waitState(t, bob.Machine, StateConnected)
	return alice, bob
}

func TestHappyPath(t *testing.T) {
	alice, bob := connectPair(t, quietOptions())

	at := alice.provider.Last(t)
	bt := bob.provider.Last(t)

	require.Eventually(t, func() bool { return len(at.Ops()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"offer", "remote:answer:bob0", "candidate:bob0-0"}, at.Ops())
	assert.Equal(t, []string{"remote:offer:alice0", "answer", "candidate:alice0-0"}, bt.Ops())

	// Descriptor always precedes the candidates gathered while creating it.
	assert.Equal(t, []string{
		signaling.MessageTypeJoinRoom,
		signaling.MessageTypeOffer,
		signaling.MessageTypeICECandidate,
	}, alice.ep.Types())
	assert.Equal(t, []string{
		signaling.MessageTypeJoinRoom,
		signaling.MessageTypeAnswer,
		signaling.MessageTypeICECandidate,
	}, bob.ep.Types())

	ai := alice.Session()
	assert.Equal(t, RoleCaller, ai.Role)
	assert.Equal(t, "bob", ai.Peer)
	assert.Equal(t, roomkey.Key("alice", "bob"), ai.Room)
	assert.False(t, ai.ConnectedAt.IsZero())

	bi := bob.Session()
	assert.Equal(t, RoleCallee, bi.Role)
	assert.Equal(t, "alice", bi.Peer)
}

func TestDenyLeavesCallerCalling(t *testing.T) {
	reg := relay.NewRegistry()
	alice := newPeer(t, "alice", reg, quietOptions())
	bob := newPeer(t, "bob", reg, quietOptions())
	alice.ep.run(t, alice)
	bob.ep.run(t, bob)

	require.NoError(t, bob.Watch("alice"))
	require.NoError(t, alice.StartCall(context.Background(), "bob"))
	waitState(t, bob.Machine, StateRinging)

	// Media is not acquired before consent.
	assert.Empty(t, bob.provider.Transports())

	require.NoError(t, bob.DenyCall())
	assert.Equal(t, StateIdle, bob.State())
	assert.Empty(t, bob.ep.Find(signaling.MessageTypeEndCall))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateCalling, alice.State())
}

func TestDenyNotifiesCaller(t *testing.T) {
	reg := relay.NewRegistry()
	opts := quietOptions()
	opts.NotifyPeer = true
	alice := newPeer(t, "alice", reg, opts)
	bob := newPeer(t, "bob", reg, opts)
	alice.ep.run(t, alice)
	bob.ep.run(t, bob)

	require.NoError(t, bob.Watch("alice"))
	require.NoError(t, alice.StartCall(context.Background(), "bob"))
	waitState(t, bob.Machine, StateRinging)
	require.NoError(t, bob.DenyCall())

	waitState(t, alice.Machine, StateEnded)
	info := alice.Session()
	assert.Equal(t, signaling.ReasonDeclined, info.Reason)
	assert.Equal(t, ErrCallDeclined.Error(), info.Error)
	assert.True(t, alice.provider.Last(t).Closed())
	assert.Zero(t, alice.provider.active.Load())
}

func TestCandidatesBufferedUntilAccept(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("bob")
	m, err := NewMachine("bob", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	room := roomkey.Key("alice", "bob")
	m.HandleSignal(offerFrom("alice", "bob", "o1"))
	require.Equal(t, StateRinging, m.State())

	for _, c := range []string{"c1", "c2", "c3"} {
		m.HandleSignal(candidateMsg(room, c))
	}
	assert.Equal(t, 3, m.Session().PendingCandidates)

	require.NoError(t, m.AcceptCall(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	tr := provider.Last(t)
	assert.Equal(t, []string{
		"remote:offer:o1",
		"answer",
		"candidate:c1",
		"candidate:c2",
		"candidate:c3",
	}, tr.Ops())
	assert.Zero(t, m.Session().PendingCandidates)

	m.HandleSignal(candidateMsg(room, "c4"))
	assert.Equal(t, "candidate:c4", tr.Ops()[len(tr.Ops())-1])
}

func TestCandidatesArrivingDuringAcceptKeepOrder(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("bob")
	provider.gate = make(chan struct{})
	m, err := NewMachine("bob", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	room := roomkey.Key("alice", "bob")
	m.HandleSignal(offerFrom("alice", "bob", "o1"))
	m.HandleSignal(candidateMsg(room, "c1"))

	accepted := make(chan error, 1)
	go func() { accepted <- m.AcceptCall(context.Background()) }()

	// Still acquiring media: later candidates keep queueing.
	m.HandleSignal(candidateMsg(room, "c2"))
	close(provider.gate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.HandleSignal(candidateMsg(room, "c3"))
	}()

	require.NoError(t, <-accepted)
	wg.Wait()

	ops := provider.Last(t).Ops()
	require.Len(t, ops, 5)
	assert.Equal(t, []string{"remote:offer:o1", "answer", "candidate:c1", "candidate:c2", "candidate:c3"}, ops)
}

func TestEndCallMidCall(t *testing.T) {
	alice, bob := connectPair(t, quietOptions())

	require.NoError(t, alice.EndCall())
	assert.Equal(t, StateEnded, alice.State())
	assert.True(t, alice.provider.Last(t).Closed())
	assert.Zero(t, alice.provider.active.Load())
	assert.Empty(t, alice.ep.Find(signaling.MessageTypeEndCall))

	// Without an explicit hangup bob only learns from the transport.
	assert.Equal(t, StateConnected, bob.State())
	bt := bob.provider.Last(t)
	bt.events.ConnectionStateChanged(ConnectionDisconnected)
	assert.Equal(t, StateEnded, bob.State())
	assert.True(t, bt.Closed())
	assert.Zero(t, bob.provider.active.Load())

	assert.ErrorIs(t, alice.EndCall(), ErrNoActiveCall)
}

func TestEndCallNotifiesPeer(t *testing.T) {
	opts := quietOptions()
	opts.NotifyPeer = true
	alice, bob := connectPair(t, opts)

	require.NoError(t, alice.EndCall())
	waitState(t, bob.Machine, StateEnded)
	assert.Equal(t, signaling.ReasonHangup, bob.Session().Reason)
	assert.Zero(t, bob.provider.active.Load())
}

func TestSimultaneousOffers(t *testing.T) {
	reg := relay.NewRegistry()
	alice := newPeer(t, "alice", reg, quietOptions())
	bob := newPeer(t, "bob", reg, quietOptions())

	require.NoError(t, alice.Watch("bob"))
	require.NoError(t, bob.Watch("alice"))

	// Both offers are in flight before either side handles anything.
	require.NoError(t, alice.StartCall(context.Background(), "bob"))
	require.NoError(t, bob.StartCall(context.Background(), "alice"))
	alice.ep.run(t, alice)
	bob.ep.run(t, bob)

	waitState(t, alice.Machine, StateConnected)
	waitState(t, bob.Machine, StateConnected)

	assert.Equal(t, RoleCaller, alice.Session().Role)
	assert.Equal(t, RoleCallee, bob.Session().Role)

	// Bob's abandoned attempt released its media.
	bts := bob.provider.Transports()
	require.Len(t, bts, 2)
	assert.True(t, bts[0].Closed())
	assert.False(t, bts[1].Closed())
	assert.Equal(t, int32(1), bob.provider.active.Load())

	// Bob answered alice's offer, not his own.
	assert.Equal(t, "remote:offer:alice0", bts[1].Ops()[0])
	require.Eventually(t, func() bool {
		ops := alice.provider.Last(t).Ops()
		return len(ops) >= 2 && ops[1] == "remote:answer:bob1"
	}, time.Second, 5*time.Millisecond)

	// Candidates from bob's losing offer never reached alice's transport.
	assert.NotContains(t, alice.provider.Last(t).Ops(), "candidate:bob0-0")
}

func TestSimultaneousOffersAfterLateJoin(t *testing.T) {
	reg := relay.NewRegistry()
	alice := newPeer(t, "alice", reg, quietOptions())
	bob := newPeer(t, "bob", reg, quietOptions())
	alice.ep.run(t, alice)
	bob.ep.run(t, bob)

	// Bob is not in the room yet, so alice's offer goes nowhere.
	require.NoError(t, alice.StartCall(context.Background(), "bob"))
	require.NoError(t, bob.StartCall(context.Background(), "alice"))

	waitState(t, alice.Machine, StateConnected)
	waitState(t, bob.Machine, StateConnected)
	assert.Equal(t, RoleCaller, alice.Session().Role)
	assert.Equal(t, RoleCallee, bob.Session().Role)

	// Alice replayed her offer once bob's showed he was listening.
	assert.Len(t, alice.ep.Find(signaling.MessageTypeOffer), 2)

	bts := bob.provider.Transports()
	require.Len(t, bts, 2)
	assert.True(t, bts[0].Closed())
	require.Eventually(t, func() bool {
		ops := bts[1].Ops()
		return len(ops) >= 3 && ops[0] == "remote:offer:alice0" && ops[2] == "candidate:alice0-0"
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, alice.provider.Last(t).Ops(), "candidate:bob0-0")
}

func TestRingTimeout(t *testing.T) {
	rec := &recorder{}
	opts := Options{RingTimeout: 30 * time.Millisecond, DialTimeout: -1, NotifyPeer: true}
	m, err := NewMachine("bob", rec, newProvider("bob"), opts, discardLogger())
	require.NoError(t, err)
	defer m.Close()

	m.HandleSignal(offerFrom("alice", "bob", "o1"))
	require.Equal(t, StateRinging, m.State())

	waitState(t, m, StateIdle)
	ends := rec.Find(signaling.MessageTypeEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, signaling.ReasonMissed, ends[0].Reason)
	assert.ErrorIs(t, m.AcceptCall(context.Background()), ErrNoIncomingCall)
}

func TestDialTimeout(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("alice")
	opts := Options{RingTimeout: -1, DialTimeout: 30 * time.Millisecond, NotifyPeer: false}
	m, err := NewMachine("alice", rec, provider, opts, discardLogger())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.StartCall(context.Background(), "bob"))
	waitState(t, m, StateEnded)
	assert.Contains(t, m.Session().Error, ErrNoAnswer.Error())
	assert.True(t, provider.Last(t).Closed())
}

func TestEndCallDuringMediaAcquisition(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("alice")
	provider.gate = make(chan struct{})
	m, err := NewMachine("alice", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	started := make(chan error, 1)
	go func() { started <- m.StartCall(context.Background(), "bob") }()
	waitState(t, m, StateCalling)

	require.NoError(t, m.EndCall())
	assert.Equal(t, StateEnded, m.State())

	close(provider.gate)
	err = <-started
	assert.ErrorIs(t, err, ErrCallCancelled)

	// The late transport was discarded, not attached.
	assert.True(t, provider.Last(t).Closed())
	assert.Zero(t, provider.active.Load())
	assert.Empty(t, rec.Find(signaling.MessageTypeOffer))
}

func TestDenyDuringAccept(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("bob")
	provider.gate = make(chan struct{})
	m, err := NewMachine("bob", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	m.HandleSignal(offerFrom("alice", "bob", "o1"))

	accepted := make(chan error, 1)
	go func() { accepted <- m.AcceptCall(context.Background()) }()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.session != nil && m.session.accepting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.DenyCall())
	close(provider.gate)

	assert.ErrorIs(t, <-accepted, ErrCallCancelled)
	assert.Equal(t, StateIdle, m.State())
	assert.Zero(t, provider.active.Load())
	assert.Empty(t, rec.Find(signaling.MessageTypeAnswer))
}

func TestStartCallContextCancelled(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("alice")
	provider.gate = make(chan struct{})
	m, err := NewMachine("alice", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.StartCall(ctx, "bob")
	assert.ErrorIs(t, err, ErrCallCancelled)
	assert.Equal(t, StateEnded, m.State())
}

func TestMediaUnavailable(t *testing.T) {
	rec := &recorder{}
	provider := newProvider("alice")
	provider.err = NewError("acquire", ErrMediaUnavailable)
	m, err := NewMachine("alice", rec, provider, quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	err = m.StartCall(context.Background(), "bob")
	require.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Equal(t, StateFailed, m.State())
	assert.Empty(t, rec.Find(signaling.MessageTypeOffer))

	// A failed session does not block the next attempt.
	provider.err = nil
	require.NoError(t, m.StartCall(context.Background(), "bob"))
	assert.Equal(t, StateCalling, m.State())
}

func TestBusyRejectsOtherCaller(t *testing.T) {
	rec := &recorder{}
	opts := quietOptions()
	opts.NotifyPeer = true
	m, err := NewMachine("bob", rec, newProvider("bob"), opts, discardLogger())
	require.NoError(t, err)
	defer m.Close()

	m.HandleSignal(offerFrom("alice", "bob", "o1"))
	m.HandleSignal(offerFrom("carol", "bob", "o2"))

	assert.Equal(t, "alice", m.Session().Peer)
	ends := rec.Find(signaling.MessageTypeEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, signaling.ReasonBusy, ends[0].Reason)
	assert.Equal(t, roomkey.Key("bob", "carol"), ends[0].RoomID)
}

func TestRejectsSpoofedOffer(t *testing.T) {
	m, err := NewMachine("bob", &recorder{}, newProvider("bob"), quietOptions(), discardLogger())
	require.NoError(t, err)
	defer m.Close()

	msg := offerFrom("alice", "bob", "o1")
	msg.RoomID = roomkey.Key("carol", "bob")
	m.HandleSignal(msg)
	assert.Equal(t, StateIdle, m.State())

	m.HandleSignal(offerFrom("bob", "bob", "o1"))
	assert.Equal(t, StateIdle, m.State())
}

func TestTransportFailure(t *testing.T) {
	alice, _ := connectPair(t, quietOptions())

	at := alice.provider.Last(t)
	at.events.ConnectionStateChanged(ConnectionFailed)

	assert.Equal(t, StateFailed, alice.State())
	assert.Contains(t, alice.Session().Error, ErrTransportFailure.Error())
	assert.True(t, at.Closed())

	// Events from a torn-down transport are ignored.
	at.events.ConnectionStateChanged(ConnectionDisconnected)
	at.events.RemoteTrack("video")
	assert.Equal(t, StateFailed, alice.State())
	assert.Empty(t, alice.Session().RemoteTracks)
}

func TestTeardownOnEveryTerminalTransition(t *testing.T) {
	alice, bob := connectPair(t, quietOptions())
	alice.Close()
	bob.Close()

	for _, p := range []*peer{alice, bob} {
		for _, tr := range p.provider.Transports() {
			assert.True(t, tr.Closed())
		}
		assert.Zero(t, p.provider.active.Load())
	}
}

func TestToggleMedia(t *testing.T) {
	alice, bob := connectPair(t, quietOptions())

	require.NoError(t, alice.ToggleLocalVideo(false))
	require.NoError(t, alice.ToggleLocalAudio(false))
	assert.Contains(t, alice.provider.Last(t).Ops(), "video:false")
	assert.Contains(t, alice.provider.Last(t).Ops(), "audio:false")

	info := alice.Session()
	assert.False(t, info.Video)
	assert.False(t, info.Audio)

	bob.provider.Last(t).events.RemoteMediaState(false, true)
	assert.False(t, bob.Session().RemoteVideo)
	assert.True(t, bob.Session().RemoteAudio)

	require.NoError(t, alice.EndCall())
	assert.ErrorIs(t, alice.ToggleLocalVideo(true), ErrNoActiveCall)
}

func TestUpdatesAndClose(t *testing.T) {
	rec := &recorder{}
	m, err := NewMachine("bob", rec, newProvider("bob"), quietOptions(), discardLogger())
	require.NoError(t, err)

	m.HandleSignal(offerFrom("alice", "bob", "o1"))
	info := <-m.Updates()
	assert.Equal(t, StateRinging, info.State)
	assert.Equal(t, "alice", info.Peer)

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"ringing"`)
	assert.Contains(t, string(data), `"role":"callee"`)

	m.Close()
	m.Close()
	for range m.Updates() {
	}
	assert.ErrorIs(t, m.StartCall(context.Background(), "alice"), ErrClosed)
}

func TestInvalidPeer(t *testing.T) {
	_, err := NewMachine("", &recorder{}, newProvider("x"), quietOptions(), nil)
	assert.ErrorIs(t, err, ErrInvalidPeer)

	m, err := NewMachine("alice", &recorder{}, newProvider("alice"), quietOptions(), nil)
	require.NoError(t, err)
	defer m.Close()
	assert.ErrorIs(t, m.StartCall(context.Background(), "alice"), ErrInvalidPeer)
	assert.ErrorIs(t, m.Watch(""), ErrInvalidPeer)
}
