package call

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/BioHazard786/Warpcall/internal/roomkey"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	name   string
	events TransportEvents
	active *atomic.Int32

	mu            sync.Mutex
	ops           []string
	remoteApplied bool
	closed        bool
	teardowns     int
}

func (t *fakeTransport) record(op string) {
	t.ops = append(t.ops, op)
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrInvalidSignalingState
	}
	t.record("offer")
	t.mu.Unlock()

	// Gathering starts as soon as the local description is set.
	t.events.LocalCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"%s-0"}`, t.name)))
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":"%s"}`, t.name)), nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed || !t.remoteApplied {
		t.mu.Unlock()
		return nil, ErrInvalidSignalingState
	}
	t.record("answer")
	t.mu.Unlock()

	t.events.LocalCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"%s-0"}`, t.name)))
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","sdp":"%s"}`, t.name)), nil
}

func (t *fakeTransport) ApplyRemoteDescriptor(desc json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrInvalidSignalingState
	}
	var d struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(desc, &d); err != nil {
		return err
	}
	t.remoteApplied = true
	t.record("remote:" + d.Type + ":" + d.SDP)
	return nil
}

func (t *fakeTransport) ApplyCandidate(candidate json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.remoteApplied {
		return ErrInvalidSignalingState
	}
	var c struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(candidate, &c); err != nil {
		return err
	}
	t.record("candidate:" + c.Candidate)
	return nil
}

func (t *fakeTransport) ToggleLocalVideo(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(fmt.Sprintf("video:%t", enabled))
	return nil
}

func (t *fakeTransport) ToggleLocalAudio(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(fmt.Sprintf("audio:%t", enabled))
	return nil
}

func (t *fakeTransport) Teardown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardowns++
	if t.closed {
		return nil
	}
	t.closed = true
	t.active.Add(-1)
	return nil
}

func (t *fakeTransport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProvider struct {
	name string
	err  error
	// gate, when set, holds Open until it is closed or ctx ends.
	gate chan struct{}

	active atomic.Int32

	mu         sync.Mutex
	transports []*fakeTransport
}

func newProvider(name string) *fakeProvider {
	return &fakeProvider{name: name}
}

func (p *fakeProvider) Open(ctx context.Context, events TransportEvents) (Transport, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t := &fakeTransport{
		name:   fmt.Sprintf("%s%d", p.name, len(p.transports)),
		events: events,
		active: &p.active,
	}
	p.active.Add(1)
	p.transports = append(p.transports, t)
	return t, nil
}

func (p *fakeProvider) Transports() []*fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeTransport(nil), p.transports...)
}

func (p *fakeProvider) Last(t *testing.T) *fakeTransport {
	t.Helper()
	all := p.Transports()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

// recorder is a Signaler that keeps everything it is asked to send.
type recorder struct {
	mu   sync.Mutex
	sent []*signaling.Message
}

func (r *recorder) Send(msg *signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.sent))
	for _, msg := range r.sent {
		types = append(types, msg.Type)
	}
	return types
}

func (r *recorder) Find(kind string) []*signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*signaling.Message
	for _, msg := range r.sent {
		if msg.Type == kind {
			found = append(found, msg)
		}
	}
	return found
}

// endpoint connects a Machine to an in-memory relay registry. Inbound
// envelopes are handled on one goroutine, like signaling.Handler.
type endpoint struct {
	recorder
	id    string
	reg   *relay.Registry
	inbox chan *signaling.Message
}

func newEndpoint(id string, reg *relay.Registry) *endpoint {
	return &endpoint{id: id, reg: reg, inbox: make(chan *signaling.Message, 64)}
}

func (e *endpoint) ID() string { return e.id }

func (e *endpoint) Deliver(msg *signaling.Message) bool {
	select {
	case e.inbox <- msg:
		return true
	default:
		return false
	}
}

func (e *endpoint) Send(msg *signaling.Message) error {
	_ = e.recorder.Send(msg)
	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		e.reg.Join(e, msg.RoomID)
	case signaling.MessageTypeLeaveRoom:
		e.reg.LeaveRoom(e, msg.RoomID)
	default:
		_, _ = e.reg.Relay(e, msg)
	}
	return nil
}

func (e *endpoint) run(t *testing.T, sink signaling.Sink) {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case msg := <-e.inbox:
				sink.HandleSignal(msg)
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

type peer struct {
	*Machine
	ep       *endpoint
	provider *fakeProvider
}

func newPeer(t *testing.T, id string, reg *relay.Registry, opts Options) *peer {
	t.Helper()
	ep := newEndpoint(id, reg)
	provider := newProvider(id)
	m, err := NewMachine(id, ep, provider, opts, discardLogger())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &peer{Machine: m, ep: ep, provider: provider}
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, 3*time.Second, 5*time.Millisecond, "state never became %s (now %s)", want, m.State())
}

func offerFrom(from, to, sdp string) *signaling.Message {
	room := roomkey.Key(from, to)
	return signaling.NewOffer(room, from, json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":"%s"}`, sdp)))
}

func candidateMsg(room, name string) *signaling.Message {
	return signaling.NewCandidate(room, json.RawMessage(fmt.Sprintf(`{"candidate":"%s"}`, name)))
}
