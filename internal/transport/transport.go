package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackStats counts what arrived on one remote track.
type TrackStats struct {
	Kind    string `json:"kind"`
	Codec   string `json:"codec"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Lost    uint64 `json:"lost"`

	lastSeq uint16
	started bool
}

func (s *TrackStats) observe(pkt *rtp.Packet) {
	s.Packets++
	s.Bytes += uint64(len(pkt.Payload))
	if s.started {
		// Reordered or duplicated packets count as no loss.
		if gap := pkt.SequenceNumber - s.lastSeq; gap > 1 && gap < 1<<15 {
			s.Lost += uint64(gap - 1)
		}
	}
	if !s.started || pkt.SequenceNumber-s.lastSeq < 1<<15 {
		s.lastSeq = pkt.SequenceNumber
	}
	s.started = true
}

// Transport is one pion PeerConnection plus the local media attached to it.
type Transport struct {
	pc      *webrtc.PeerConnection
	media   *LocalMedia
	control *webrtc.DataChannel
	events  call.TransportEvents
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	remoteSet bool

	statsMu sync.Mutex
	stats   []*TrackStats

	wg           sync.WaitGroup
	teardownOnce sync.Once
	teardownErr  error
}

func newTransport(api *webrtc.API, cfg Config, lm *LocalMedia, events call.TransportEvents, logger *slog.Logger) (*Transport, error) {
	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, call.NewError("create peer connection", err)
	}

	t := &Transport{
		pc:     pc,
		media:  lm,
		events: events,
		logger: logger,
	}

	if err := t.addMedia(webrtc.RTPCodecTypeVideo, lm.Video); err != nil {
		pc.Close()
		return nil, err
	}
	if err := t.addMedia(webrtc.RTPCodecTypeAudio, lm.Audio); err != nil {
		pc.Close()
		return nil, err
	}

	negotiated := true
	t.control, err = pc.CreateDataChannel(ControlLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &controlChannelID,
	})
	if err != nil {
		pc.Close()
		return nil, call.NewError("create control channel", err)
	}

	t.setupHandlers()
	return t, nil
}

// addMedia sends track when present, otherwise only receives kind.
func (t *Transport) addMedia(kind webrtc.RTPCodecType, track *webrtc.TrackLocalStaticSample) error {
	if track == nil {
		_, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return call.WrapError("add transceiver", err, kind.String())
		}
		return nil
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return call.WrapError("add track", err, kind.String())
	}

	// RTCP must be read for the interceptors to do their work.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *Transport) setupHandlers() {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			t.logger.Warn("failed to encode candidate", "error", err)
			return
		}
		t.events.LocalCandidate(data)
	})

	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state", "state", state.String())
		t.events.ConnectionStateChanged(connectionState(state))
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		t.logger.Debug("remote track", "kind", kind, "codec", track.Codec().MimeType)
		t.events.RemoteTrack(kind)

		stats := &TrackStats{Kind: kind, Codec: track.Codec().MimeType}
		t.statsMu.Lock()
		t.stats = append(t.stats, stats)
		t.statsMu.Unlock()

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.drain(track, stats)
		}()
	})

	t.control.OnOpen(func() {
		t.sendMediaState()
	})

	t.control.OnMessage(func(msg webrtc.DataChannelMessage) {
		cm, err := decodeControl(msg.Data)
		if err != nil {
			t.logger.Warn("failed to parse control message", "error", err)
			return
		}
		switch cm.Type {
		case MessageTypeMediaState:
			var p MediaStatePayload
			if err := cm.DecodePayload(&p); err != nil {
				t.logger.Warn("invalid media-state payload", "error", err)
				return
			}
			t.events.RemoteMediaState(p.Video, p.Audio)
		default:
			t.logger.Debug("unknown control message", "type", cm.Type)
		}
	})
}

// drain reads the remote track until it ends so the receive pipeline keeps
// flowing. Payloads are counted and discarded.
func (t *Transport) drain(track *webrtc.TrackRemote, stats *TrackStats) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("remote track ended", "kind", stats.Kind, "error", err)
			}
			return
		}
		t.statsMu.Lock()
		stats.observe(pkt)
		t.statsMu.Unlock()
	}
}

func connectionState(s webrtc.PeerConnectionState) call.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return call.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return call.ConnectionClosed
	default:
		return call.ConnectionNew
	}
}

func (t *Transport) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return call.WrapError("transport", call.ErrInvalidSignalingState, "torn down")
	}
	return nil
}

// CreateOffer sets and returns the local offer as JSON.
func (t *Transport) CreateOffer(_ context.Context) (json.RawMessage, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, call.NewError("create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, call.NewError("set local description", err)
	}
	return t.localDescription()
}

// CreateAnswer sets and returns the local answer as JSON.
func (t *Transport) CreateAnswer(_ context.Context) (json.RawMessage, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	remoteSet := t.remoteSet
	t.mu.Unlock()
	if !remoteSet {
		return nil, call.WrapError("create answer", call.ErrInvalidSignalingState, "no remote offer")
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, call.NewError("create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, call.NewError("set local description", err)
	}
	return t.localDescription()
}

func (t *Transport) localDescription() (json.RawMessage, error) {
	desc := t.pc.LocalDescription()
	if desc == nil {
		return nil, call.WrapError("local description", call.ErrInvalidSignalingState, "not set")
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, call.NewError("encode description", err)
	}
	return data, nil
}

// ApplyRemoteDescriptor sets the peer's offer or answer.
func (t *Transport) ApplyRemoteDescriptor(desc json.RawMessage) error {
	if err := t.usable(); err != nil {
		return err
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return call.NewError("parse description", err)
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return call.WrapError("set remote description", call.ErrInvalidSignalingState, err.Error())
	}
	t.mu.Lock()
	t.remoteSet = true
	t.mu.Unlock()
	return nil
}

// ApplyCandidate adds a remote ICE candidate. The remote description must
// already be set.
func (t *Transport) ApplyCandidate(candidate json.RawMessage) error {
	t.mu.Lock()
	closed, remoteSet := t.closed, t.remoteSet
	t.mu.Unlock()
	if closed {
		return call.WrapError("apply candidate", call.ErrInvalidSignalingState, "torn down")
	}
	if !remoteSet {
		return call.WrapError("apply candidate", call.ErrInvalidSignalingState, "no remote description")
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return call.NewError("parse candidate", err)
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return call.NewError("add candidate", err)
	}
	return nil
}

// ToggleLocalVideo pauses or resumes outgoing video. The track stays
// negotiated; only samples stop.
func (t *Transport) ToggleLocalVideo(enabled bool) error {
	if err := t.usable(); err != nil {
		return err
	}
	t.media.SetVideoEnabled(enabled)
	t.sendMediaState()
	return nil
}

// ToggleLocalAudio mutes or unmutes the microphone.
func (t *Transport) ToggleLocalAudio(enabled bool) error {
	if err := t.usable(); err != nil {
		return err
	}
	t.media.SetAudioEnabled(enabled)
	t.sendMediaState()
	return nil
}

func (t *Transport) sendMediaState() {
	if t.control.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	data, err := encodeControl(MessageTypeMediaState, MediaStatePayload{
		Video: t.media.Video != nil && t.media.VideoEnabled(),
		Audio: t.media.Audio != nil && t.media.AudioEnabled(),
	})
	if err != nil {
		t.logger.Warn("failed to encode media state", "error", err)
		return
	}
	if err := t.control.Send(data); err != nil {
		t.logger.Debug("media state not sent", "error", err)
	}
}

// Stats returns a copy of the per-track receive counters.
func (t *Transport) Stats() []TrackStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	out := make([]TrackStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	return out
}

// Media returns the local media owned by the transport.
func (t *Transport) Media() *LocalMedia {
	return t.media
}

// Teardown releases local media and closes the peer connection. Later calls
// return the first result without doing anything.
func (t *Transport) Teardown() error {
	t.teardownOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		t.media.Release()
		if err := t.pc.Close(); err != nil {
			t.teardownErr = call.NewError("close peer connection", err)
		}
		t.wg.Wait()
	})
	return t.teardownErr
}
