// Package transport implements call transports on pion/webrtc: local media
// capture, one peer connection per call and a small control channel.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServer is used when no STUN servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Config holds peer connection settings shared by every call.
type Config struct {
	STUNServers []string

	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host calls.
	IncludeLoopback bool

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// Constraints is what Open asks the media source for.
	Constraints Constraints
}

func DefaultConfig() Config {
	return Config{
		STUNServers:         []string{DefaultSTUNServer},
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		Constraints:         Constraints{Video: true, Audio: true},
	}
}

// Manager creates transports. It implements call.TransportProvider.
type Manager struct {
	cfg    Config
	api    *webrtc.API
	source MediaSource
	logger *slog.Logger

	mu   sync.Mutex
	last *Transport
}

// NewManager builds the pion API once: default codecs, default interceptors
// and the configured ICE timeouts.
func NewManager(cfg Config, source MediaSource, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		source = ReceiveOnlySource{}
	}
	def := DefaultConfig()
	if cfg.DisconnectedTimeout <= 0 {
		cfg.DisconnectedTimeout = def.DisconnectedTimeout
	}
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = def.FailedTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, call.NewError("register codecs", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, call.NewError("register interceptors", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	return &Manager{
		cfg: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		source: source,
		logger: logger,
	}, nil
}

// AcquireLocalMedia captures local media. Every failure matches
// call.ErrMediaUnavailable.
func (m *Manager) AcquireLocalMedia(ctx context.Context, c Constraints) (*LocalMedia, error) {
	lm, err := m.source.Acquire(ctx, c)
	if err != nil {
		if errors.Is(err, call.ErrMediaUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, call.WrapError("acquire media", call.ErrMediaUnavailable, err.Error())
	}
	return lm, nil
}

// CreateTransport opens a peer connection carrying lm and reporting to events.
// The transport owns lm from here on.
func (m *Manager) CreateTransport(lm *LocalMedia, events call.TransportEvents) (*Transport, error) {
	return newTransport(m.api, m.cfg, lm, events, m.logger)
}

// Open acquires local media and creates a transport for it. Media is released
// if the transport cannot be created.
func (m *Manager) Open(ctx context.Context, events call.TransportEvents) (call.Transport, error) {
	lm, err := m.AcquireLocalMedia(ctx, m.cfg.Constraints)
	if err != nil {
		return nil, err
	}
	t, err := m.CreateTransport(lm, events)
	if err != nil {
		lm.Release()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		t.Teardown()
		return nil, err
	}
	m.mu.Lock()
	m.last = t
	m.mu.Unlock()
	return t, nil
}

// LastStats returns the receive counters of the most recently opened
// transport. They remain readable after teardown.
func (m *Manager) LastStats() []TrackStats {
	m.mu.Lock()
	t := m.last
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Stats()
}
