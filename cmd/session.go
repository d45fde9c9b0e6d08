package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/netcheck"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/transport"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

// Client flags shared by call and listen.
var (
	flagIdentity    string
	flagDomain      string
	flagURL         string
	flagInsecure    bool
	flagSTUN        string
	flagLoopback    bool
	flagVideo       string
	flagAudio       string
	flagRingTimeout time.Duration
	flagDialTimeout time.Duration
	flagNoNotify    bool
)

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagIdentity, "as", "", "your identity (or WARPCALL_IDENTITY)")
	f.StringVarP(&flagDomain, "domain", "d", "", "relay domain (default \"warpcall.qzz.io\", or DOMAIN)")
	f.StringVar(&flagURL, "url", "", "relay websocket URL, overrides --domain (or WARPCALL_URL)")
	f.BoolVar(&flagInsecure, "insecure", false, "use ws:// instead of wss:// for --domain")
	f.StringVar(&flagSTUN, "stun", "", "comma separated STUN servers (or STUN_SERVER)")
	f.BoolVar(&flagLoopback, "loopback", false, "gather loopback candidates for same-host calls")
	f.StringVar(&flagVideo, "video", "", "IVF file sent as the camera (or WARPCALL_VIDEO)")
	f.StringVar(&flagAudio, "audio", "", "Ogg/Opus file sent as the microphone (or WARPCALL_AUDIO)")
	f.DurationVar(&flagRingTimeout, "ring-timeout", 0, "how long an incoming call rings (default 30s)")
	f.DurationVar(&flagDialTimeout, "dial-timeout", 0, "how long an outgoing call waits for an answer (default 45s)")
	f.BoolVar(&flagNoNotify, "no-notify", false, "do not tell the peer when a call is declined or hung up")
}

func clientOptions() config.Options {
	return config.Options{
		ConfigFile:  flagConfig,
		Domain:      flagDomain,
		URL:         flagURL,
		Insecure:    flagInsecure,
		Identity:    flagIdentity,
		STUNServer:  flagSTUN,
		Loopback:    flagLoopback,
		VideoFile:   flagVideo,
		AudioFile:   flagAudio,
		RingTimeout: flagRingTimeout,
		DialTimeout: flagDialTimeout,
		NoNotify:    flagNoNotify,
	}
}

// LoadConfig loads configuration and checks what a call client needs.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}
	return cfg, nil
}

func loadClientConfig() (*config.Config, error) {
	cfg, err := LoadConfig(clientOptions())
	if err != nil {
		return nil, err
	}
	if cfg.Identity == "" {
		return nil, errors.New("no identity: pass --as or set WARPCALL_IDENTITY")
	}
	return cfg, nil
}

// warnRestrictedNetwork tells the user when direct media is unlikely to get
// through, since there is no TURN relay to fall back on.
func warnRestrictedNetwork(cfg *config.Config) {
	if cfg.Loopback {
		return
	}
	if iface, ok := netcheck.Restricted(); ok {
		ui.PrintWarning(fmt.Sprintf("%s looks like a VPN or CGNAT link; the call may fail to connect", iface))
	}
}

// CallSession wires the relay connection, the transport manager and the call
// machine together.
type CallSession struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Manager *transport.Manager
	Machine *call.Machine
	Config  *config.Config
}

// NewCallSession connects to the relay and starts routing signals into a new
// call machine.
func NewCallSession(ctx context.Context, cfg *config.Config) (*CallSession, error) {
	logger := slog.Default()

	var source transport.MediaSource = transport.ReceiveOnlySource{}
	if cfg.VideoFile != "" || cfg.AudioFile != "" {
		source = transport.NewFileSource(cfg.VideoFile, cfg.AudioFile, transport.Devices, logger)
	}

	manager, err := transport.NewManager(cfg.TransportConfig(), source, logger)
	if err != nil {
		return nil, err
	}

	client := signaling.NewClient(cfg.WebSocketURL, logger)
	machine, err := call.NewMachine(cfg.Identity, client, manager, cfg.CallOptions(), logger)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, call.NewError("connect to server", err)
	}

	handler := signaling.NewHandler(client, machine, logger)
	go handler.Start()

	return &CallSession{
		Client:  client,
		Handler: handler,
		Manager: manager,
		Machine: machine,
		Config:  cfg,
	}, nil
}

// Close hangs up, leaves every room and drops the relay connection.
func (s *CallSession) Close() {
	if s.Machine != nil {
		s.Machine.Close()
	}
	if s.Client != nil {
		s.Client.Close()
	}
}

// RunView shows the call view until the call ends, the user quits or the
// relay connection drops. The machine is closed once the view exits.
func (s *CallSession) RunView(ctx context.Context, title string, persistent bool) (call.SessionInfo, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.Handler.Disconnected:
			slog.Warn("relay connection lost")
			s.Machine.Close()
		case <-ctx.Done():
			s.Machine.Close()
		case <-done:
		}
	}()

	model := ui.NewCallModel(title, s.Machine, s.Machine.Updates(), s.Machine.Session(), persistent)
	info, err := ui.RunCall(model)
	s.Machine.Close()
	if err != nil {
		return info, err
	}
	// Quitting mid-call ends the call on Close; report that outcome.
	if final := s.Machine.Session(); final.Peer != "" {
		info = final
	}
	return info, nil
}

// PrintSummary prints the outcome of the last call, if there was one.
func (s *CallSession) PrintSummary(info call.SessionInfo) {
	if info.Peer == "" {
		return
	}
	fmt.Println()
	fmt.Println(ui.CallSummary(info, s.Manager.LastStats()))
}
