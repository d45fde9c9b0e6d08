package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/BioHazard786/Warpcall/internal/transport"
	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain     = "warpcall.qzz.io"
	DefaultSTUN       = transport.DefaultSTUNServer
	DefaultListenAddr = ":8080"
)

// Config holds application configuration
type Config struct {
	// Domain is the relay domain; WebSocketURL is derived from it unless set.
	Domain       string `yaml:"domain"`
	WebSocketURL string `yaml:"url"`
	Insecure     bool   `yaml:"insecure"`

	Identity string `yaml:"identity"`

	STUNServers []string `yaml:"stun"`
	Loopback    bool     `yaml:"loopback"`

	RingTimeout time.Duration `yaml:"ringTimeout"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	NotifyPeer  bool          `yaml:"notifyPeer"`

	// VideoFile (IVF) and AudioFile (Ogg/Opus) stand in for camera and
	// microphone. With neither set calls are receive-only.
	VideoFile string `yaml:"video"`
	AudioFile string `yaml:"audio"`

	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds relay settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	RateLimit      float64  `yaml:"rateLimit"`
	Burst          int      `yaml:"burst"`
	SendQueue      int      `yaml:"sendQueue"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string

	Domain     string
	URL        string
	Insecure   bool
	Identity   string
	STUNServer string
	Loopback   bool

	RingTimeout time.Duration
	DialTimeout time.Duration
	NoNotify    bool

	VideoFile string
	AudioFile string

	Addr    string
	Origins []string
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := relay.DefaultConfig()
	return &Config{
		Domain:      DefaultDomain,
		STUNServers: []string{DefaultSTUN},
		RingTimeout: call.DefaultRingTimeout,
		DialTimeout: call.DefaultDialTimeout,
		NotifyPeer:  true,
		Server: ServerConfig{
			Addr:      DefaultListenAddr,
			RateLimit: rc.RateLimit,
			Burst:     rc.Burst,
			SendQueue: rc.SendQueue,
		},
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML file (--config or WARPCALL_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("WARPCALL_CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyOptions(opts)

	if cfg.WebSocketURL == "" {
		scheme := "wss"
		if cfg.Insecure {
			scheme = "ws"
		}
		cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", scheme, cfg.Domain)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Domain, "DOMAIN")
	setString(&c.WebSocketURL, "WARPCALL_URL")
	setString(&c.Identity, "WARPCALL_IDENTITY")
	setString(&c.VideoFile, "WARPCALL_VIDEO")
	setString(&c.AudioFile, "WARPCALL_AUDIO")
	setString(&c.Server.Addr, "WARPCALL_ADDR")

	if v := os.Getenv("STUN_SERVER"); v != "" {
		c.STUNServers = splitList(v)
	}
	if v := os.Getenv("WARPCALL_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"WARPCALL_RING_TIMEOUT": &c.RingTimeout,
		"WARPCALL_DIAL_TIMEOUT": &c.DialTimeout,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("WARPCALL_NOTIFY_PEER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WARPCALL_NOTIFY_PEER: %w", err)
		}
		c.NotifyPeer = b
	}
	return nil
}

func (c *Config) applyOptions(opts Options) {
	setFlag(&c.Domain, opts.Domain)
	setFlag(&c.WebSocketURL, opts.URL)
	setFlag(&c.Identity, opts.Identity)
	setFlag(&c.VideoFile, opts.VideoFile)
	setFlag(&c.AudioFile, opts.AudioFile)
	setFlag(&c.Server.Addr, opts.Addr)

	if opts.STUNServer != "" {
		c.STUNServers = splitList(opts.STUNServer)
	}
	if len(opts.Origins) > 0 {
		c.Server.AllowedOrigins = opts.Origins
	}
	if opts.RingTimeout != 0 {
		c.RingTimeout = opts.RingTimeout
	}
	if opts.DialTimeout != 0 {
		c.DialTimeout = opts.DialTimeout
	}
	if opts.NoNotify {
		c.NotifyPeer = false
	}
	if opts.Insecure {
		c.Insecure = true
	}
	if opts.Loopback {
		c.Loopback = true
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFlag(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CallOptions returns the call state machine settings.
func (c *Config) CallOptions() call.Options {
	return call.Options{
		RingTimeout: c.RingTimeout,
		DialTimeout: c.DialTimeout,
		NotifyPeer:  c.NotifyPeer,
	}
}

// TransportConfig returns the peer connection settings.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.STUNServers = c.STUNServers
	tc.IncludeLoopback = c.Loopback
	return tc
}

// RelayConfig returns the relay server settings.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		Addr:           c.Server.Addr,
		AllowedOrigins: c.Server.AllowedOrigins,
		RateLimit:      c.Server.RateLimit,
		Burst:          c.Server.Burst,
		SendQueue:      c.Server.SendQueue,
	}
}
