package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warpcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("WARPCALL_CONFIG", "")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "wss://"+DefaultDomain+"/ws", cfg.WebSocketURL)
	assert.Equal(t, []string{DefaultSTUN}, cfg.STUNServers)
	assert.Equal(t, 30*time.Second, cfg.RingTimeout)
	assert.True(t, cfg.NotifyPeer)
	assert.Equal(t, DefaultListenAddr, cfg.Server.Addr)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
domain: file.example
identity: alice
ringTimeout: 10s
notifyPeer: false
stun:
  - stun:file.example:3478
server:
  addr: ":9000"
  allowedOrigins: ["http://localhost:3000"]
  burst: 7
`)
	t.Setenv("WARPCALL_CONFIG", path)
	t.Setenv("DOMAIN", "env.example")
	t.Setenv("WARPCALL_RING_TIMEOUT", "20s")

	cfg, err := Load(Options{Identity: "bob"})
	require.NoError(t, err)

	assert.Equal(t, "env.example", cfg.Domain)
	assert.Equal(t, "wss://env.example/ws", cfg.WebSocketURL)
	assert.Equal(t, "bob", cfg.Identity)
	assert.Equal(t, 20*time.Second, cfg.RingTimeout)
	assert.False(t, cfg.NotifyPeer)
	assert.Equal(t, []string{"stun:file.example:3478"}, cfg.STUNServers)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Server.Burst)
	// Unset keys keep their defaults.
	assert.Equal(t, 256, cfg.Server.SendQueue)

	cfg, err = Load(Options{Domain: "flag.example", Insecure: true, RingTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "ws://flag.example/ws", cfg.WebSocketURL)
	assert.Equal(t, time.Second, cfg.RingTimeout)
}

func TestExplicitURLWins(t *testing.T) {
	t.Setenv("WARPCALL_CONFIG", "")
	t.Setenv("WARPCALL_URL", "ws://127.0.0.1:8080/ws")

	cfg, err := Load(Options{Domain: "ignored.example"})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.WebSocketURL)
}

func TestListsFromEnv(t *testing.T) {
	t.Setenv("WARPCALL_CONFIG", "")
	t.Setenv("STUN_SERVER", "stun:a:1, stun:b:2")
	t.Setenv("WARPCALL_ALLOWED_ORIGINS", "http://a,,http://b")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.STUNServers)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.RelayConfig().AllowedOrigins)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("WARPCALL_CONFIG", "")

	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Load(Options{ConfigFile: writeConfig(t, "ringTimeout: [")})
	assert.Error(t, err)

	t.Setenv("WARPCALL_DIAL_TIMEOUT", "soon")
	_, err = Load(Options{})
	assert.ErrorContains(t, err, "WARPCALL_DIAL_TIMEOUT")
}

func TestDerivedSettings(t *testing.T) {
	t.Setenv("WARPCALL_CONFIG", "")

	cfg, err := Load(Options{NoNotify: true, Loopback: true, DialTimeout: -1})
	require.NoError(t, err)

	co := cfg.CallOptions()
	assert.False(t, co.NotifyPeer)
	assert.Equal(t, time.Duration(-1), co.DialTimeout)

	tc := cfg.TransportConfig()
	assert.True(t, tc.IncludeLoopback)
	assert.Equal(t, cfg.STUNServers, tc.STUNServers)

	rc := cfg.RelayConfig()
	assert.Equal(t, DefaultListenAddr, rc.Addr)
}
