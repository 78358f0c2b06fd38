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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3001", cfg.Server.Addr())
	assert.True(t, cfg.Signal.AutoCreateRooms)
	assert.Equal(t, "Live Stream", cfg.Room.DefaultTitle)
	assert.Equal(t, 2*time.Minute, cfg.Room.EmptyGrace)
	assert.Equal(t, 5*time.Second, cfg.Live.StopTimeout)
	assert.Equal(t, 1, cfg.Live.MinPeers)
	assert.Equal(t, "/hls", cfg.HLS.PublicBase)
	assert.Equal(t, "rtp://127.0.0.1:5000", cfg.FFmpeg.FallbackInput)
	assert.Equal(t, "memory", cfg.SessionStore.Driver)
	assert.Equal(t, "none", cfg.PubSub.Driver)
	assert.Equal(t, "none", cfg.Mirror.Driver)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	require.Len(t, cfg.Media.WebRTCICEServers(), 1)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 8080
room:
  default_title: "Open Mic"
  empty_grace: 30s
live:
  stop_timeout: 2s
media:
  ice_servers:
    - urls: ["turn:turn.example.com:3478"]
      username: u
      credential: p
`)
	t.Setenv("HLS_PUBLIC_BASE", "https://cdn.example.com/hls")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "Open Mic", cfg.Room.DefaultTitle)
	assert.Equal(t, 30*time.Second, cfg.Room.EmptyGrace)
	assert.Equal(t, 2*time.Second, cfg.Live.StopTimeout)
	assert.Equal(t, "https://cdn.example.com/hls", cfg.HLS.PublicBase)

	servers := cfg.Media.WebRTCICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[0].URLs)
	assert.Equal(t, "u", servers[0].Username)
}

func TestLoad_RejectsPingNotShorterThanPong(t *testing.T) {
	dir := writeConfig(t, `
websocket:
  ping_interval: 60s
  pong_wait: 30s
`)
	_, err := Load(dir)
	assert.Error(t, err)
}
