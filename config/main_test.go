package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("[acd]\nagents = 1002-agent\n"))
	require.NoError(t, err)

	assert.Equal(t, "udp", cfg.SIPProtocol)
	assert.Equal(t, 5060, cfg.SIPPort)
	assert.Equal(t, []string{"1002-agent"}, cfg.Agents)
	assert.Equal(t, 120*time.Second, cfg.ProcessingETA)
	assert.Equal(t, 500*time.Millisecond, cfg.RematchDelay)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.BridgeConfirmTimeout)
	assert.Equal(t, "queue_music", cfg.MusicBridge)
	assert.Equal(t, "queue_silent", cfg.SilentBridge)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.WelcomeClip)
}

func TestParse_Overrides(t *testing.T) {
	data := `
[sip]
protocol = tcp
port = 5080

[acd]
agents = 1002-agent, 1003-agent ,1004-agent
offline_agents = 1004-agent
processing_eta = 90s
dial_timeout = 20s

[audio]
welcome_clip = greeting.wav

[admin]
grpc_listen =
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.SIPProtocol)
	assert.Equal(t, 5080, cfg.SIPPort)
	assert.Equal(t, []string{"1002-agent", "1003-agent", "1004-agent"}, cfg.Agents)
	assert.Equal(t, []string{"1004-agent"}, cfg.OfflineAgents)
	assert.Equal(t, 90*time.Second, cfg.ProcessingETA)
	assert.Equal(t, 20*time.Second, cfg.DialTimeout)
	assert.Equal(t, "greeting.wav", cfg.WelcomeClip)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no agents", "[acd]\nagents =\n"},
		{"unknown offline agent", "[acd]\nagents = a\noffline_agents = b\n"},
		{"zero eta", "[acd]\nagents = a\nprocessing_eta = 0s\n"},
		{"negative rematch", "[acd]\nagents = a\nrematch_delay = -1s\n"},
		{"same holding bridges", "[acd]\nagents = a\nmusic_bridge = hold\nsilent_bridge = hold\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
