package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the process configuration, read from configs/settings.ini.
type Config struct {
	SIPProtocol      string
	SIPListenAddress string
	SIPPort          int
	AgentDomain      string

	AppName              string
	CallerIDLabel        string
	Agents               []string
	OfflineAgents        []string
	ProcessingETA        time.Duration
	RematchDelay         time.Duration
	DialTimeout          time.Duration
	BridgeConfirmTimeout time.Duration
	MusicBridge          string
	SilentBridge         string
	TombstoneTTL         time.Duration

	SoundsDir    string
	HoldMusic    string
	WelcomeClip  string
	PositionClip string
	NoAgentsClip string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	AdminListen string
}

// LoadConfig reads and validates the settings file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading settings %s: %w", path, err)
	}
	return fromFile(f)
}

// Parse reads settings from raw ini data.
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing settings: %w", err)
	}
	return fromFile(f)
}

func fromFile(f *ini.File) (*Config, error) {
	c := &Config{}

	sec := f.Section("sip")
	c.SIPProtocol = sec.Key("protocol").MustString("udp")
	c.SIPListenAddress = sec.Key("listen_address").MustString("0.0.0.0")
	c.SIPPort = sec.Key("port").MustInt(5060)
	c.AgentDomain = sec.Key("agent_domain").MustString("127.0.0.1")

	sec = f.Section("acd")
	c.AppName = sec.Key("app_name").MustString("myapp")
	c.CallerIDLabel = sec.Key("caller_id_label").MustString("Support Agent")
	c.Agents = list(sec.Key("agents").String())
	c.OfflineAgents = list(sec.Key("offline_agents").String())
	c.ProcessingETA = sec.Key("processing_eta").MustDuration(120 * time.Second)
	c.RematchDelay = sec.Key("rematch_delay").MustDuration(500 * time.Millisecond)
	c.DialTimeout = sec.Key("dial_timeout").MustDuration(30 * time.Second)
	c.BridgeConfirmTimeout = sec.Key("bridge_confirm_timeout").MustDuration(5 * time.Second)
	c.MusicBridge = sec.Key("music_bridge").MustString("queue_music")
	c.SilentBridge = sec.Key("silent_bridge").MustString("queue_silent")
	c.TombstoneTTL = sec.Key("tombstone_ttl").MustDuration(5 * time.Minute)

	sec = f.Section("audio")
	c.SoundsDir = sec.Key("sounds_dir").MustString("./sounds")
	c.HoldMusic = sec.Key("hold_music").MustString("hold_music.wav")
	c.WelcomeClip = sec.Key("welcome_clip").String()
	c.PositionClip = sec.Key("position_clip").String()
	c.NoAgentsClip = sec.Key("no_agents_clip").String()

	sec = f.Section("logging")
	c.LogLevel = sec.Key("level").MustString("info")
	c.LogFile = sec.Key("file").MustString("acd.log")
	c.LogMaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	c.LogMaxBackups = sec.Key("max_backups").MustInt(1)

	c.AdminListen = f.Section("admin").Key("grpc_listen").MustString(":50051")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects settings the distributor cannot run with.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("acd.agents must list at least one agent endpoint")
	}
	known := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		known[a] = true
	}
	for _, a := range c.OfflineAgents {
		if !known[a] {
			return fmt.Errorf("acd.offline_agents: %s is not in acd.agents", a)
		}
	}
	if c.ProcessingETA <= 0 {
		return fmt.Errorf("acd.processing_eta must be positive")
	}
	if c.DialTimeout <= 0 || c.BridgeConfirmTimeout <= 0 {
		return fmt.Errorf("acd.dial_timeout and acd.bridge_confirm_timeout must be positive")
	}
	if c.RematchDelay < 0 {
		return fmt.Errorf("acd.rematch_delay must not be negative")
	}
	if c.MusicBridge == c.SilentBridge {
		return fmt.Errorf("acd.music_bridge and acd.silent_bridge must differ")
	}
	return nil
}

func list(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
