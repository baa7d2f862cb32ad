package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	ChannelSerial    = "serial"
	ChannelTCP       = "tcp"
	ChannelTCPListen = "tcp-listen"
	ChannelWebSocket = "websocket"
)

// LinkFile is the shared configuration file of the link tools.
type LinkFile struct {
	Link    LinkConfig    `toml:"link"`
	Channel ChannelConfig `toml:"channel"`
	Admin   AdminConfig   `toml:"admin"`
	Capture CaptureConfig `toml:"capture"`
}

type LinkConfig struct {
	RetryBudget   int    `toml:"retry_budget"`
	MaxPacketSize int    `toml:"max_packet_size"`
	HuntBudget    int    `toml:"hunt_budget"`
	ByteTimeout   string `toml:"byte_timeout"`
}

type ChannelConfig struct {
	Kind     string `toml:"kind"`
	Path     string `toml:"path"`
	Addr     string `toml:"addr"`
	URL      string `toml:"url"`
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

type AdminConfig struct {
	Addr string `toml:"addr"`
}

type CaptureConfig struct {
	Path string `toml:"path"`
}

// Default is the configuration used for unset fields.
func Default() LinkFile {
	return LinkFile{
		Link: LinkConfig{
			RetryBudget:   20,
			MaxPacketSize: 4000,
			HuntBudget:    16 * 1024,
			ByteTimeout:   "250ms",
		},
		Channel: ChannelConfig{
			Kind:     ChannelTCP,
			Addr:     "127.0.0.1:4555",
			BaudRate: 115200,
		},
	}
}

func LoadLinkFile(path string) (LinkFile, error) {
	var cfg LinkFile
	if err := loadToml(path, &cfg); err != nil {
		return LinkFile{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateLinkFile(cfg); err != nil {
		return LinkFile{}, err
	}
	return cfg, nil
}

func (c LinkFile) withDefaults() LinkFile {
	d := Default()
	if c.Link.RetryBudget == 0 {
		c.Link.RetryBudget = d.Link.RetryBudget
	}
	if c.Link.MaxPacketSize == 0 {
		c.Link.MaxPacketSize = d.Link.MaxPacketSize
	}
	if c.Link.HuntBudget == 0 {
		c.Link.HuntBudget = d.Link.HuntBudget
	}
	if strings.TrimSpace(c.Link.ByteTimeout) == "" {
		c.Link.ByteTimeout = d.Link.ByteTimeout
	}
	if strings.TrimSpace(c.Channel.Kind) == "" {
		c.Channel.Kind = d.Channel.Kind
	}
	c.Channel.Kind = strings.ToLower(strings.TrimSpace(c.Channel.Kind))
	if c.Channel.Addr == "" && (c.Channel.Kind == ChannelTCP || c.Channel.Kind == ChannelTCPListen) {
		c.Channel.Addr = d.Channel.Addr
	}
	if c.Channel.BaudRate == 0 {
		c.Channel.BaudRate = d.Channel.BaudRate
	}
	return c
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkFile(cfg LinkFile) error {
	if err := ValidateLink(cfg.Link); err != nil {
		return fmt.Errorf("link invalid: %w", err)
	}
	if err := ValidateChannel(cfg.Channel); err != nil {
		return fmt.Errorf("channel invalid: %w", err)
	}
	return nil
}

func ValidateLink(cfg LinkConfig) error {
	if cfg.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must not be negative")
	}
	if cfg.MaxPacketSize < 0 || cfg.MaxPacketSize > 4000 {
		return fmt.Errorf("max_packet_size must be within 1..4000")
	}
	if cfg.HuntBudget < 0 {
		return fmt.Errorf("hunt_budget must not be negative")
	}
	if _, err := cfg.Timeout(); err != nil {
		return err
	}
	return nil
}

func ValidateChannel(cfg ChannelConfig) error {
	switch cfg.Kind {
	case ChannelSerial:
		if strings.TrimSpace(cfg.Path) == "" {
			return fmt.Errorf("path is required for serial")
		}
	case ChannelTCP, ChannelTCPListen:
		if strings.TrimSpace(cfg.Addr) == "" {
			return fmt.Errorf("addr is required for %s", cfg.Kind)
		}
	case ChannelWebSocket:
		u := strings.TrimSpace(cfg.URL)
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("url must be ws:// or wss://")
		}
	default:
		return fmt.Errorf("unknown kind: %q", cfg.Kind)
	}
	return nil
}

// Timeout parses byte_timeout.
func (c LinkConfig) Timeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.ByteTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse byte_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("byte_timeout must be positive")
	}
	return d, nil
}
