package config

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/channel/serialport"
	"github.com/danmuck/kdlink/internal/channel/tcpport"
	"github.com/danmuck/kdlink/internal/channel/wsport"
	"github.com/danmuck/kdlink/internal/protocol/session"
)

// SessionConfig maps the [link] table onto engine settings.
func SessionConfig(cfg LinkConfig) session.Config {
	return session.Config{
		RetryBudget:   cfg.RetryBudget,
		MaxPacketSize: cfg.MaxPacketSize,
		HuntBudget:    cfg.HuntBudget,
	}.WithDefaults()
}

// SerialOptions maps the [channel] table onto serial line settings.
func SerialOptions(cfg ChannelConfig) serialport.Options {
	return serialport.Options{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}
}

// OpenChannel opens the configured transport.
func OpenChannel(ctx context.Context, cfg ChannelConfig, byteTimeout time.Duration) (channel.Conn, error) {
	switch cfg.Kind {
	case ChannelSerial:
		return serialport.Open(cfg.Path, SerialOptions(cfg), byteTimeout)
	case ChannelTCP:
		return tcpport.Dial(ctx, cfg.Addr, byteTimeout)
	case ChannelTCPListen:
		return tcpport.Accept(ctx, cfg.Addr, byteTimeout)
	case ChannelWebSocket:
		return wsport.Dial(ctx, cfg.URL, nil, byteTimeout)
	default:
		return nil, fmt.Errorf("config: unknown channel kind %q", cfg.Kind)
	}
}
