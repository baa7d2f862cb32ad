package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kdlink/internal/kd"
)

type hostOptions struct {
	AutoContinue   bool
	ContinueStatus uint32
	Attach         bool
}

func defaultHostOptions() hostOptions {
	return hostOptions{
		AutoContinue:   true,
		ContinueStatus: kd.StatusContinue,
		Attach:         true,
	}
}

type fileConfig struct {
	Host struct {
		AutoContinue   bool   `toml:"auto_continue"`
		ContinueStatus string `toml:"continue_status"`
		Attach         bool   `toml:"attach"`
	} `toml:"host"`
}

// loadHostOptions reads the [host] table of the shared link file.
func loadHostOptions(path string) (hostOptions, error) {
	opts := defaultHostOptions()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return hostOptions{}, fmt.Errorf("load host config: %w", err)
	}

	if meta.IsDefined("host", "auto_continue") {
		opts.AutoContinue = raw.Host.AutoContinue
	}

	if meta.IsDefined("host", "continue_status") {
		v, err := strconv.ParseUint(strings.TrimSpace(raw.Host.ContinueStatus), 0, 32)
		if err != nil {
			return hostOptions{}, fmt.Errorf("parse continue_status: %w", err)
		}
		opts.ContinueStatus = uint32(v)
	}

	if meta.IsDefined("host", "attach") {
		opts.Attach = raw.Host.Attach
	}

	return opts, nil
}
