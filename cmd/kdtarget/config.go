package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type targetOptions struct {
	PrintInterval   time.Duration
	Message         string
	BreakpointEvery int
}

func defaultTargetOptions() targetOptions {
	return targetOptions{
		PrintInterval: 2 * time.Second,
		Message:       "kdtarget: tick",
	}
}

type fileConfig struct {
	Target struct {
		PrintInterval   string `toml:"print_interval"`
		Message         string `toml:"message"`
		BreakpointEvery int    `toml:"breakpoint_every"`
	} `toml:"target"`
}

// loadTargetOptions reads the [target] table of the shared link file.
func loadTargetOptions(path string) (targetOptions, error) {
	opts := defaultTargetOptions()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return targetOptions{}, fmt.Errorf("load target config: %w", err)
	}

	if meta.IsDefined("target", "print_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Target.PrintInterval))
		if err != nil {
			return targetOptions{}, fmt.Errorf("parse print_interval: %w", err)
		}
		if d <= 0 {
			return targetOptions{}, fmt.Errorf("print_interval must be positive")
		}
		opts.PrintInterval = d
	}

	if meta.IsDefined("target", "message") {
		opts.Message = raw.Target.Message
	}

	if meta.IsDefined("target", "breakpoint_every") {
		if raw.Target.BreakpointEvery < 0 {
			return targetOptions{}, fmt.Errorf("breakpoint_every must not be negative")
		}
		opts.BreakpointEvery = raw.Target.BreakpointEvery
	}

	return opts, nil
}
