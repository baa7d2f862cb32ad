package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/kdlink/internal/config"
	"github.com/danmuck/kdlink/internal/kd"
	"github.com/danmuck/kdlink/internal/observability"
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// machine is the simulated kernel's execution state.
type machine struct {
	opts  targetOptions
	ticks int
	pc    uint64
}

// tick advances the machine and reports a breakpoint stop when one is due.
func (m *machine) tick() (kd.StateChange, bool) {
	m.ticks++
	m.pc += 0x40
	if m.opts.BreakpointEvery == 0 || m.ticks%m.opts.BreakpointEvery != 0 {
		return kd.StateChange{}, false
	}
	return m.stop(), true
}

func (m *machine) stop() kd.StateChange {
	return kd.StateChange{
		NewState:       kd.StateException,
		Thread:         0xFFFF800000001000,
		ProgramCounter: m.pc,
	}
}

func main() {
	configPath := flag.String("config", "cmd/kdtarget/config.toml", "link config path")
	flag.Parse()

	logger := observability.InitLogger("kdtarget")
	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("kdtarget stopped")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadLinkFile(configPath)
	if err != nil {
		return err
	}
	opts, err := loadTargetOptions(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	byteTimeout, err := cfg.Link.Timeout()
	if err != nil {
		return err
	}
	ch, err := config.OpenChannel(ctx, cfg.Channel, byteTimeout)
	if err != nil {
		return err
	}
	defer ch.Close()

	tgt := kd.NewTarget(ch, config.SessionConfig(cfg.Link))
	m := &machine{opts: opts, pc: 0xFFFFF80000400000}
	log.Info().Str("link", tgt.Engine().LinkID()).Dur("interval", opts.PrintInterval).Msg("target running")

	ticker := time.NewTicker(opts.PrintInterval)
	defer ticker.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-poll.C:
			if !tgt.PollBreakin() {
				continue
			}
			log.Info().Msg("break-in received")
			if err := report(ctx, tgt, m.stop()); err != nil {
				return err
			}

		case <-ticker.C:
			line := fmt.Sprintf("%s #%d\n", opts.Message, m.ticks+1)
			ok, err := tgt.PrintString(ctx, line)
			if err != nil {
				return err
			}
			if !ok {
				log.Debug().Msg("no debugger attached")
			}
			if sc, due := m.tick(); due {
				if err := report(ctx, tgt, sc); err != nil {
					return err
				}
			}
		}
	}
}

func report(ctx context.Context, tgt *kd.Target, sc kd.StateChange) error {
	cont, err := tgt.ReportStateChange(ctx, sc)
	if errors.Is(err, session.ErrDebuggerAbsent) {
		log.Debug().Msg("stop not reported: no debugger")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Uint32("status", cont.ReturnStatus).Msg("continued")
	return nil
}
