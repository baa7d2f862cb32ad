package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/kdlink/internal/channel/loopback"
	"github.com/danmuck/kdlink/internal/channel/lossy"
	"github.com/danmuck/kdlink/internal/kd"
	"github.com/danmuck/kdlink/internal/observability"
	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
)

type simConfig struct {
	Messages    int
	DropRate    float64
	CorruptRate float64
	Seed        int64
	ByteTimeout time.Duration
	RetryBudget int
	Deadline    time.Duration
}

func main() {
	var cfg simConfig
	flag.IntVar(&cfg.Messages, "n", 50, "print strings the target sends before stopping")
	flag.Float64Var(&cfg.DropRate, "drop", 0.002, "probability of dropping each byte")
	flag.Float64Var(&cfg.CorruptRate, "corrupt", 0, "probability of flipping a bit in each byte")
	flag.Int64Var(&cfg.Seed, "seed", 1, "fault injection seed")
	flag.DurationVar(&cfg.ByteTimeout, "byte-timeout", 20*time.Millisecond, "per-byte read timeout")
	flag.IntVar(&cfg.RetryBudget, "retries", 20, "retry budget")
	flag.DurationVar(&cfg.Deadline, "deadline", time.Minute, "overall time limit")
	flag.Parse()

	observability.InitLogger("kdsim")
	res, err := simulate(context.Background(), cfg)
	if err != nil {
		log.Error().Err(err).Msg("simulation failed")
		os.Exit(1)
	}
	if err := render(cfg, res); err != nil {
		log.Error().Err(err).Msg("render failed")
		os.Exit(1)
	}
}

type simResult struct {
	Delivered int
	Elapsed   time.Duration
	Host      session.StatsSnapshot
	Target    session.StatsSnapshot
	HostFault lossy.Stats
	TgtFault  lossy.Stats
}

// simulate runs a target that prints cfg.Messages lines and then stops at a
// breakpoint, against a host that continues it.
func simulate(ctx context.Context, cfg simConfig) (simResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	a, b := loopback.Pair(cfg.ByteTimeout)
	defer a.Close()
	hostCh := lossy.Wrap(a, lossy.Options{DropRate: cfg.DropRate, CorruptRate: cfg.CorruptRate, Seed: cfg.Seed})
	tgtCh := lossy.Wrap(b, lossy.Options{DropRate: cfg.DropRate, CorruptRate: cfg.CorruptRate, Seed: cfg.Seed + 1})
	scfg := session.Config{RetryBudget: cfg.RetryBudget}
	host := kd.NewHost(hostCh, scfg)
	tgt := kd.NewTarget(tgtCh, scfg)

	start := time.Now()
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	tgtErr := make(chan error, 1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		tgtErr <- runTarget(ctx, tgt, cfg.Messages)
		// Answer retransmits of the final continue until the host is done.
		buf := make([]byte, tgt.Engine().Config().MaxPacketSize)
		for drainCtx.Err() == nil {
			_, _ = tgt.Engine().Receive(drainCtx, packet.TypeAny, nil, buf)
		}
	}()

	res := simResult{}
	if err := runHost(ctx, host, &res); err != nil {
		return res, err
	}
	stopDrain()
	<-drained
	if err := <-tgtErr; err != nil && !errors.Is(err, session.ErrDebuggerAbsent) {
		return res, err
	}

	res.Elapsed = time.Since(start)
	res.Host = host.Engine().Stats().Snapshot()
	res.Target = tgt.Engine().Stats().Snapshot()
	res.HostFault = hostCh.Stats()
	res.TgtFault = tgtCh.Stats()
	return res, nil
}

func runTarget(ctx context.Context, tgt *kd.Target, n int) error {
	for i := 0; i < n; i++ {
		if _, err := tgt.PrintString(ctx, fmt.Sprintf("line %d\n", i)); err != nil {
			return err
		}
	}
	_, err := tgt.ReportStateChange(ctx, kd.StateChange{NewState: kd.StateException, ProgramCounter: 0x1000})
	return err
}

func runHost(ctx context.Context, host *kd.Host, res *simResult) error {
	for {
		ev, err := host.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Print != "" {
			res.Delivered++
			continue
		}
		if ev.State != nil {
			return host.Continue(ctx, kd.StatusContinue)
		}
	}
}

func render(cfg simConfig, res simResult) error {
	pterm.DefaultSection.Println("kdsim")
	pterm.Info.Println(fmt.Sprintf("delivered %d/%d prints in %s (drop=%.4f corrupt=%.4f seed=%d)",
		res.Delivered, cfg.Messages, res.Elapsed.Round(time.Millisecond), cfg.DropRate, cfg.CorruptRate, cfg.Seed))

	row := func(name string, h, t uint64) []string {
		return []string{name, fmt.Sprint(h), fmt.Sprint(t)}
	}
	data := pterm.TableData{
		{"counter", "host", "target"},
		row("packets sent", res.Host.PacketsSent, res.Target.PacketsSent),
		row("packets received", res.Host.PacketsReceived, res.Target.PacketsReceived),
		row("retries", res.Host.Retries, res.Target.Retries),
		row("resends sent", res.Host.ResendsSent, res.Target.ResendsSent),
		row("resends received", res.Host.ResendsReceived, res.Target.ResendsReceived),
		row("checksum errors", res.Host.ChecksumErrors, res.Target.ChecksumErrors),
		row("partial reads", res.Host.PartialReads, res.Target.PartialReads),
		row("duplicates", res.Host.Duplicates, res.Target.Duplicates),
		row("bytes discarded", res.Host.BytesDiscarded, res.Target.BytesDiscarded),
		row("bytes dropped", uint64(res.HostFault.Dropped), uint64(res.TgtFault.Dropped)),
		row("bytes corrupted", uint64(res.HostFault.Corrupted), uint64(res.TgtFault.Corrupted)),
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
