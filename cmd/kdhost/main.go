package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/kdlink/internal/capture"
	"github.com/danmuck/kdlink/internal/config"
	"github.com/danmuck/kdlink/internal/kd"
	"github.com/danmuck/kdlink/internal/observability"
	"github.com/danmuck/kdlink/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/kdhost/config.toml", "link config path")
	flag.Parse()

	logger := observability.InitLogger("kdhost")
	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("kdhost stopped")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadLinkFile(configPath)
	if err != nil {
		return err
	}
	opts, err := loadHostOptions(configPath)
	if err != nil {
		return err
	}
	log.Info().Str("path", configPath).Str("channel", cfg.Channel.Kind).Msg("loaded link config")

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

	scfg := config.SessionConfig(cfg.Link)
	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Capture.Path)
		if err != nil {
			return err
		}
		defer w.Close()
		scfg.Observer = w
		log.Info().Str("path", cfg.Capture.Path).Msg("capturing packets")
	}

	host := kd.NewHost(ch, scfg)
	watchBreakin(ctx, host.Breakin)

	if cfg.Admin.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		reg := prometheus.NewRegistry()
		reg.MustRegister(observability.NewLinkCollector("kdhost", host.Engine(), func() bool {
			return host.Status().DebuggerPresent
		}))
		admin := server.New("kdhost", host, reg, log.Logger)
		go func() {
			if err := admin.Run(ctx, cfg.Admin.Addr); err != nil {
				log.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	if opts.Attach {
		pterm.Info.Println("waiting for target...")
		if err := host.Attach(ctx); err != nil {
			return err
		}
		pterm.Success.Println("target attached")
	}

	for {
		ev, err := host.Next(ctx)
		if err != nil {
			return err
		}
		switch {
		case ev.Print != "":
			pterm.Print(ev.Print)
		case ev.State != nil:
			pterm.Warning.Println(fmt.Sprintf("target stopped: state=0x%04x pc=0x%016x thread=0x%x",
				ev.State.NewState, ev.State.ProgramCounter, ev.State.Thread))
			if opts.AutoContinue {
				if err := host.Continue(ctx, opts.ContinueStatus); err != nil {
					return err
				}
				pterm.Info.Println(fmt.Sprintf("continued with status 0x%08x", opts.ContinueStatus))
			}
		case ev.Manipulate != nil:
			log.Debug().Uint32("api", ev.Manipulate.ApiNumber).Uint32("status", ev.Manipulate.ReturnStatus).Msg("manipulate reply")
		default:
			log.Debug().Str("kind", ev.Kind.String()).Int("bytes", len(ev.Payload)).Msg("unhandled packet")
		}
	}
}
