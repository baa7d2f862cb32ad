// Package server exposes a debugger host over a small admin HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/kdlink/internal/kd"
	"github.com/danmuck/kdlink/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Host is the part of kd.Host the admin API drives.
type Host interface {
	Status() kd.Status
	Breakin()
	RequestContinue(status uint32)
}

type Admin struct {
	name     string
	host     Host
	appeared time.Time
	router   *gin.Engine
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// New builds the admin router. gatherer may be nil for the default registry.
func New(name string, host Host, gatherer prometheus.Gatherer, logger zerolog.Logger) *Admin {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	observability.RegisterMetrics()
	a := &Admin{
		name:     name,
		host:     host,
		appeared: time.Now(),
		router:   gin.New(),
		gatherer: gatherer,
		log:      logger,
	}
	a.router.Use(gin.Recovery(),
		observability.RequestLogger(logger, "/metrics", "/health"),
		observability.RequestMetricsMiddleware(name))
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler { return a.router }

// Run serves on addr until ctx ends.
func (a *Admin) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("admin listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
