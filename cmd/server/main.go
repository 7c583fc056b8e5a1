package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/televisit/internal/adapters/http"
	sig "github.com/dkeye/televisit/internal/adapters/signal"
	"github.com/dkeye/televisit/internal/adapters/store"
	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/app/orch"
	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// zerolog first so config.Load can log.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var policy app.Policy = app.SimplePolicy{}
	if cfg.Server.DropLimit > 0 {
		policy = app.NewStrikePolicy(cfg.Server.DropLimit)
	}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   policy,
		Metrics:  m,
	}

	var records core.CallRecordStore
	if cfg.Records.Sink == "sqlite" {
		db, err := store.OpenSQLite(cfg.Records.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Records.Path).Msg("open call records")
		}
		defer db.Close()
		records = db
	}

	ctl := sig.NewSignalWSController(o,
		sig.NewRoomRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow),
		m,
		sig.Options{
			ReadLimit:  cfg.Server.ReadLimit,
			PingPeriod: cfg.Server.PingPeriod,
			SendBuffer: cfg.Server.SendBuffer,
		})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     o,
		Signal:   ctl,
		Records:  records,
		Gatherer: reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("televisit relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
