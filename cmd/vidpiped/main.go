// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vidpipe/vidpipe/internal/api"
	"github.com/vidpipe/vidpipe/internal/config"
	vplog "github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/pipeline/bus"
	"github.com/vidpipe/vidpipe/internal/pipeline/manager"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides VIDPIPE_LISTEN)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	srvCfg := config.ServerFromEnv()
	if *listenAddr != "" {
		srvCfg.ListenAddr = *listenAddr
	}

	vplog.Configure(vplog.Config{
		Level:   srvCfg.LogLevel,
		Service: "vidpipe",
	})
	logger := vplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv().WithDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("failed to validate configuration")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", srvCfg.ListenAddr).
		Msg("starting vidpiped")
	logger.Info().Msgf("→ Converter: %s", cfg.FFmpegPath)
	logger.Info().Msgf("→ Chunk size: %d bytes", cfg.ChunkSize)
	logger.Info().Msgf("→ Heartbeat: every %s", cfg.HeartbeatInterval)

	eventBus := bus.NewMemoryBus(cfg.EventBuffer)
	mgr := manager.New(cfg, eventBus, &http.Client{})
	server := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           api.New(mgr).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()

		logger.Info().Str("event", "shutdown").Msg("stopping vidpiped")
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("sessions did not stop cleanly")
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "shutdown.failed").
			Msg("daemon terminated with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("vidpiped stopped")
}
