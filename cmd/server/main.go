package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Stagehand/internal/adapters/http"
	"github.com/dkeye/Stagehand/internal/app"
	"github.com/dkeye/Stagehand/internal/app/orch"
	"github.com/dkeye/Stagehand/internal/config"
	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/store"
)

func main() {
	flags := pflag.NewFlagSet("stagehand", pflag.ExitOnError)
	config.Flags(flags)
	_ = flags.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	rooms := app.NewRoomManager(core.RoomConfig{Apps: miniapp.Builtins()})
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Rooms:     rooms,
		Policy:    app.PolicyByName(cfg.Backpressure),
		Playlists: st,
	}

	// With a watched tree, REST writes and file events share one debounce.
	var watcher *store.Watcher
	var notify store.ChangeFunc
	if fs, ok := st.(*store.FileStore); ok && cfg.Store.Watch {
		watcher = store.NewWatcher(fs.Root(), o.NotifyMetadata)
		notify = watcher.Notify
	}

	r := router.SetupRouter(ctx, cfg, o, st, notify)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Stagehand server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gCtx) })
	}
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg config.LogConfig) {
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
