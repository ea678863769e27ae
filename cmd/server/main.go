package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Relay/internal/adapters/http"
	wssignal "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	args := os.Args[1:]
	cfg, err := config.Load(args)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config, using defaults")
		cfg = config.Default()
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	cfg.ApplyLogLevel()
	if err := config.Watch(args); err != nil {
		log.Warn().Err(err).Msg("config watch disabled")
	}

	policy, err := app.PolicyByName(cfg.BackpressurePolicy)
	if err != nil {
		log.Error().Err(err).Msg("falling back to drop policy")
		policy = app.DropPolicy{}
	}

	o := &orch.Orchestrator{
		Sessions:   app.NewRegistry(),
		Rooms:      app.NewRoomManager(),
		Policy:     policy,
		MaxNameLen: cfg.MaxNameLen,
	}
	ctrl := wssignal.NewSignalWSController(o, wssignal.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		PongWait:    cfg.PongWait,
		WriteWait:   cfg.WriteWait,
		SendBuffer:  cfg.SendBuffer,
		CheckOrigin: wssignal.OriginChecker(cfg.AllowedOrigins),
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked websocket connections are not tracked by the http server.
	n := o.Sessions.CloseAll()
	if !ctrl.Wait(cfg.ShutdownTimeout) {
		log.Warn().Int("sessions", n).Msg("connection pumps still running")
	}
	log.Info().Msg("Server exited gracefully")
}
