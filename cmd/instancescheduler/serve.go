package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"instancescheduler/internal/api"
	"instancescheduler/internal/app"
	"instancescheduler/internal/scheduler"
)

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the register/process triggers",
	RunE:  serveHandler,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "expose /debug/pprof")
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	triggers, err := scheduler.NewService(rt.Scheduler, cfg.Location(), scheduler.Triggers{
		Register: cfg.Triggers.Register,
		Process:  cfg.Triggers.Process,
	}, cfg.Triggers.Timeout)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		triggers.Start(ctx)
	}()

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServer(rt.Scheduler, api.Options{
		Location:    cfg.Location(),
		Gatherer:    rt.Registry,
		EnableDebug: serveDebug,
	})}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	<-done
	return nil
}
