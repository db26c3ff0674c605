package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/config"
	"nuha.dev/formrelay/internal/ingest"
	"nuha.dev/formrelay/internal/util"
	"nuha.dev/formrelay/internal/web"
	"nuha.dev/formrelay/internal/web/monitoring"
	"nuha.dev/formrelay/internal/web/relay"
	"nuha.dev/formrelay/internal/web/static"
)

func main() {
	config_file := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*config_file)
	util.Pan1c(err)
	setupLog(&cfg.Log)
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, &cfg.Store)
	util.Pan1c(err)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("closing store")
		}
	}()

	// binding the datagram socket is the only fatal ingest error
	listener, err := ingest.Listen(&cfg.Ingest, st)
	util.Pan1c(err)

	files, err := static.New(&cfg.Static)
	util.Pan1c(err)
	rl, err := relay.New(&cfg.Relay)
	util.Pan1c(err)
	defer rl.Close()
	api := web.NewApi(&cfg.HTTP, files, rl)

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("ingest listener stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := api.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("api-server stopped")
		}
	}()
	if cfg.Monitoring.ListenAddr != "" {
		mon := monitoring.NewMonApi(listener, rl, &cfg.Monitoring)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("monitoring server stopped")
			}
		}()
	}
	wg.Wait()
	logger.Info().Msg("bye")
}

func setupLog(c *config.LogConfig) {
	log.DefaultLogger.Level = log.ParseLevel(c.Level)
	if c.Format == "console" {
		log.DefaultLogger.Writer = &log.ConsoleWriter{ColorOutput: true, QuoteString: true}
	} else {
		log.DefaultLogger.Writer = &log.IOWriter{Writer: os.Stderr}
	}
}
