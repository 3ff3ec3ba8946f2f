package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/redis-lite/internal/clock"
	"github.com/nishisan-dev/redis-lite/internal/command"
	"github.com/nishisan-dev/redis-lite/internal/config"
	"github.com/nishisan-dev/redis-lite/internal/logging"
	"github.com/nishisan-dev/redis-lite/internal/replication"
	"github.com/nishisan-dev/redis-lite/internal/server"
	"github.com/nishisan-dev/redis-lite/internal/store"
	"github.com/nishisan-dev/redis-lite/internal/waiter"
)

func main() {
	configPath := flag.String("config", "", "path to server config file (optional, defaults used when absent)")
	listenAddr := flag.String("port", "", "listen address, overrides config (e.g. :6379)")
	logLevel := flag.String("log-level", "", "log level, overrides config (debug|info|warn|error)")
	logFormat := flag.String("log-format", "", "log format, overrides config (json|text)")
	replicaOfHost := flag.String("replicaof-host", "", "master host this server replicates from")
	replicaOfPort := flag.Int("replicaof-port", 0, "master port this server replicates from")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *replicaOfHost != "" {
		cfg.ReplicaOf = &config.ReplicaOfConfig{Host: *replicaOfHost, Port: *replicaOfPort}
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	if cfg.ReplicaOf != nil {
		logger.Warn("replicaof configured but replica-client mode is not implemented, starting as master", "host", cfg.ReplicaOf.Host, "port", cfg.ReplicaOf.Port)
	}

	st := store.New(clock.System{})
	waiters := waiter.New()
	repl := replication.New(cfg.Replication.GetAckInterval, cfg.Replication.HighWaterMarkBytes, logger)
	ec := command.NewExecContext(st, waiters, repl, clock.System{})
	catalog := command.NewCatalog()

	srv := server.New(cfg.Listen, catalog, ec, st, repl, cfg.StatsInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
