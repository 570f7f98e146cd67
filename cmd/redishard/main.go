package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redishard/redishard/internal/config"
	"github.com/redishard/redishard/internal/logging"
	"github.com/redishard/redishard/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "/etc/redishard/config.toml", "path to the proxy config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "log format: text, json")
	logFile := flag.String("log-file", "", "additionally write logs to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redishard: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.New(*logLevel, *logFormat, *logFile)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	o := orchestrator.New(cfg, logger)
	if err := o.Run(ctx); err != nil {
		logger.Error("orchestrator exited", "error", err)
		os.Exit(1)
	}
}
