package main

import (
	"flag"
	"os"
	"syscall"

	_ "marketdata/docs"
	"marketdata/internal/config"
	"marketdata/internal/supervisor"
	"marketdata/pkg/logger"
	"marketdata/pkg/shutdown"
)

// @title Market Data Plane API
// @version 1.0
// @description Live orderbook and OHLC market-data plane: upstream feed consumer, per-pair orderbook engine, snapshot history, and WebSocket/REST client surfaces.
// @host localhost:8080
// @BasePath /api/v1

func main() {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional; env vars always win on conflict)")
	flag.BoolVar(&dev, "dev", false, "enable human-friendly console logging")
	flag.Usage = func() {
		logger.Log.Info().Msg(`marketdata runs the live orderbook and OHLC market-data plane.

Usage:
  marketdata [flags]

Flags:
  -config string   path to a config file
  -dev             human-friendly console logging
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger.InitLogger(dev)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Log.Info().
		Strs("pairs", cfg.Pairs).
		Str("listen_addr", cfg.ListenAddr).
		Str("upstream_url", cfg.UpstreamURL).
		Msg("marketdata starting")

	sd := shutdown.NewShutdown(logger.Log)
	sup := supervisor.New(cfg, logger.Log)

	sd.HookShutdownCallback("supervisor-drain", func() {
		logger.Log.Info().Msg("draining supervisor tasks")
	}, cfg.DrainGrace())

	go func() {
		if err := sup.Run(sd.Context()); err != nil {
			logger.Log.Error().Err(err).Msg("supervisor exited with error")
			sd.ShutdownNow()
			os.Exit(1)
		}
	}()

	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
	logger.Log.Info().Msg("marketdata stopped gracefully")
}
