// Command monitor serves the read-only HTTP API over stored wheel data and
// periodically rescans the watchlist for threshold alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/config"
	"github.com/eddiefleurent/stamford_wheeler/internal/mock"
	"github.com/eddiefleurent/stamford_wheeler/internal/monitor"
	"github.com/eddiefleurent/stamford_wheeler/internal/retry"
	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Monitor.Enabled {
		log.Fatal("Monitor is disabled in config; set monitor.enabled: true")
	}

	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	store, err := storage.NewStorage(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	analyzer := technicals.NewAnalyzer(buildBroker(cfg), log.New(os.Stdout, "[SCAN] ", log.LstdFlags))
	engine := monitor.NewEngine(monitor.Thresholds{
		RSIOversold:   cfg.Monitor.RSIOversold,
		RSIOverbought: cfg.Monitor.RSIOverbought,
		PriceMovePct:  cfg.Monitor.PriceMovePct,
		VolumeSpike:   cfg.Monitor.VolumeSpike,
	})
	watcher := monitor.NewMonitor(analyzer, engine, logger, cfg.Watchlist.Symbols, cfg.MonitorInterval())
	server := monitor.NewServer(cfg.Monitor.ListenAddr, store, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watcher.Run(ctx)
	go func() {
		logger.WithField("addr", cfg.Monitor.ListenAddr).Info("Monitor API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

func buildBroker(cfg *config.Config) broker.Broker {
	if cfg.IsSimulated() {
		return mock.NewBroker(cfg.Watchlist.Symbols[0])
	}
	creds := broker.Credentials{
		AppKey:       cfg.Broker.AppKey,
		AppSecret:    cfg.Broker.AppSecret,
		RefreshToken: cfg.Broker.RefreshToken,
		AccountHash:  cfg.Broker.AccountHash,
	}
	api := broker.NewSchwabAPIWithBaseURL(creds, cfg.Broker.BaseURL, cfg.Broker.MarketDataURL, cfg.Broker.AuthURL)
	if t := cfg.BrokerTimeout(); t > 0 {
		api = api.WithTimeout(t)
	}
	client := &broker.SchwabClient{SchwabAPI: api}
	return retry.NewBroker(broker.NewCircuitBreakerBroker(client), nil)
}
