// Command wheelhouse runs the wheel assistant: it snapshots the account,
// detects assignments, scans the watchlist, ranks wheel candidates and
// writes put recommendations, either once or on a schedule.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eddiefleurent/stamford_wheeler/internal/assignments"
	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/config"
	"github.com/eddiefleurent/stamford_wheeler/internal/mock"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/retry"
	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
	"github.com/eddiefleurent/stamford_wheeler/internal/wheel"
)

func main() {
	var (
		configPath   string
		once         bool
		simulate     bool
		quiet        bool
		verbose      bool
		noTechnicals bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single cycle and exit")
	flag.BoolVar(&simulate, "simulate", false, "Force the simulated broker regardless of config")
	flag.BoolVar(&quiet, "quiet", false, "Suppress per-cycle logging")
	flag.BoolVar(&verbose, "verbose", false, "Timestamp log lines with microseconds and call sites")
	flag.BoolVar(&noTechnicals, "no-technicals", false, "Skip the watchlist scan; analyze held positions only")
	flag.Parse()

	// Secrets referenced by ${VAR} in the config come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[WHEEL] ", log.LstdFlags)
	if verbose {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if quiet {
		logger.SetOutput(io.Discard)
	}

	if noTechnicals {
		cfg.Watchlist.Symbols = nil
		logger.Println("Watchlist scan disabled for this run")
	}

	useSim := simulate || cfg.IsSimulated()
	if useSim {
		logger.Println("Simulated broker: no live market data will be fetched")
	} else {
		logger.Println("Live broker: read-only market and account data")
	}

	brokerClient := buildBroker(cfg, useSim, logger)
	runner, cleanup, err := buildRunner(cfg, brokerClient, useSim, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	if once {
		if _, err := runner.RunOnce(ctx); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		return
	}

	runLoop(ctx, cfg, runner, logger)
	logger.Println("Stopped")
}

func buildBroker(cfg *config.Config, useSim bool, logger *log.Logger) broker.Broker {
	if useSim {
		held := ""
		if len(cfg.Watchlist.Symbols) > 0 {
			held = cfg.Watchlist.Symbols[0]
		}
		return mock.NewBroker(held)
	}

	client := schwabClient(cfg)
	// Circuit breaker inside, retries outside, so retries see breaker trips.
	return retry.NewBroker(broker.NewCircuitBreakerBroker(client), logger)
}

func schwabClient(cfg *config.Config) *broker.SchwabClient {
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
	return &broker.SchwabClient{SchwabAPI: api}
}

func buildRunner(cfg *config.Config, b broker.Broker, useSim bool, logger *log.Logger) (*wheel.Runner, func(), error) {
	store, err := storage.NewStorage(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}

	assignStore, err := assignments.NewStore(cfg.Storage.AssignmentsDB)
	if err != nil {
		return nil, nil, err
	}
	accountHash := cfg.Broker.AccountHash
	if useSim {
		accountHash = "SIM"
	}
	tracker := assignments.NewTracker(b, assignStore, accountHash, logger)

	puts := putsel.NewEngine(b, logger).
		WithMaxAllocation(cfg.Puts.MaxAllocationPct).
		WithMinScore(cfg.Puts.MinScore)

	runner := wheel.NewRunner(
		b,
		store,
		technicals.NewAnalyzer(b, logger),
		ranking.NewRanker(cfg.Ranking, logger),
		puts,
		tracker,
		logger,
		cfg.Watchlist.Symbols,
		cfg.AssignmentLookback(),
	)
	cleanup := func() {
		if err := assignStore.Close(); err != nil {
			logger.Printf("Failed to close assignment store: %v", err)
		}
	}
	return runner, cleanup, nil
}

func runLoop(ctx context.Context, cfg *config.Config, runner *wheel.Runner, logger *log.Logger) {
	ticker := time.NewTicker(cfg.RunInterval())
	defer ticker.Stop()

	cycle := func() {
		if !cfg.IsWithinTradingHours(time.Now()) {
			logger.Println("Outside trading hours, skipping cycle")
			return
		}
		if _, err := runner.RunOnce(ctx); err != nil {
			logger.Printf("Cycle failed: %v", err)
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}
