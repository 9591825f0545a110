package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/exchange"
	"futures-sentinel/internal/funding"
	"futures-sentinel/internal/liquidation"
	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/monitor"
	"futures-sentinel/internal/priority"
	"futures-sentinel/internal/report"
	"futures-sentinel/internal/stats"
	"futures-sentinel/internal/storage"
	"futures-sentinel/internal/telegram"
)

const (
	outcomeSweepInterval = 15 * time.Minute
	summaryInterval      = time.Hour
	liquidationWindow    = time.Hour
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	profileName = flag.String("profile", "", "Tuning profile override (fast, balanced, thorough, startup)")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	profile, err := cfg.ActiveProfile(*profileName)
	if err != nil {
		log.Fatalf("Failed to resolve profile: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var journal *report.CSVJournal
	if cfg.Storage.CSVPath != "" {
		journal, err = report.NewCSVJournal(cfg.Storage.CSVPath)
		if err != nil {
			logger.Fatal("Failed to open CSV journal: %v", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("Failed to close CSV journal: %v", err)
			}
		}()
	}

	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var liqFeed liquidation.Feed
	if profile.EnableLiquidation && cfg.Exchange.UseLiquidationStream {
		feed := exchange.NewForceOrderFeed(cfg.Exchange.Symbols, liquidationWindow)
		go feed.Run(ctx)
		liqFeed = feed
	}

	fundingAn := funding.NewAnalyzer(client, store)
	liqAn := liquidation.NewAnalyzer(liqFeed, store)

	var statsAn *stats.Analyzer
	if profile.EnableStatistics {
		statsAn = stats.NewAnalyzer(store, profile.ConfidenceThreshold)
	}

	perf, err := store.LoadPerformance()
	if err != nil {
		logger.Warn("Failed to load performance history: %v", err)
	}
	prioritizer := priority.NewPrioritizer(store, profile.ConfidenceThreshold, perf)

	var telegramClient *telegram.Client
	var notifier monitor.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase,
			profile.RSIOverbought, profile.RSIOversold,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	monitorConfig := monitor.Config{
		Symbols:              cfg.Exchange.Symbols,
		BTCSymbol:            cfg.Monitor.BTCSymbol,
		CandleLimit:          profile.CandleLimit,
		OrderBookDepth:       profile.OrderBookDepth,
		TradeLimit:           profile.TradeLimit,
		MaxAlertsPerCycle:    profile.MaxAlertsPerCycle,
		EnableLiquidation:    profile.EnableLiquidation,
		EnableMultiTimeframe: profile.EnableMultiTimeframe,
		EnableStatistics:     profile.EnableStatistics,
		EnableFunding:        profile.EnableFunding,
		EnableOrderBook:      profile.EnableOrderBook,
		VolumeSpikeThreshold: profile.VolumeSpikeThreshold,
	}
	mon := monitor.New(monitorConfig, client, store, fundingAn, liqAn, statsAn,
		prioritizer, notifier, journal)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, prioritizer.Summary)
		if err := telegramClient.SendStartup(cfg.Exchange.Symbols, profile.UpdateInterval); err != nil {
			logger.Warn("Failed to send startup notification: %v", err)
		}
	}

	logger.Info("Starting monitoring service (symbols: %v, interval: %v, confidence threshold: %.2f)",
		cfg.Exchange.Symbols, profile.UpdateInterval, profile.ConfidenceThreshold)

	ticker := time.NewTicker(profile.UpdateInterval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(outcomeSweepInterval)
	defer sweepTicker.Stop()
	summaryTicker := time.NewTicker(summaryInterval)
	defer summaryTicker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(mon.RunCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(mon.RunCycle(ctx))
			if err := store.Rotate(cfg.Storage.Retention); err != nil {
				logger.Warn("Failed to rotate stored history: %v", err)
			}

		case <-sweepTicker.C:
			logger.Debug("Sweeping alert outcomes (%d pending)", mon.PendingOutcomes())
			mon.SweepOutcomes(ctx)

		case <-summaryTicker.C:
			mon.SendSummary()
		}
	}
}
