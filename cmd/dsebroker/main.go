package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kelsoko1/terminal1-sub005/api"
	"github.com/kelsoko1/terminal1-sub005/internal/config"
	"github.com/kelsoko1/terminal1-sub005/internal/database"
	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/marketdata"
	"github.com/kelsoko1/terminal1-sub005/internal/portfolio"
	"github.com/kelsoko1/terminal1-sub005/internal/settlement"
	"github.com/kelsoko1/terminal1-sub005/internal/trading"
	"github.com/kelsoko1/terminal1-sub005/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("failed to migrate schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	commissionRate, err := decimal.NewFromString(cfg.Trading.CommissionRate)
	if err != nil {
		zapLogger.Fatal("invalid commission rate", zap.String("rate", cfg.Trading.CommissionRate), zap.Error(err))
	}

	portfolioSvc, err := portfolio.NewService(zapLogger, db, commissionRate)
	if err != nil {
		zapLogger.Fatal("failed to create portfolio service", zap.Error(err))
	}

	gateway := dse.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.AuthToken, cfg.Gateway.RequestTimeout, zapLogger)
	publisher := settlement.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
	defer publisher.Close()

	// The market data service doubles as the price source for market
	// order validation; the trading service is wired in afterwards.
	marketdataSvc := marketdata.NewService(zapLogger, db, redisClient, nil)

	validator := trading.NewValidator(portfolioSvc, marketdataSvc)
	tradingSvc, err := trading.NewService(zapLogger, db, gateway, portfolioSvc, validator, publisher, commissionRate)
	if err != nil {
		zapLogger.Fatal("failed to create trading service", zap.Error(err))
	}
	marketdataSvc.SetTradingService(tradingSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := dse.ReconnectPolicy{
		InitialDelay: cfg.Feed.ReconnectDelay,
		Factor:       cfg.Feed.BackoffFactor,
		MaxDelay:     cfg.Feed.MaxDelay,
		Jitter:       cfg.Feed.Jitter,
		MaxAttempts:  cfg.Feed.MaxAttempts,
	}
	subs := dse.NewRedisSubscriptionStore(redisClient)
	feed := dse.NewFeedClient(cfg.Feed.URL, cfg.Feed.AuthToken, policy, subs, zapLogger)
	if cfg.Feed.URL != "" {
		feed.Start(ctx)
		go marketdataSvc.Run(ctx, feed.Messages())
		go func() {
			select {
			case <-feed.Failed():
				zapLogger.Error("real-time feed gave up reconnecting; restart required for live data")
			case <-ctx.Done():
			}
		}()
	} else {
		zapLogger.Warn("feed url not configured, running without live market data")
		feed = nil
	}

	server := api.NewServer(zapLogger, tradingSvc, portfolioSvc, marketdataSvc, feed)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zapLogger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		zapLogger.Error("server stopped", zap.Error(err))
	}

	cancel()
	if feed != nil {
		feed.Close()
	}
}
