// Command aggregator runs the NetSentinel Aggregation Engine: it
// consumes decoded frame records from a Redis stream, maintains
// in-memory device/flow/protocol/VLAN counters, and periodically
// flushes them into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/secuaas/netsentinel/internal/aggregate"
	"github.com/secuaas/netsentinel/internal/broker"
	"github.com/secuaas/netsentinel/internal/config"
	"github.com/secuaas/netsentinel/internal/persist"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "configs/aggregator.toml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.ValidateForAggregator(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("aggregation engine exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	if err := broker.EnsureConsumerGroup(ctx, redisClient, cfg.Redis.StreamName, cfg.Redis.ConsumerGroup); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	db, err := persist.Connect(ctx, persist.DatabaseConfig{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		ConnectTimeout: cfg.Database.ConnectTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	state := aggregate.NewState()

	source := broker.NewSource(redisClient, cfg.Redis.StreamName, cfg.Redis.ConsumerGroup,
		cfg.Redis.ConsumerName, cfg.Redis.BatchSize, cfg.Redis.BlockInterval(), logger)

	persister := persist.NewPersister(cfg.Aggregation.PersistInterval(), state, db, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		source.Run(ctx, state)
	}()
	go func() {
		defer wg.Done()
		persister.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	logger.Info("aggregator stopped",
		zap.Uint64("total_packets", state.TotalPackets.Load()),
		zap.Uint64("total_bytes", state.TotalBytes.Load()),
		zap.Uint64("total_devices", state.TotalDevices.Load()),
		zap.Uint64("total_flows", state.TotalFlows.Load()),
	)
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
