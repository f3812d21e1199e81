// Command capture runs the NetSentinel Capture Engine: it opens one or
// more network interfaces, decodes every frame, and publishes the
// decoded records to a Redis stream for the aggregator to consume.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secuaas/netsentinel/internal/broker"
	"github.com/secuaas/netsentinel/internal/capture"
	"github.com/secuaas/netsentinel/internal/config"
	"github.com/secuaas/netsentinel/pkg/frame"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "configs/capture.toml", "Path to configuration file")
	listInterfaces := flag.Bool("list-interfaces", false, "List capturable interfaces and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	dryRun := flag.Bool("dry-run", false, "Open interfaces and validate config without publishing to the broker")
	flag.Parse()

	if *listInterfaces {
		names, err := capture.ListInterfaces()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list interfaces: %v\n", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

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
	if err := cfg.ValidateForCapture(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	if err := run(cfg, logger, *dryRun); err != nil {
		logger.Fatal("capture engine exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, dryRun bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	recordCh := make(chan *frame.Record, cfg.Capture.RingBufferSize)

	var wg sync.WaitGroup
	engines := make([]*capture.Engine, 0, len(cfg.Capture.Interfaces))

	for _, ifaceCfg := range cfg.Capture.Interfaces {
		eng := capture.New(capture.Config{
			InterfaceName: ifaceCfg.Name,
			Promiscuous:   ifaceCfg.PromiscuousEnabled(),
			SnapLength:    cfg.Capture.SnapLength,
		}, recordCh, logger)

		if err := eng.Open(); err != nil {
			for _, opened := range engines {
				opened.Close()
			}
			return fmt.Errorf("open interface %s: %w", ifaceCfg.Name, err)
		}
		engines = append(engines, eng)
	}

	logger.Info("opened capture interfaces", zap.Int("count", len(engines)))

	if dryRun {
		logger.Info("dry-run: interfaces validated, exiting without publishing")
		for _, eng := range engines {
			eng.Close()
		}
		return nil
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		for _, eng := range engines {
			eng.Close()
		}
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		for _, eng := range engines {
			eng.Close()
		}
		return fmt.Errorf("connect to redis: %w", err)
	}

	sink := broker.NewSink(redisClient, cfg.Redis.StreamName, cfg.Redis.MaxStreamLength,
		cfg.Capture.BatchSize, cfg.Capture.FlushInterval(), logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(ctx, recordCh)
	}()

	for _, eng := range engines {
		wg.Add(1)
		go func(e *capture.Engine) {
			defer wg.Done()
			e.Run(ctx)
		}(eng)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportStats(ctx, engines, sink, logger)
	}()

	<-ctx.Done()
	wg.Wait()
	close(recordCh)
	return nil
}

func reportStats(ctx context.Context, engines []*capture.Engine, sink *broker.Sink, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var captured, bytes, dropped, parseErrs uint64
			for _, e := range engines {
				captured += e.Stats.PacketsCaptured.Load()
				bytes += e.Stats.BytesCaptured.Load()
				dropped += e.Stats.FramesDropped.Load()
				parseErrs += e.Stats.ParseErrors.Load()
			}
			logger.Info("capture stats",
				zap.Uint64("packets_captured", captured),
				zap.Uint64("bytes_captured", bytes),
				zap.Uint64("frames_dropped", dropped),
				zap.Uint64("parse_errors", parseErrs),
				zap.Uint64("frames_sent", sink.Stats.FramesSent.Load()),
				zap.Uint64("send_errors", sink.Stats.SendErrors.Load()),
			)
		}
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
