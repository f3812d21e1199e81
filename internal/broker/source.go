package broker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secuaas/netsentinel/internal/aggregate"
	"github.com/secuaas/netsentinel/internal/errkind"
	"github.com/secuaas/netsentinel/pkg/frame"
	"go.uber.org/zap"
)

// SourceStats are the consumer's running counters, logged periodically.
type SourceStats struct {
	FramesConsumed atomic.Uint64
	ParseErrors    atomic.Uint64
	ReadErrors     atomic.Uint64
	AckErrors      atomic.Uint64
}

// Source reads batches of frames from a Redis stream consumer group and
// feeds each successfully parsed record into the aggregation core.
type Source struct {
	client        *redis.Client
	streamName    string
	consumerGroup string
	consumerName  string
	batchSize     int64
	blockInterval time.Duration
	logger        *zap.Logger

	Stats SourceStats
}

// NewSource constructs a source bound to an existing Redis client. The
// caller must call EnsureConsumerGroup before Run.
func NewSource(client *redis.Client, streamName, group, consumer string, batchSize int64, blockInterval time.Duration, logger *zap.Logger) *Source {
	return &Source{
		client:        client,
		streamName:    streamName,
		consumerGroup: group,
		consumerName:  consumer,
		batchSize:     batchSize,
		blockInterval: blockInterval,
		logger:        logger,
	}
}

// Run loops reading and acknowledging entries until ctx is cancelled,
// feeding every successfully parsed record to state.ProcessFrame.
func (s *Source) Run(ctx context.Context, state *aggregate.State) {
	s.logger.Info("broker source started",
		zap.String("stream", s.streamName),
		zap.String("group", s.consumerGroup),
		zap.String("consumer", s.consumerName),
	)

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("broker source stopped")
			return
		case <-statsTicker.C:
			s.logger.Info("broker source stats",
				zap.Uint64("frames_consumed", s.Stats.FramesConsumed.Load()),
				zap.Uint64("parse_errors", s.Stats.ParseErrors.Load()),
				zap.Uint64("read_errors", s.Stats.ReadErrors.Load()),
			)
		default:
			s.readBatch(ctx, state)
		}
	}
}

func (s *Source) readBatch(ctx context.Context, state *aggregate.State) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.consumerGroup,
		Consumer: s.consumerName,
		Streams:  []string{s.streamName, ">"},
		Count:    s.batchSize,
		Block:    s.blockInterval,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.Stats.ReadErrors.Add(1)
		s.logger.Warn("broker read error", zap.Error(err), zap.String("error_kind", errkind.BrokerUnavailable.String()))
		time.Sleep(time.Second)
		return
	}

	now := time.Now().UTC()
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.processMessage(ctx, msg, state, now)
		}
	}
}

func (s *Source) processMessage(ctx context.Context, msg redis.XMessage, state *aggregate.State, now time.Time) {
	raw, ok := msg.Values["data"]
	if ok {
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		}

		var rec frame.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.Stats.ParseErrors.Add(1)
			s.logger.Warn("failed to parse stream entry", zap.String("id", msg.ID), zap.Error(err), zap.String("error_kind", errkind.BrokerProtocol.String()))
		} else {
			state.ProcessFrame(&rec, now)
			s.Stats.FramesConsumed.Add(1)
		}
	} else {
		s.Stats.ParseErrors.Add(1)
		s.logger.Warn("stream entry missing data field", zap.String("id", msg.ID))
	}

	// Acknowledge unconditionally, even on parse failure: an unparseable
	// entry left pending would poison the consumer group's PEL forever.
	if err := s.client.XAck(ctx, s.streamName, s.consumerGroup, msg.ID).Err(); err != nil {
		s.Stats.AckErrors.Add(1)
		s.logger.Warn("failed to ack stream entry", zap.String("id", msg.ID), zap.Error(err))
	}
}
