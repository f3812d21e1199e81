// Package broker implements the Redis Streams transport between the
// capture and aggregation engines: a batched publisher on the capture
// side and a consumer-group reader on the aggregation side.
package broker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secuaas/netsentinel/pkg/frame"
	"go.uber.org/zap"
)

// SinkStats are the publisher's running counters, logged periodically by
// the caller.
type SinkStats struct {
	FramesSent    atomic.Uint64
	FramesDropped atomic.Uint64
	SendErrors    atomic.Uint64
	BytesSent     atomic.Uint64
}

// Sink batches records read from a channel and publishes them to a Redis
// stream, trimmed approximately to MaxStreamLength on every flush.
type Sink struct {
	client           *redis.Client
	streamName       string
	maxStreamLength  int64
	batchSize        int
	flushInterval    time.Duration
	logger           *zap.Logger
	Stats            SinkStats
}

// NewSink constructs a sink bound to an existing Redis client.
func NewSink(client *redis.Client, streamName string, maxStreamLength int64, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Sink {
	return &Sink{
		client:          client,
		streamName:      streamName,
		maxStreamLength: maxStreamLength,
		batchSize:       batchSize,
		flushInterval:   flushInterval,
		logger:          logger,
	}
}

// Run consumes records from in until the channel is closed or ctx is
// cancelled, flushing whenever the batch reaches batchSize and on every
// flushInterval tick (a size-triggered flush does not reset the ticker).
// A failed flush drops its batch and pauses for one second, or until ctx
// is cancelled.
func (s *Sink) Run(ctx context.Context, in <-chan *frame.Record) {
	batch := make([]*frame.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	s.logger.Info("broker sink started",
		zap.String("stream", s.streamName),
		zap.Int("batch_size", s.batchSize),
		zap.Duration("flush_interval", s.flushInterval),
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(ctx, batch); err != nil {
			s.logger.Error("failed to flush batch", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			s.logger.Info("broker sink stopped")
			return
		case rec, ok := <-in:
			if !ok {
				flush()
				s.logger.Info("frame channel closed, broker sink stopped")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) flushBatch(ctx context.Context, batch []*frame.Record) error {
	pipe := s.client.Pipeline()

	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error("failed to serialize record", zap.Error(err))
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream:     s.streamName,
			MaxLen:     s.maxStreamLength,
			Approx:     true,
			Values:     map[string]interface{}{"data": data},
		})
		s.Stats.BytesSent.Add(uint64(len(data)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.Stats.SendErrors.Add(1)
		return err
	}

	s.Stats.FramesSent.Add(uint64(len(batch)))
	return nil
}

// EnsureConsumerGroup creates group on stream starting at offset 0,
// tolerating a BUSYGROUP error when the group already exists.
func EnsureConsumerGroup(ctx context.Context, client *redis.Client, streamName, groupName string) error {
	err := client.XGroupCreateMkStream(ctx, streamName, groupName, "0").Err()
	if err == nil {
		return nil
	}
	if isBusyGroup(err) {
		return nil
	}
	return err
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// StreamLength returns the current XLEN of the stream.
func StreamLength(ctx context.Context, client *redis.Client, streamName string) int64 {
	n, err := client.XLen(ctx, streamName).Result()
	if err != nil {
		return 0
	}
	return n
}
