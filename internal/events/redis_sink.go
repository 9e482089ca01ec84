package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/metrics"
)

const historyLength = 100

// RedisSink publishes events on a channel and keeps per-stream state and a
// bounded history under prefixed keys.
type RedisSink struct {
	client  *redis.Client
	logger  logger.Logger
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedisSink creates a Redis-backed sink
func NewRedisSink(client *redis.Client, log logger.Logger, prefix, channel string, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = "frameparser:"
	}
	if channel == "" {
		channel = prefix + "events"
	}
	return &RedisSink{
		client:  client,
		logger:  logger.ForComponent(log, "redis_events"),
		prefix:  prefix,
		channel: channel,
		ttl:     ttl,
	}
}

// NewRedisSinkFromConfig dials Redis using the events configuration
func NewRedisSinkFromConfig(cfg *config.RedisEventsConfig, log logger.Logger) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisSink(client, log, cfg.KeyPrefix, cfg.Channel, cfg.TTL)
}

func (s *RedisSink) stateKey(streamID string) string {
	return s.prefix + "stream:" + streamID + ":state"
}

func (s *RedisSink) historyKey(streamID string) string {
	return s.prefix + "stream:" + streamID + ":events"
}

// Emit implements Sink
func (s *RedisSink) Emit(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	stateKey := s.stateKey(ev.StreamID)
	historyKey := s.historyKey(ev.StreamID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, stateKey,
		"codec", ev.Codec,
		"last_event", string(ev.Type),
		"last_event_at", ev.Time.UnixMilli(),
		string(ev.Type), string(data),
	)
	pipe.Expire(ctx, stateKey, s.ttl)
	pipe.LPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, 0, historyLength-1)
	pipe.Expire(ctx, historyKey, s.ttl)
	pipe.Publish(ctx, s.channel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("event_type", ev.Type).Warn("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.IncrementEventsEmitted(string(ev.Type), "redis")
	s.logger.WithFields(map[string]interface{}{
		"event_type": ev.Type,
		"stream_id":  ev.StreamID,
	}).Debug("Event published")
	return nil
}

// State returns the stored state hash for a stream
func (s *RedisSink) State(ctx context.Context, streamID string) (map[string]string, error) {
	state, err := s.client.HGetAll(ctx, s.stateKey(streamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream state: %w", err)
	}
	return state, nil
}

// History returns up to n most recent events for a stream, newest first
func (s *RedisSink) History(ctx context.Context, streamID string, n int64) ([]Event, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(streamID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event history: %w", err)
	}

	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			s.logger.WithError(err).Warn("Skipping malformed event")
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Client returns the underlying Redis client.
func (s *RedisSink) Client() *redis.Client {
	return s.client
}

// Ping checks connectivity
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisSink) Close() error {
	return s.client.Close()
}
