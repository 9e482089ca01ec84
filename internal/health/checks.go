package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/frameparser/internal/parser"
)

// StatsSource exposes parser counters.
type StatsSource interface {
	Stats() parser.Stats
}

// ParserChecker reports an unplayable stream as down and a stream that lost
// smooth reverse playback as degraded.
type ParserChecker struct {
	name   string
	source StatsSource
}

// NewParserChecker creates a checker for one parser instance.
func NewParserChecker(name string, source StatsSource) *ParserChecker {
	return &ParserChecker{name: name, source: source}
}

// Name returns the name of the checker.
func (p *ParserChecker) Name() string {
	return p.name
}

// Check inspects the parser state.
func (p *ParserChecker) Check(ctx context.Context) error {
	stats := p.source.Stats()
	switch {
	case stats.Unplayable:
		return fmt.Errorf("stream marked unplayable")
	case stats.SmoothReverseDisabled:
		return Degraded(fmt.Sprintf("smooth reverse disabled after %d failures", stats.ReverseFailures))
	}
	return nil
}

// Details returns the parser counters.
func (p *ParserChecker) Details() map[string]interface{} {
	stats := p.source.Stats()
	return map[string]interface{}{
		"frames_parsed":    stats.FramesParsed,
		"discarded":        stats.Discarded,
		"reference_frames": stats.ReferenceFrames,
		"deferred_depth":   stats.DeferredDepth,
		"direction":        stats.Direction,
	}
}

// PoolSource is a fixed-capacity buffer pool.
type PoolSource interface {
	Name() string
	Free() int
	Capacity() int
}

// PoolChecker reports an exhausted pool as degraded. Allocation failures are
// retried by the pipeline, so they never take the service down.
type PoolChecker struct {
	pool PoolSource
}

// NewPoolChecker creates a checker for pool.
func NewPoolChecker(pool PoolSource) *PoolChecker {
	return &PoolChecker{pool: pool}
}

// Name returns the name of the checker.
func (p *PoolChecker) Name() string {
	return "pool_" + p.pool.Name()
}

// Check reports whether any buffer is free.
func (p *PoolChecker) Check(ctx context.Context) error {
	if p.pool.Free() == 0 {
		return Degraded(fmt.Sprintf("all %d buffers in use", p.pool.Capacity()))
	}
	return nil
}

// Details returns pool occupancy.
func (p *PoolChecker) Details() map[string]interface{} {
	return map[string]interface{}{
		"free":     p.pool.Free(),
		"capacity": p.pool.Capacity(),
	}
}

// RedisChecker checks connectivity to the event store.
type RedisChecker struct {
	client *redis.Client
	name   string
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

// Name returns the name of the checker.
func (r *RedisChecker) Name() string {
	return r.name
}

// Check pings Redis.
func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Details returns connection pool statistics.
func (r *RedisChecker) Details() map[string]interface{} {
	if r.client == nil {
		return nil
	}
	stats := r.client.PoolStats()
	return map[string]interface{}{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
	}
}
