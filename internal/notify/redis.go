// Package notify publishes series tail revisions to a Redis stream.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/idhash"
)

// Default stream settings.
const (
	DefaultStream       = "dex:candles"
	DefaultStreamMaxLen = 10000
)

// RedisPublisher appends one stream entry per revised tail candle.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr string, logger *zap.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}

	logger = logger.Named("notify")
	logger.Info("connected to redis", zap.String("addr", addr), zap.String("stream", DefaultStream))
	return &RedisPublisher{client: rdb, stream: DefaultStream, maxLen: DefaultStreamMaxLen, logger: logger}, nil
}

// Stream returns the stream name entries are appended to.
func (p *RedisPublisher) Stream() string {
	return p.stream
}

// Publish appends the tail candle of key. The stream is capped approximately at maxLen.
func (p *RedisPublisher) Publish(ctx context.Context, key domain.SeriesKey, tail domain.Candle) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":      idhash.ComputeRevisionID(key, tail),
			"chainId": strconv.FormatInt(key.ChainID, 10),
			"token":   key.Token,
			"period":  key.Period.String(),
			"source":  key.Source.String(),
			"t":       strconv.FormatInt(tail.T, 10),
			"o":       strconv.FormatFloat(tail.O, 'f', -1, 64),
			"h":       strconv.FormatFloat(tail.H, 'f', -1, 64),
			"l":       strconv.FormatFloat(tail.L, 'f', -1, 64),
			"c":       strconv.FormatFloat(tail.C, 'f', -1, 64),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Health pings the server.
func (p *RedisPublisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
