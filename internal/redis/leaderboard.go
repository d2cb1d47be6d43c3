package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/candy-clash/internal/config"
	"github.com/candy-clash/internal/domain"
)

// Leaderboard provides Redis-backed live tournament rankings. Scores are
// attempt times in milliseconds; lower is better, so rankings read
// ascending. Postgres stays the source of truth for settlement; this cache
// only serves live reads.
type Leaderboard struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboard creates a new Redis leaderboard cache
func NewLeaderboard(cfg *config.RedisConfig, logger *slog.Logger) (*Leaderboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Leaderboard{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (l *Leaderboard) Close() error {
	return l.client.Close()
}

// timesKey returns the Redis key for a period's attempt-time sorted set
func (l *Leaderboard) timesKey(periodID string) string {
	return fmt.Sprintf("candyclash:%s:times", periodID)
}

// nameKey returns the Redis key for a player's display name cache
func (l *Leaderboard) nameKey(userID string) string {
	return fmt.Sprintf("candyclash:player:%s:name", userID)
}

// RecordTime stores a player's attempt time, keeping only their best
// (lowest) time for the period. Returns whether the stored time improved.
func (l *Leaderboard) RecordTime(ctx context.Context, periodID, userID string, timeMs int64) (bool, error) {
	key := l.timesKey(periodID)

	current, err := l.client.ZScore(ctx, key, userID).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("getting current time: %w", err)
	}

	if err != redis.Nil && float64(timeMs) >= current {
		return false, nil
	}

	err = l.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(timeMs),
		Member: userID,
	}).Err()
	if err != nil {
		return false, fmt.Errorf("recording time: %w", err)
	}
	return true, nil
}

// CacheDisplayName stores a player's display name for leaderboard reads
func (l *Leaderboard) CacheDisplayName(ctx context.Context, userID, displayName string, ttl time.Duration) error {
	err := l.client.Set(ctx, l.nameKey(userID), displayName, ttl).Err()
	if err != nil {
		return fmt.Errorf("caching display name: %w", err)
	}
	return nil
}

// TopN returns the best N entries for a period, fastest first
func (l *Leaderboard) TopN(ctx context.Context, periodID string, n int) ([]domain.LeaderboardEntry, error) {
	key := l.timesKey(periodID)
	results, err := l.client.ZRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Fetch cached display names in one pipeline round trip.
	pipe := l.client.Pipeline()
	nameCmds := make([]*redis.StringCmd, len(results))
	for i, result := range results {
		nameCmds[i] = pipe.Get(ctx, l.nameKey(result.Member.(string)))
	}
	_, _ = pipe.Exec(ctx)

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		userID := result.Member.(string)
		displayName := userID
		if name, err := nameCmds[i].Result(); err == nil && name != "" {
			displayName = name
		}
		entries[i] = domain.LeaderboardEntry{
			UserID:      userID,
			DisplayName: displayName,
			TimeMs:      int64(result.Score),
		}
	}
	return entries, nil
}

// Rank returns a player's 1-based rank and best time for a period
func (l *Leaderboard) Rank(ctx context.Context, periodID, userID string) (int64, int64, error) {
	key := l.timesKey(periodID)

	pipe := l.client.Pipeline()
	rankCmd := pipe.ZRank(ctx, key, userID)
	scoreCmd := pipe.ZScore(ctx, key, userID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		if err == redis.Nil {
			return 0, 0, domain.ErrPlayerNotFound
		}
		return 0, 0, fmt.Errorf("getting rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return 0, 0, domain.ErrPlayerNotFound
		}
		return 0, 0, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return 0, 0, fmt.Errorf("getting time result: %w", err)
	}

	// Redis ranks are 0-indexed
	return rank + 1, int64(score), nil
}

// Count returns the number of ranked players in a period
func (l *Leaderboard) Count(ctx context.Context, periodID string) (int64, error) {
	count, err := l.client.ZCard(ctx, l.timesKey(periodID)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// DropPeriod removes a settled period's live ranking
func (l *Leaderboard) DropPeriod(ctx context.Context, periodID string) error {
	if err := l.client.Del(ctx, l.timesKey(periodID)).Err(); err != nil {
		return fmt.Errorf("dropping period ranking: %w", err)
	}
	return nil
}
