// Package analytics keeps per-rule firing counters in Redis, one counter per
// time bucket of the rule's configured window.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/easy-automation/internal/domain"
)

const keyPrefix = "easyauto:analytics"

// Bucket is the firing count of one window starting at Start.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Record is best-effort: failures are logged and never reach the caller.
func (s *RedisSink) Record(ctx context.Context, firing domain.Firing, config domain.AnalyticsConfig) {
	if err := s.Write(ctx, firing, config); err != nil {
		log.Printf("analytics: rule=%s firing=%s write failed: %v", firing.RuleID, firing.ID, err)
	}
}

// Write counts the firing in the bucket its scheduled time falls into and
// refreshes the bucket's TTL to the retention.
func (s *RedisSink) Write(ctx context.Context, firing domain.Firing, config domain.AnalyticsConfig) error {
	if !config.Enabled {
		return nil
	}

	key := bucketKey(firing.ProjectID, firing.RuleID, bucketStart(firing.ScheduledAt, config.Window))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, config.Retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis incr %s: %w", key, err)
	}
	return nil
}

// Series returns the n buckets ending with the one containing end, oldest
// first. Expired or never-written buckets count zero.
func (s *RedisSink) Series(ctx context.Context, projectID, ruleID uuid.UUID, window time.Duration, end time.Time, n int) ([]Bucket, error) {
	if n <= 0 {
		return nil, nil
	}
	window = normalizeWindow(window)
	last := bucketStart(end, window)

	buckets := make([]Bucket, n)
	keys := make([]string, n)
	for i := range buckets {
		start := last.Add(-time.Duration(n-1-i) * window)
		buckets[i].Start = start
		keys[i] = bucketKey(projectID, ruleID, start)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		count, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", keys[i], err)
		}
		buckets[i].Count = count
	}
	return buckets, nil
}

func bucketKey(projectID, ruleID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, projectID, ruleID, start.Unix())
}

// bucketStart aligns t to the window in UTC, so buckets line up across
// instances regardless of local time zone.
func bucketStart(t time.Time, window time.Duration) time.Time {
	return t.UTC().Truncate(normalizeWindow(window))
}

func normalizeWindow(window time.Duration) time.Duration {
	if window < time.Minute {
		return time.Minute
	}
	return window
}
