// pkg/services/archive.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"image-optimizer/pkg/models"

	"github.com/redis/go-redis/v9"
)

// MemoryArchive keeps the history in process, newest first
type MemoryArchive struct {
	mu      sync.Mutex
	entries []models.ArchivedMetrics
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (a *MemoryArchive) Push(_ context.Context, entry models.ArchivedMetrics, limit int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]models.ArchivedMetrics{entry}, a.entries...)
	if limit >= 0 && len(a.entries) > limit {
		a.entries = a.entries[:limit]
	}
	return nil
}

func (a *MemoryArchive) List(_ context.Context) ([]models.ArchivedMetrics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ArchivedMetrics, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

// RedisArchive shares the history between replicas as a capped Redis list
type RedisArchive struct {
	client redis.UniversalClient
	key    string
}

func NewRedisArchive(client redis.UniversalClient, key string) *RedisArchive {
	return &RedisArchive{client: client, key: key}
}

func (a *RedisArchive) Push(ctx context.Context, entry models.ArchivedMetrics, limit int) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error encoding archived metrics: %w", err)
	}

	pipe := a.client.TxPipeline()
	pipe.LPush(ctx, a.key, payload)
	if limit > 0 {
		pipe.LTrim(ctx, a.key, 0, int64(limit-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error archiving metrics to redis: %w", err)
	}
	return nil
}

func (a *RedisArchive) List(ctx context.Context) ([]models.ArchivedMetrics, error) {
	raw, err := a.client.LRange(ctx, a.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading metrics history from redis: %w", err)
	}

	out := make([]models.ArchivedMetrics, 0, len(raw))
	for _, item := range raw {
		var entry models.ArchivedMetrics
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
