package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "harmonics:cache:"

// Remote is an optional Redis-backed second level behind the local LRU.
// The local level remains authoritative for capacity and hit/miss
// accounting; the remote level only shortens cold starts across
// processes. Remote failures are logged and treated as misses.
type Remote struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRemote creates a remote cache level.
func NewRemote(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Remote {
	if ttl == 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{rdb: rdb, ttl: ttl, logger: logger.With(zap.String("component", "remote_cache"))}
}

// Get fetches the raw bytes stored under key.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("remote cache get failed", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// Put stores raw bytes under key with the configured TTL.
func (r *Remote) Put(ctx context.Context, key string, data []byte) {
	if err := r.rdb.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Debug("remote cache put failed", zap.Error(err))
	}
}
