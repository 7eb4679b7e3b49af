package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/services"
	"github.com/sheetbridge/sheetbridge-backend/internal/utils"
)

// versionTTL bounds how stale a cached version read can be. Jobs invalidate
// on bump, but a crashed worker must not pin a stale version forever.
const versionTTL = 2 * time.Second

type versionCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewVersionCache connects to REDIS_ADDR. Callers treat a missing address as
// "run without the cache", so the error is only for real connection failures.
func NewVersionCache(log *logger.Logger) (services.VersionCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &versionCache{
		log: log.With("service", "RedisVersionCache"),
		rdb: rdb,
	}, nil
}

func versionKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String() + ":version"
}

func (c *versionCache) Get(ctx context.Context, sessionID uuid.UUID) (int, bool) {
	val, err := c.rdb.Get(ctx, versionKey(sessionID)).Result()
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *versionCache) Set(ctx context.Context, sessionID uuid.UUID, version int) {
	if err := c.rdb.Set(ctx, versionKey(sessionID), version, versionTTL).Err(); err != nil {
		c.log.Debug("Version cache set failed", "session_id", sessionID, "error", err)
	}
}

func (c *versionCache) Invalidate(ctx context.Context, sessionID uuid.UUID) {
	if err := c.rdb.Del(ctx, versionKey(sessionID)).Err(); err != nil {
		c.log.Debug("Version cache invalidate failed", "session_id", sessionID, "error", err)
	}
}
