package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/util"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

type Cache interface {
	Get(ctx context.Context, token string) (*database.User, bool, error)
	Set(ctx context.Context, token string, user *database.User, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// NewCache creates the cache selected by session.cache.type.
func NewCache(ctx context.Context, config *core.ServerConfig) (Cache, error) {
	switch config.Session.Cache.Type {
	case "memory", "":
		return NewMemoryCache(), nil
	case "redis":
		redisConfig := config.Session.Cache.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     redisConfig.Address,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "unable to reach redis at %s", redisConfig.Address)
		}
		return NewRedisCache(client), nil
	}
	return nil, fmt.Errorf("unknown session cache type \"%s\"", config.Session.Cache.Type)
}

type cacheEntry struct {
	user    database.User
	expires time.Time
}

type MemoryCache struct {
	entries *util.MutexMap[string, cacheEntry]
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: util.NewMutexMap[string, cacheEntry]()}
}

func (c *MemoryCache) Get(ctx context.Context, token string) (*database.User, bool, error) {
	entry, ok := c.entries.Get(token)
	if !ok {
		return nil, false, nil
	}
	if !time.Now().Before(entry.expires) {
		c.entries.Delete(token)
		return nil, false, nil
	}
	user := entry.user
	return &user, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, token string, user *database.User, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.entries.Set(token, cacheEntry{user: *user, expires: time.Now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, token string) error {
	c.entries.Delete(token)
	return nil
}

// RedisCache shares validated sessions between server processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "session:"}
}

func (c *RedisCache) Get(ctx context.Context, token string) (*database.User, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+token).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	var user database.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, false, errors.Wrap(err, "corrupt cached session")
	}
	return &user, true, nil
}

func (c *RedisCache) Set(ctx context.Context, token string, user *database.User, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+token, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, c.prefix+token).Err()
}
