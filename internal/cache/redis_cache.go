package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/config"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "tweetchat:comments"

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleGeneration is returned by Set when the listing was invalidated
	// after the caller captured its generation.
	ErrStaleGeneration = errors.New("stale cache generation")
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1].
var setIfGeneration = redis.NewScript(`
local cur = redis.call("GET", KEYS[2])
if not cur then cur = "0" end
if cur ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

type RedisCommentCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCommentCache(cfg config.RedisConfig, prefix string) (*RedisCommentCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisCommentCache(client, prefix), nil
}

func newRedisCommentCache(client *redis.Client, prefix string) *RedisCommentCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCommentCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCommentCache) BuildKey(tweetId string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, tweetId, database.Descending)
}

func (c *RedisCommentCache) GenerationKey(tweetId string) string {
	return fmt.Sprintf("%s:%s:gen", c.prefix, tweetId)
}

func (c *RedisCommentCache) Get(ctx context.Context, tweetId string) ([]database.Comment, error) {
	data, err := c.client.Get(ctx, c.BuildKey(tweetId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var comments []database.Comment
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return comments, nil
}

func (c *RedisCommentCache) Generation(ctx context.Context, tweetId string) (int64, error) {
	gen, err := c.client.Get(ctx, c.GenerationKey(tweetId)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get generation from redis: %w", err)
	}
	return gen, nil
}

func (c *RedisCommentCache) Set(ctx context.Context, tweetId string, gen int64, comments []database.Comment, ttl time.Duration) error {
	data, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	keys := []string{c.BuildKey(tweetId), c.GenerationKey(tweetId)}
	written, err := setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	if written == 0 {
		return ErrStaleGeneration
	}

	return nil
}

// Invalidate drops the cached listing and advances the generation so that
// reads started before the invalidation cannot repopulate it.
func (c *RedisCommentCache) Invalidate(ctx context.Context, tweetId string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.GenerationKey(tweetId))
	pipe.Del(ctx, c.BuildKey(tweetId))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate in redis: %w", err)
	}
	return nil
}

func (c *RedisCommentCache) Close() error {
	return c.client.Close()
}
