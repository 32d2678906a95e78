package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/config"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisCommentCache_BuildKey(t *testing.T) {
	tcases := []struct {
		name    string
		prefix  string
		tweetId string
		expect  string
		gen     string
	}{
		{name: "default prefix", prefix: "", tweetId: "t1", expect: "tweetchat:comments:t1:desc", gen: "tweetchat:comments:t1:gen"},
		{name: "custom prefix", prefix: "test", tweetId: "abc", expect: "test:abc:desc", gen: "test:abc:gen"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := newRedisCommentCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), tc.prefix)
			defer c.Close()

			assert.Equal(t, tc.expect, c.BuildKey(tc.tweetId))
			assert.Equal(t, tc.gen, c.GenerationKey(tc.tweetId))
		})
	}
}

func TestNopCache(t *testing.T) {
	var c CommentCache = NopCache{}
	ctx := context.Background()

	gen, err := c.Generation(ctx, "t1")
	assert.NoError(t, err)
	assert.NoError(t, c.Set(ctx, "t1", gen, []database.Comment{{Id: "1"}}, time.Minute))

	_, err = c.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrCacheMiss, "expected nop cache to always miss")
	assert.NoError(t, c.Invalidate(ctx, "t1"))
	assert.NoError(t, c.Close())
}

// TestRedisCommentCache_RoundTrip needs a live server; set TWEETCHAT_TEST_REDIS to its address.
func TestRedisCommentCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("TWEETCHAT_TEST_REDIS")
	if addr == "" {
		t.Skip("TWEETCHAT_TEST_REDIS not set")
	}

	c, err := NewRedisCommentCache(config.RedisConfig{Address: addr}, "tweetchat-test")
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	tweetId := "roundtrip"
	defer c.client.Del(ctx, c.BuildKey(tweetId), c.GenerationKey(tweetId))

	_, err = c.Get(ctx, tweetId)
	assert.ErrorIs(t, err, ErrCacheMiss)

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	want := []database.Comment{{Id: "1", TweetId: tweetId, UserId: "u1", Content: "hi", Timestamp: ts}}
	gen, err := c.Generation(ctx, tweetId)
	assert.NoError(t, err)
	assert.NoError(t, c.Set(ctx, tweetId, gen, want, time.Minute))

	got, err := c.Get(ctx, tweetId)
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	assert.NoError(t, c.Invalidate(ctx, tweetId))
	_, err = c.Get(ctx, tweetId)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// a read that began before the invalidation must not repopulate the listing
	assert.ErrorIs(t, c.Set(ctx, tweetId, gen, want, time.Minute), ErrStaleGeneration)
	_, err = c.Get(ctx, tweetId)
	assert.ErrorIs(t, err, ErrCacheMiss)

	next, err := c.Generation(ctx, tweetId)
	assert.NoError(t, err)
	assert.Equal(t, gen+1, next)
	assert.NoError(t, c.Set(ctx, tweetId, next, want, time.Minute))
}
