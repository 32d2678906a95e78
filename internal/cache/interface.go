package cache

import (
	"context"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/database"
)

// CommentCache holds newest-first comment listings keyed by tweet id.
//
// Every Invalidate advances the tweet's generation. A reader captures the
// generation before querying the store and passes it to Set, which refuses
// the write once the generation has moved on.
type CommentCache interface {
	Get(ctx context.Context, tweetId string) ([]database.Comment, error)
	Generation(ctx context.Context, tweetId string) (int64, error)
	Set(ctx context.Context, tweetId string, gen int64, comments []database.Comment, ttl time.Duration) error
	Invalidate(ctx context.Context, tweetId string) error
	Close() error
}

// NopCache always misses. It is used when no Redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]database.Comment, error) {
	return nil, ErrCacheMiss
}

func (NopCache) Generation(context.Context, string) (int64, error) {
	return 0, nil
}

func (NopCache) Set(context.Context, string, int64, []database.Comment, time.Duration) error {
	return nil
}

func (NopCache) Invalidate(context.Context, string) error {
	return nil
}

func (NopCache) Close() error {
	return nil
}
