package comment

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/npezzotti/go-tweetchat/internal/cache"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/logger"
	"github.com/npezzotti/go-tweetchat/internal/stats"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const cacheWriteTimeout = 2 * time.Second

// Service is the comment store as seen by the realtime gateway and the REST API.
type Service interface {
	Create(ctx context.Context, params CreateParams) (database.Comment, error)
	FindByTweet(ctx context.Context, tweetId string, order database.SortOrder) database.CommentSeq
	ListByTweet(ctx context.Context, tweetId string) ([]database.Comment, error)
	DeleteById(ctx context.Context, id, requestingUserId string) (database.Comment, error)
	Ping(ctx context.Context) error
}

type CreateParams struct {
	TweetId      string
	UserId       string
	Username     string
	ProfileImage string
	Content      string
}

type Store struct {
	repo     database.CommentRepository
	cache    cache.CommentCache
	cacheTTL time.Duration
	sf       singleflight.Group
	policy   *bluemonday.Policy
	validate *validator.Validate
	stats    stats.StatsProvider
	log      zerolog.Logger

	clockMu sync.Mutex
	last    time.Time
	now     func() time.Time
}

func NewStore(repo database.CommentRepository, c cache.CommentCache, cacheTTL time.Duration, su stats.StatsProvider, l zerolog.Logger) *Store {
	if c == nil {
		c = cache.NopCache{}
	}

	su.RegisterMetric(stats.CommentsCreated)
	su.RegisterMetric(stats.CommentsDeleted)

	return &Store{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		policy:   bluemonday.StrictPolicy(),
		validate: validator.New(),
		stats:    su,
		log:      l,
		now:      time.Now,
	}
}

// Create cleans and validates params, stamps the comment and persists it.
func (s *Store) Create(ctx context.Context, params CreateParams) (database.Comment, error) {
	p := database.CreateCommentParams{
		TweetId:      strings.TrimSpace(params.TweetId),
		UserId:       strings.TrimSpace(params.UserId),
		Username:     params.Username,
		ProfileImage: params.ProfileImage,
		Content:      s.clean(params.Content),
	}

	if err := s.validate.Struct(p); err != nil {
		return database.Comment{}, toValidationError(err)
	}

	p.Timestamp = s.nextTimestamp()

	cmt, err := s.repo.CreateComment(ctx, p)
	if err != nil {
		return database.Comment{}, asPersistence("create comment", err)
	}

	s.invalidate(ctx, cmt.TweetId)
	s.stats.Incr(stats.CommentsCreated)

	return cmt, nil
}

// FindByTweet returns the lazy, restartable sequence of a tweet's comments.
func (s *Store) FindByTweet(ctx context.Context, tweetId string, order database.SortOrder) database.CommentSeq {
	return s.repo.GetCommentsByTweet(ctx, tweetId, order)
}

// ListByTweet returns a tweet's comments newest first, served from the cache
// when possible. Concurrent misses for one tweet share a single query.
func (s *Store) ListByTweet(ctx context.Context, tweetId string) ([]database.Comment, error) {
	result, err, _ := s.sf.Do(tweetId, func() (interface{}, error) {
		return s.fetchWithCache(ctx, tweetId)
	})
	if err != nil {
		return nil, err
	}

	comments, ok := result.([]database.Comment)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}

	return comments, nil
}

func (s *Store) fetchWithCache(ctx context.Context, tweetId string) ([]database.Comment, error) {
	l := logger.Ctx(ctx, s.log)

	cached, err := s.cache.Get(ctx, tweetId)
	if err == nil {
		return cached, nil
	}

	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(logger.FieldTweetID, tweetId).Msg("cache get error")
	}

	// captured before the query so a write landing in between voids the Set
	gen, genErr := s.cache.Generation(ctx, tweetId)
	if genErr != nil {
		l.Warn().Err(genErr).Str(logger.FieldTweetID, tweetId).Msg("cache generation error")
	}

	comments, err := database.Collect(s.repo.GetCommentsByTweet(ctx, tweetId, database.Descending))
	if err != nil {
		return nil, asPersistence("list comments", err)
	}

	if genErr != nil {
		return comments, nil
	}

	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Set(cacheCtx, tweetId, gen, comments, s.cacheTTL); err != nil {
		if errors.Is(err, cache.ErrStaleGeneration) {
			l.Debug().Str(logger.FieldTweetID, tweetId).Msg("skipped caching listing invalidated during read")
		} else {
			l.Warn().Err(err).Str(logger.FieldTweetID, tweetId).Msg("cache set error")
		}
	}

	return comments, nil
}

// DeleteById removes a comment on behalf of requestingUserId, who must be its author.
func (s *Store) DeleteById(ctx context.Context, id, requestingUserId string) (database.Comment, error) {
	cmt, err := s.repo.DeleteComment(ctx, id, requestingUserId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrForbidden) {
			return database.Comment{}, err
		}
		return database.Comment{}, asPersistence("delete comment", err)
	}

	s.invalidate(ctx, cmt.TweetId)
	s.stats.Incr(stats.CommentsDeleted)

	return cmt, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Store) invalidate(ctx context.Context, tweetId string) {
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	if err := s.cache.Invalidate(cacheCtx, tweetId); err != nil {
		l := logger.Ctx(ctx, s.log)
		l.Warn().Err(err).Str(logger.FieldTweetID, tweetId).Msg("cache invalidate error")
	}
}

// clean strips markup and surrounding whitespace. Entities produced by the
// sanitizer are decoded again since comments are stored as plain text.
func (s *Store) clean(content string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(content)))
}

// nextTimestamp returns the current time at millisecond precision, never
// earlier than the previously issued timestamp.
func (s *Store) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	ts := s.now().UTC().Truncate(time.Millisecond)
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts

	return ts
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &database.ValidationError{Field: "comment", Reason: err.Error()}
	}

	fe := verrs[0]
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	}

	return &database.ValidationError{Field: fe.Field(), Reason: reason}
}

func asPersistence(op string, err error) error {
	if errors.Is(err, database.ErrPersistence) {
		return err
	}
	return &database.PersistenceError{Op: op, Err: err}
}
