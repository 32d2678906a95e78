package cache

import (
	"context"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/stretchr/testify/mock"
)

type MockCommentCache struct {
	mock.Mock
}

func (m *MockCommentCache) Get(ctx context.Context, tweetId string) ([]database.Comment, error) {
	args := m.Called(ctx, tweetId)
	if comments, ok := args.Get(0).([]database.Comment); ok {
		return comments, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCommentCache) Generation(ctx context.Context, tweetId string) (int64, error) {
	args := m.Called(ctx, tweetId)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCommentCache) Set(ctx context.Context, tweetId string, gen int64, comments []database.Comment, ttl time.Duration) error {
	args := m.Called(ctx, tweetId, gen, comments, ttl)
	return args.Error(0)
}

func (m *MockCommentCache) Invalidate(ctx context.Context, tweetId string) error {
	args := m.Called(ctx, tweetId)
	return args.Error(0)
}

func (m *MockCommentCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
