package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCommentRepository struct {
	mock.Mock
}

func (m *MockCommentRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCommentRepository) CreateComment(ctx context.Context, params CreateCommentParams) (Comment, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Comment), args.Error(1)
}

// GetCommentsByTweet accepts either a []Comment or a CommentSeq as the first
// return value; an error in the second position produces an ErrSeq.
func (m *MockCommentRepository) GetCommentsByTweet(ctx context.Context, tweetId string, order SortOrder) CommentSeq {
	args := m.Called(ctx, tweetId, order)
	if err := args.Error(1); err != nil {
		return ErrSeq(err)
	}
	switch v := args.Get(0).(type) {
	case CommentSeq:
		return v
	case []Comment:
		return SliceSeq(v)
	default:
		return SliceSeq(nil)
	}
}

func (m *MockCommentRepository) DeleteComment(ctx context.Context, id, userId string) (Comment, error) {
	args := m.Called(ctx, id, userId)
	return args.Get(0).(Comment), args.Error(1)
}

func (m *MockCommentRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
