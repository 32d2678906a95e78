package database

import "context"

type CommentRepository interface {
	Ping(ctx context.Context) error
	CreateComment(ctx context.Context, params CreateCommentParams) (Comment, error)
	GetCommentsByTweet(ctx context.Context, tweetId string, order SortOrder) CommentSeq
	// DeleteComment removes the comment if userId is its author and returns
	// the removed record.
	DeleteComment(ctx context.Context, id, userId string) (Comment, error)
	Close() error
}
