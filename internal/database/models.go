package database

import (
	"iter"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/types"
)

type SortOrder int

const (
	// Ascending is oldest first, used for room history replay.
	Ascending SortOrder = iota
	// Descending is newest first, used for REST listings.
	Descending
)

func (o SortOrder) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

type Comment struct {
	Id           string
	TweetId      string
	UserId       string
	Username     string
	ProfileImage string
	Content      string
	Timestamp    time.Time
}

func (c Comment) Public() types.Comment {
	return types.Comment{
		Id:           c.Id,
		TweetId:      c.TweetId,
		UserId:       c.UserId,
		Username:     c.Username,
		ProfileImage: c.ProfileImage,
		Content:      c.Content,
		Timestamp:    c.Timestamp,
	}
}

type CreateCommentParams struct {
	TweetId      string `validate:"required"`
	UserId       string `validate:"required"`
	Username     string
	ProfileImage string
	Content      string `validate:"required,max=2000"`
	Timestamp    time.Time
}

// CommentSeq is a lazy sequence of comments. Each range over it re-runs the
// underlying query, so a sequence may be iterated more than once. A non-nil
// error is always the last element yielded.
type CommentSeq = iter.Seq2[Comment, error]

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq CommentSeq) ([]Comment, error) {
	comments := make([]Comment, 0)
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// SliceSeq returns a sequence over a fixed slice of comments.
func SliceSeq(comments []Comment) CommentSeq {
	return func(yield func(Comment, error) bool) {
		for _, c := range comments {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// ErrSeq returns a sequence that yields only err.
func ErrSeq(err error) CommentSeq {
	return func(yield func(Comment, error) bool) {
		yield(Comment{}, err)
	}
}
