package database

import (
	"context"
	"sort"
	"sync"

	"github.com/teris-io/shortid"
)

type memoryRecord struct {
	seq     uint64
	comment Comment
}

// MemoryCommentRepository keeps comments in process memory. It backs local
// development and tests; nothing survives a restart.
type MemoryCommentRepository struct {
	mu         sync.RWMutex
	byId       map[string]*memoryRecord
	byTweet    map[string][]*memoryRecord
	seq        uint64
	generateId func() (string, error)
}

func NewMemoryCommentRepository() *MemoryCommentRepository {
	return &MemoryCommentRepository{
		byId:       make(map[string]*memoryRecord),
		byTweet:    make(map[string][]*memoryRecord),
		generateId: shortid.Generate,
	}
}

func (m *MemoryCommentRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryCommentRepository) CreateComment(ctx context.Context, params CreateCommentParams) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, persistenceErr("insert comment", err)
	}

	id, err := m.generateId()
	if err != nil {
		return Comment{}, persistenceErr("generate id", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	rec := &memoryRecord{
		seq: m.seq,
		comment: Comment{
			Id:           id,
			TweetId:      params.TweetId,
			UserId:       params.UserId,
			Username:     params.Username,
			ProfileImage: params.ProfileImage,
			Content:      params.Content,
			Timestamp:    params.Timestamp.UTC(),
		},
	}

	m.byId[id] = rec
	m.byTweet[params.TweetId] = append(m.byTweet[params.TweetId], rec)

	return rec.comment, nil
}

func (m *MemoryCommentRepository) GetCommentsByTweet(ctx context.Context, tweetId string, order SortOrder) CommentSeq {
	return func(yield func(Comment, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Comment{}, persistenceErr("find comments", err))
			return
		}

		m.mu.RLock()
		records := make([]memoryRecord, 0, len(m.byTweet[tweetId]))
		for _, rec := range m.byTweet[tweetId] {
			records = append(records, *rec)
		}
		m.mu.RUnlock()

		sort.SliceStable(records, func(i, j int) bool {
			a, b := records[i], records[j]
			if !a.comment.Timestamp.Equal(b.comment.Timestamp) {
				if order == Descending {
					return a.comment.Timestamp.After(b.comment.Timestamp)
				}
				return a.comment.Timestamp.Before(b.comment.Timestamp)
			}
			if order == Descending {
				return a.seq > b.seq
			}
			return a.seq < b.seq
		})

		for _, rec := range records {
			if !yield(rec.comment, nil) {
				return
			}
		}
	}
}

func (m *MemoryCommentRepository) DeleteComment(ctx context.Context, id, userId string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, persistenceErr("delete comment", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byId[id]
	if !ok {
		return Comment{}, ErrNotFound
	}

	if rec.comment.UserId != userId {
		return Comment{}, ErrForbidden
	}

	delete(m.byId, id)

	tweetId := rec.comment.TweetId
	remaining := m.byTweet[tweetId][:0]
	for _, r := range m.byTweet[tweetId] {
		if r != rec {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		delete(m.byTweet, tweetId)
	} else {
		m.byTweet[tweetId] = remaining
	}

	return rec.comment, nil
}

func (m *MemoryCommentRepository) Close() error {
	return nil
}
