package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

const createCommentsTable = `
CREATE TABLE IF NOT EXISTS comments (
	id            BIGSERIAL PRIMARY KEY,
	tweet_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	username      TEXT NOT NULL DEFAULT '',
	profile_image TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS comments_tweet_id_created_at_idx ON comments (tweet_id, created_at, id);`

type PgCommentRepository struct {
	conn *sql.DB
}

func NewPgCommentRepository(ctx context.Context, dsn string, connectTimeout time.Duration) (*PgCommentRepository, error) {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(pingCtx, createCommentsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create comments table: %w", err)
	}

	return &PgCommentRepository{conn: db}, nil
}

func (db *PgCommentRepository) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return persistenceErr("ping", err)
	}
	return nil
}

func (db *PgCommentRepository) CreateComment(ctx context.Context, params CreateCommentParams) (Comment, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO comments (tweet_id, user_id, username, profile_image, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		params.TweetId,
		params.UserId,
		params.Username,
		params.ProfileImage,
		params.Content,
		params.Timestamp,
	)

	var id int64
	if err := res.Scan(&id); err != nil {
		return Comment{}, persistenceErr("insert comment", err)
	}

	return Comment{
		Id:           strconv.FormatInt(id, 10),
		TweetId:      params.TweetId,
		UserId:       params.UserId,
		Username:     params.Username,
		ProfileImage: params.ProfileImage,
		Content:      params.Content,
		Timestamp:    params.Timestamp,
	}, nil
}

func (db *PgCommentRepository) GetCommentsByTweet(ctx context.Context, tweetId string, order SortOrder) CommentSeq {
	query := "SELECT id, tweet_id, user_id, username, profile_image, content, created_at FROM comments " +
		"WHERE tweet_id = $1 ORDER BY created_at ASC, id ASC"
	if order == Descending {
		query = "SELECT id, tweet_id, user_id, username, profile_image, content, created_at FROM comments " +
			"WHERE tweet_id = $1 ORDER BY created_at DESC, id DESC"
	}

	return func(yield func(Comment, error) bool) {
		rows, err := db.conn.QueryContext(ctx, query, tweetId)
		if err != nil {
			yield(Comment{}, persistenceErr("query comments", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  int64
				cmt Comment
			)
			if err := rows.Scan(&id, &cmt.TweetId, &cmt.UserId, &cmt.Username, &cmt.ProfileImage, &cmt.Content, &cmt.Timestamp); err != nil {
				yield(Comment{}, persistenceErr("scan comment", err))
				return
			}
			cmt.Id = strconv.FormatInt(id, 10)
			cmt.Timestamp = cmt.Timestamp.UTC()

			if !yield(cmt, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Comment{}, persistenceErr("iterate comments", err))
		}
	}
}

func (db *PgCommentRepository) DeleteComment(ctx context.Context, id, userId string) (Comment, error) {
	numericId, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Comment{}, ErrNotFound
	}

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, tweet_id, user_id, username, profile_image, content, created_at FROM comments "+
			"WHERE id = $1 LIMIT 1",
		numericId,
	)

	var cmt Comment
	var rowId int64
	err = row.Scan(&rowId, &cmt.TweetId, &cmt.UserId, &cmt.Username, &cmt.ProfileImage, &cmt.Content, &cmt.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, ErrNotFound
		}
		return Comment{}, persistenceErr("find comment", err)
	}
	cmt.Id = strconv.FormatInt(rowId, 10)

	if cmt.UserId != userId {
		return Comment{}, ErrForbidden
	}

	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM comments WHERE id = $1 AND user_id = $2",
		numericId,
		userId,
	)
	if err != nil {
		return Comment{}, persistenceErr("delete comment", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Comment{}, ErrNotFound
	}

	return cmt, nil
}

func (db *PgCommentRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
