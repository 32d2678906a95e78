package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	commentsCollection    = "comments"
	defaultConnectTimeout = 10 * time.Second
)

type mongoComment struct {
	Id           primitive.ObjectID `bson:"_id,omitempty"`
	TweetId      string             `bson:"tweetId"`
	UserId       string             `bson:"userId"`
	Username     string             `bson:"username"`
	ProfileImage string             `bson:"profileImage"`
	Content      string             `bson:"content"`
	Timestamp    time.Time          `bson:"timestamp"`
}

func (m mongoComment) toComment() Comment {
	return Comment{
		Id:           m.Id.Hex(),
		TweetId:      m.TweetId,
		UserId:       m.UserId,
		Username:     m.Username,
		ProfileImage: m.ProfileImage,
		Content:      m.Content,
		Timestamp:    m.Timestamp.UTC(),
	}
}

type MongoCommentRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoCommentRepository(ctx context.Context, uri, dbName string, connectTimeout time.Duration) (*MongoCommentRepository, error) {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	repo := &MongoCommentRepository{
		client: client,
		coll:   client.Database(dbName).Collection(commentsCollection),
	}

	if err := repo.ensureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return repo, nil
}

func (r *MongoCommentRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tweetId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create comment index: %w", err)
	}
	return nil
}

func (r *MongoCommentRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return persistenceErr("ping", err)
	}
	return nil
}

func (r *MongoCommentRepository) CreateComment(ctx context.Context, params CreateCommentParams) (Comment, error) {
	doc := mongoComment{
		Id:           primitive.NewObjectID(),
		TweetId:      params.TweetId,
		UserId:       params.UserId,
		Username:     params.Username,
		ProfileImage: params.ProfileImage,
		Content:      params.Content,
		Timestamp:    params.Timestamp,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return Comment{}, persistenceErr("insert comment", err)
	}

	return doc.toComment(), nil
}

func (r *MongoCommentRepository) GetCommentsByTweet(ctx context.Context, tweetId string, order SortOrder) CommentSeq {
	return func(yield func(Comment, error) bool) {
		dir := 1
		if order == Descending {
			dir = -1
		}

		opts := options.Find().SetSort(bson.D{
			{Key: "timestamp", Value: dir},
			{Key: "_id", Value: dir},
		})

		cur, err := r.coll.Find(ctx, bson.D{{Key: "tweetId", Value: tweetId}}, opts)
		if err != nil {
			yield(Comment{}, persistenceErr("find comments", err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc mongoComment
			if err := cur.Decode(&doc); err != nil {
				yield(Comment{}, persistenceErr("decode comment", err))
				return
			}

			if !yield(doc.toComment(), nil) {
				return
			}
		}

		if err := cur.Err(); err != nil {
			yield(Comment{}, persistenceErr("iterate comments", err))
		}
	}
}

func (r *MongoCommentRepository) DeleteComment(ctx context.Context, id, userId string) (Comment, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Comment{}, ErrNotFound
	}

	var doc mongoComment
	err = r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Comment{}, ErrNotFound
		}
		return Comment{}, persistenceErr("find comment", err)
	}

	if doc.UserId != userId {
		return Comment{}, ErrForbidden
	}

	res, err := r.coll.DeleteOne(ctx, bson.D{
		{Key: "_id", Value: oid},
		{Key: "userId", Value: userId},
	})
	if err != nil {
		return Comment{}, persistenceErr("delete comment", err)
	}

	if res.DeletedCount == 0 {
		return Comment{}, ErrNotFound
	}

	return doc.toComment(), nil
}

func (r *MongoCommentRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
