package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/stats"
	"github.com/npezzotti/go-tweetchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/time/rate"
)

// permissiveStats accepts any metric update.
func permissiveStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestStore(t *testing.T, repo database.CommentRepository) *comment.Store {
	return comment.NewStore(repo, nil, time.Minute, permissiveStats(), testutil.TestLogger(t))
}

func newTestClient(t *testing.T, cs *ChatServer, userId string) *Client {
	return NewClient(context.Background(), auth.Identity{UserId: userId}, nil, cs, testutil.TestLogger(t))
}

// drain returns every message queued for c without blocking.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func acks(msgs []*ServerMessage) []*Ack {
	var out []*Ack
	for _, m := range msgs {
		if m.Ack != nil {
			out = append(out, m.Ack)
		}
	}
	return out
}

func received(msgs []*ServerMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.ReceiveComment != nil {
			out = append(out, m.ReceiveComment.Content)
		}
	}
	return out
}

func history(msgs []*ServerMessage) *History {
	for _, m := range msgs {
		if m.LoadPreviousMessages != nil {
			return m.LoadPreviousMessages
		}
	}
	return nil
}

func join(c *Client, id int, tweetId string) {
	c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: id}, JoinRoom: &JoinRoom{TweetId: tweetId}})
}

func send(c *Client, id int, payload SendComment) {
	c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: id}, SendComment: &payload})
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1, "expected a message to be sent to the client")
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})

	t.Run("stopped client", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		c.stopClient()
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected a stopped client to refuse messages")
		assert.Len(t, c.send, 0)
	})
}

func Test_serializeMessage(t *testing.T) {
	message := AckOK(1)

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","ack":{"success":true,"code":200}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestNewClient(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	identity := auth.Identity{UserId: "u1", Username: "alice"}

	c := NewClient(context.Background(), identity, nil, cs, testutil.TestLogger(t))

	assert.NotEmpty(t, c.Id(), "expected a connection id")
	assert.Equal(t, identity, c.identity)
	assert.Equal(t, cs, c.chatServer)
	assert.NotNil(t, c.limiter)
	assert.Equal(t, sendBufferSize, cap(c.send))

	other := NewClient(context.Background(), identity, nil, cs, testutil.TestLogger(t))
	assert.NotEqual(t, c.Id(), other.Id(), "expected connection ids to be unique")
}

func Test_handleMessage_Unknown(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	c := newTestClient(t, cs, "u1")

	c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 4}})

	msgs := drain(c)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 4, msgs[0].Id)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Ack.Code)
	assert.Equal(t, "invalid message format", msgs[0].Ack.Error)
}

func TestScenario_SendBroadcastReplay(t *testing.T) {
	repo := database.NewMemoryCommentRepository()
	cs := newTestChatServer(t, newTestStore(t, repo), permissiveStats())
	a := newTestClient(t, cs, "userA")
	b := newTestClient(t, cs, "userB")

	join(a, 1, "t1")
	join(b, 1, "t1")
	drain(a)
	drain(b)

	send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Username: "alice", Content: "hi"})

	aMsgs := drain(a)
	assert.Equal(t, []*Ack{{Success: true, Code: http.StatusOK}}, acks(aMsgs), "expected a success ack to the sender")
	assert.Equal(t, 2, aMsgs[0].Id, "expected ack to echo the request id")
	assert.Equal(t, []string{"hi"}, received(aMsgs), "expected the sender to receive the broadcast")

	bMsgs := drain(b)
	assert.Empty(t, acks(bMsgs), "expected no ack to other members")
	assert.Equal(t, []string{"hi"}, received(bMsgs))

	stored := bMsgs[0].ReceiveComment
	assert.NotEmpty(t, stored.Id, "expected the persisted record to be broadcast")
	assert.Equal(t, "userA", stored.UserId)
	assert.Equal(t, "alice", stored.Username)

	c := newTestClient(t, cs, "userC")
	join(c, 9, "t1")

	cMsgs := drain(c)
	h := history(cMsgs)
	if assert.NotNil(t, h, "expected history replay") {
		assert.Equal(t, "t1", h.TweetId)
		assert.Len(t, h.Comments, 1)
		assert.Equal(t, "hi", h.Comments[0].Content)
		assert.Equal(t, stored.Id, h.Comments[0].Id)
	}
	assert.Equal(t, []*Ack{{Success: true, Code: http.StatusOK}}, acks(cMsgs))

	// replay goes to the joiner only
	assert.Empty(t, drain(a))
	assert.Empty(t, drain(b))
}

func TestScenario_JoinEmptyRoom(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	d := newTestClient(t, cs, "userD")

	join(d, 1, "t2")

	msgs := drain(d)
	h := history(msgs)
	if assert.NotNil(t, h) {
		assert.Equal(t, "t2", h.TweetId)
		assert.NotNil(t, h.Comments, "expected an empty array, not null")
		assert.Empty(t, h.Comments)
	}
	assert.Equal(t, []*Ack{{Success: true, Code: http.StatusOK}}, acks(msgs))
	assert.True(t, cs.rooms.IsMember(d, "t2"))
}

func TestJoinRoom_Idempotent(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := newTestClient(t, cs, "userA")
	b := newTestClient(t, cs, "userB")

	join(b, 1, "t1")
	join(b, 2, "t1")
	drain(b)

	send(a, 1, SendComment{TweetId: "t1", UserId: "userA", Content: "once"})

	assert.Equal(t, []string{"once"}, received(drain(b)), "expected exactly one copy of the broadcast")
	assert.Empty(t, received(drain(a)), "expected a non-member sender to get only the ack")
}

func TestJoinRoom_MissingTweetId(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	c := newTestClient(t, cs, "u1")

	join(c, 1, "  ")

	msgs := drain(c)
	assert.Equal(t, []*Ack{{Success: false, Code: http.StatusBadRequest, Error: "tweetId is required"}}, acks(msgs))
	assert.Nil(t, history(msgs))
	assert.Equal(t, 0, cs.rooms.Len())
}

func TestJoinRoom_ReplayFailureKeepsMembership(t *testing.T) {
	repo := &database.MockCommentRepository{}
	defer repo.AssertExpectations(t)
	repo.On("GetCommentsByTweet", mock.Anything, "t1", database.Ascending).
		Return(nil, &database.PersistenceError{Op: "find comments", Err: errors.New("timeout")}).Once()

	cs := newTestChatServer(t, newTestStore(t, repo), permissiveStats())
	c := newTestClient(t, cs, "u1")

	join(c, 3, "t1")

	msgs := drain(c)
	assert.Nil(t, history(msgs), "expected no partial replay")
	assert.Equal(t, []*Ack{{Success: false, Code: http.StatusInternalServerError, Error: "comment store unavailable"}}, acks(msgs))
	assert.True(t, cs.rooms.IsMember(c, "t1"), "expected the connection to stay joined")
}

func TestSendComment_Rejected(t *testing.T) {
	tcases := []struct {
		name    string
		payload SendComment
		code    int
		errMsg  string
	}{
		{
			name:    "missing tweet id",
			payload: SendComment{UserId: "userA", Content: "hi"},
			code:    http.StatusBadRequest,
			errMsg:  "tweetId is required",
		},
		{
			name:    "empty after trim",
			payload: SendComment{TweetId: "t1", UserId: "userA", Content: "   "},
			code:    http.StatusBadRequest,
			errMsg:  "content is required",
		},
		{
			name:    "missing user id",
			payload: SendComment{TweetId: "t1", Content: "hi"},
			code:    http.StatusBadRequest,
			errMsg:  "userId is required",
		},
		{
			name:    "impersonation",
			payload: SendComment{TweetId: "t1", UserId: "userB", Content: "hi"},
			code:    http.StatusForbidden,
			errMsg:  "forbidden",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			repo := database.NewMemoryCommentRepository()
			cs := newTestChatServer(t, newTestStore(t, repo), permissiveStats())
			a := newTestClient(t, cs, "userA")
			b := newTestClient(t, cs, "userB")
			join(a, 1, "t1")
			join(b, 1, "t1")
			drain(a)
			drain(b)

			send(a, 2, tc.payload)

			aMsgs := drain(a)
			assert.Equal(t, []*Ack{{Success: false, Code: tc.code, Error: tc.errMsg}}, acks(aMsgs))
			assert.Empty(t, received(aMsgs), "expected no broadcast to the sender")
			assert.Empty(t, drain(b), "expected no broadcast to the room")

			stored, err := database.Collect(repo.GetCommentsByTweet(context.Background(), "t1", database.Ascending))
			assert.NoError(t, err)
			assert.Empty(t, stored, "expected nothing persisted")
		})
	}
}

func TestSendComment_PersistenceFailure(t *testing.T) {
	repo := &database.MockCommentRepository{}
	defer repo.AssertExpectations(t)
	repo.On("GetCommentsByTweet", mock.Anything, "t1", database.Ascending).Return([]database.Comment{}, nil)
	repo.On("CreateComment", mock.Anything, mock.Anything).
		Return(database.Comment{}, errors.New("server selection timeout")).Once()

	cs := newTestChatServer(t, newTestStore(t, repo), permissiveStats())
	a := newTestClient(t, cs, "userA")
	b := newTestClient(t, cs, "userB")
	join(a, 1, "t1")
	join(b, 1, "t1")
	drain(a)
	drain(b)

	send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Content: "hi"})

	aMsgs := drain(a)
	assert.Equal(t, []*Ack{{Success: false, Code: http.StatusInternalServerError, Error: "comment store unavailable"}}, acks(aMsgs))
	assert.Empty(t, received(aMsgs))
	assert.Empty(t, drain(b), "expected no broadcast after a failed write")
}

func TestSendComment_RateLimited(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := newTestClient(t, cs, "userA")
	a.limiter = rate.NewLimiter(0, 1)

	send(a, 1, SendComment{TweetId: "t1", UserId: "userA", Content: "first"})
	send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Content: "second"})

	assert.Equal(t, []*Ack{
		{Success: true, Code: http.StatusOK},
		{Success: false, Code: http.StatusTooManyRequests, Error: "too many requests"},
	}, acks(drain(a)))
}

func TestSendComment_DisplayIdentityFromClaims(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := NewClient(context.Background(), auth.Identity{UserId: "userA", Username: "verified"}, nil, cs, testutil.TestLogger(t))
	join(a, 1, "t1")
	drain(a)

	send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Username: "spoofed", ProfileImage: "p.png", Content: "hi"})

	for _, m := range drain(a) {
		if m.ReceiveComment != nil {
			assert.Equal(t, "verified", m.ReceiveComment.Username, "expected verified username to win")
			assert.Equal(t, "p.png", m.ReceiveComment.ProfileImage, "expected payload image when the claims have none")
			return
		}
	}
	t.Error("expected a broadcast")
}

func TestSendComment_Isolation(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := newTestClient(t, cs, "userA")
	b := newTestClient(t, cs, "userB")
	join(a, 1, "roomA")
	join(b, 1, "roomB")
	drain(a)
	drain(b)

	send(a, 2, SendComment{TweetId: "roomA", UserId: "userA", Content: "only A"})

	assert.Equal(t, []string{"only A"}, received(drain(a)))
	assert.Empty(t, drain(b), "expected no delivery across rooms")
}

func TestSendComment_OrderingOfReplay(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := newTestClient(t, cs, "userA")

	for i, content := range []string{"one", "two", "three", "four"} {
		send(a, i+1, SendComment{TweetId: "t1", UserId: "userA", Content: content})
	}
	drain(a)

	c := newTestClient(t, cs, "userC")
	join(c, 1, "t1")

	h := history(drain(c))
	if assert.NotNil(t, h) && assert.Len(t, h.Comments, 4) {
		for i := 1; i < len(h.Comments); i++ {
			assert.False(t, h.Comments[i].Timestamp.Before(h.Comments[i-1].Timestamp), "expected non-decreasing timestamps")
		}
		assert.Equal(t, "one", h.Comments[0].Content)
		assert.Equal(t, "four", h.Comments[3].Content)
	}
}

func TestLeaveRoom(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	a := newTestClient(t, cs, "userA")
	b := newTestClient(t, cs, "userB")
	join(a, 1, "t1")
	join(b, 1, "t1")
	drain(a)
	drain(b)

	b.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 5}, LeaveRoom: &LeaveRoom{TweetId: "t1"}})
	assert.Equal(t, []*Ack{{Success: true, Code: http.StatusOK}}, acks(drain(b)))

	send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Content: "bye"})
	assert.Empty(t, drain(b), "expected a departed member to receive nothing")

	b.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 6}, LeaveRoom: &LeaveRoom{TweetId: "t1"}})
	assert.Equal(t, []*Ack{{Success: true, Code: http.StatusOK}}, acks(drain(b)), "expected leaving a room twice to still succeed")
}

func Test_cleanup(t *testing.T) {
	cs := newTestChatServer(t, newTestStore(t, database.NewMemoryCommentRepository()), permissiveStats())
	go cs.Run()

	c := newTestClient(t, cs, "u1")
	cs.registerChan <- c
	join(c, 1, "t1")
	join(c, 2, "t2")

	c.cleanup()

	assert.Equal(t, 0, cs.rooms.Len(), "expected disconnect to leave every room")
	assert.False(t, c.queueMessage(AckOK(1)), "expected the client to be stopped")

	// Run handles events in order, so the deregistration is done once Shutdown returns.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	assert.NotContains(t, cs.clients, c, "expected the client to be deregistered")
}

// gatedRepository blocks CreateComment until release is closed.
type gatedRepository struct {
	*database.MemoryCommentRepository
	started chan struct{}
	release chan struct{}
}

func (r *gatedRepository) CreateComment(ctx context.Context, params database.CreateCommentParams) (database.Comment, error) {
	close(r.started)
	<-r.release
	return r.MemoryCommentRepository.CreateComment(ctx, params)
}

func TestSendComment_DisconnectDuringWrite(t *testing.T) {
	repo := &gatedRepository{
		MemoryCommentRepository: database.NewMemoryCommentRepository(),
		started:                 make(chan struct{}),
		release:                 make(chan struct{}),
	}
	cs := newTestChatServer(t, newTestStore(t, repo), permissiveStats())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewClient(ctx, auth.Identity{UserId: "userA"}, nil, cs, testutil.TestLogger(t))
	b := newTestClient(t, cs, "userB")
	join(a, 1, "t1")
	join(b, 1, "t1")
	drain(a)
	drain(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		send(a, 2, SendComment{TweetId: "t1", UserId: "userA", Content: "hi"})
	}()

	<-repo.started
	// the connection goes away while the write is in flight
	cancel()
	a.stopClient()
	close(repo.release)
	<-done

	assert.Empty(t, drain(a), "expected a disconnected sender to get neither ack nor broadcast")
	assert.Equal(t, []string{"hi"}, received(drain(b)), "expected remaining members to get the broadcast")

	stored, err := database.Collect(repo.GetCommentsByTweet(context.Background(), "t1", database.Ascending))
	assert.NoError(t, err)
	if assert.Len(t, stored, 1, "expected the write to complete") {
		assert.Equal(t, "hi", stored[0].Content)
	}
}
