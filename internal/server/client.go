package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/logger"
	"github.com/npezzotti/go-tweetchat/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendRate       = 5
	sendBurst      = 10
	sendBufferSize = 256
)

// Client is one authenticated realtime connection. Inbound events are
// handled one at a time in the order they were read.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	identity   auth.Identity
	ctx        context.Context
	send       chan *ServerMessage
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewClient builds a connection handle. ctx carries request scoped values
// only; it should not be cancelled when the handshake request returns.
func NewClient(ctx context.Context, identity auth.Identity, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = uuid.NewString()
	}

	l = l.With().
		Str(logger.FieldConnID, id).
		Str(logger.FieldUserID, identity.UserId).
		Logger()

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		ctx:        logger.WithLogger(ctx, l),
		send:       make(chan *ServerMessage, sendBufferSize),
		limiter:    rate.NewLimiter(rate.Limit(cs.cfg.SendRate), cs.cfg.SendBurst),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(c.chatServer.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(c.chatServer.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	cfg := c.chatServer.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.Timestamp = Now()

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch {
	case msg.JoinRoom != nil:
		c.joinRoom(msg)
	case msg.LeaveRoom != nil:
		c.leaveRoom(msg)
	case msg.SendComment != nil:
		c.sendComment(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// joinRoom adds the connection to the room and replays the stored history,
// oldest first, to this connection only. A failed replay keeps the membership.
func (c *Client) joinRoom(msg *ClientMessage) {
	tweetId := strings.TrimSpace(msg.JoinRoom.TweetId)
	if tweetId == "" {
		c.queueMessage(AckFromError(msg.Id, &database.ValidationError{Field: "tweetId", Reason: "is required"}))
		return
	}

	l := c.log.With().Str(logger.FieldTweetID, tweetId).Logger()
	if c.chatServer.rooms.Add(c, tweetId) {
		l.Debug().Msg("joined room")
	}

	history := make([]types.Comment, 0)
	for cmt, err := range c.chatServer.store.FindByTweet(c.ctx, tweetId, database.Ascending) {
		if err != nil {
			l.Error().Err(err).Msg("failed to load previous messages")
			c.queueMessage(AckFromError(msg.Id, err))
			return
		}
		history = append(history, cmt.Public())
	}

	c.queueMessage(LoadPreviousMessages(tweetId, history))
	c.queueMessage(AckOK(msg.Id))
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	tweetId := strings.TrimSpace(msg.LeaveRoom.TweetId)
	if tweetId == "" {
		c.queueMessage(AckFromError(msg.Id, &database.ValidationError{Field: "tweetId", Reason: "is required"}))
		return
	}

	if c.chatServer.rooms.Remove(c, tweetId) {
		c.log.Debug().Str(logger.FieldTweetID, tweetId).Msg("left room")
	}

	c.queueMessage(AckOK(msg.Id))
}

// sendComment persists the comment, acks the sender and then broadcasts the
// stored record to the room. Nothing is broadcast unless the write succeeded.
func (c *Client) sendComment(msg *ClientMessage) {
	if !c.limiter.Allow() {
		c.queueMessage(ErrTooManyRequests(msg.Id))
		return
	}

	payload := msg.SendComment
	if strings.TrimSpace(payload.UserId) == "" {
		c.queueMessage(AckFromError(msg.Id, &database.ValidationError{Field: "userId", Reason: "is required"}))
		return
	}
	if payload.UserId != c.identity.UserId {
		c.queueMessage(AckFromError(msg.Id, database.ErrForbidden))
		return
	}

	params := comment.CreateParams{
		TweetId:      payload.TweetId,
		UserId:       c.identity.UserId,
		Username:     payload.Username,
		ProfileImage: payload.ProfileImage,
		Content:      payload.Content,
	}
	if c.identity.Username != "" {
		params.Username = c.identity.Username
	}
	if c.identity.ProfileImage != "" {
		params.ProfileImage = c.identity.ProfileImage
	}

	// The write must outlive the connection.
	cmt, err := c.chatServer.store.Create(context.WithoutCancel(c.ctx), params)
	if err != nil {
		if !errors.Is(err, database.ErrValidation) {
			c.log.Error().Err(err).Str(logger.FieldTweetID, payload.TweetId).Msg("failed to persist comment")
		}
		c.queueMessage(AckFromError(msg.Id, err))
		return
	}

	c.queueMessage(AckOK(msg.Id))
	c.chatServer.rooms.Broadcast(cmt.TweetId, ReceiveComment(cmt.Public()))
}

// queueMessage hands msg to the write loop without blocking. It reports
// false if the connection is stopped or its buffer is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.chatServer.cfg.WriteWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.stopClient()
	left := c.chatServer.rooms.RemoveAll(c)
	if len(left) > 0 {
		c.log.Debug().Strs("rooms", left).Msg("left rooms on disconnect")
	}
	c.chatServer.deregister(c)
}
