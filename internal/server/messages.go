package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	JoinRoom    *JoinRoom    `json:"joinRoom,omitempty"`
	LeaveRoom   *LeaveRoom   `json:"leaveRoom,omitempty"`
	SendComment *SendComment `json:"sendComment,omitempty"`
}

type JoinRoom struct {
	TweetId string `json:"tweetId"`
}

type LeaveRoom struct {
	TweetId string `json:"tweetId"`
}

type SendComment struct {
	TweetId      string `json:"tweetId"`
	UserId       string `json:"userId"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage"`
	Content      string `json:"content"`
}

type ServerMessage struct {
	BaseMessage
	Ack                  *Ack           `json:"ack,omitempty"`
	LoadPreviousMessages *History       `json:"loadPreviousMessages,omitempty"`
	ReceiveComment       *types.Comment `json:"receiveComment,omitempty"`
}

type Ack struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
}

// History is the replay sent to a connection that joins a room, oldest first.
type History struct {
	TweetId  string          `json:"tweetId"`
	Comments []types.Comment `json:"comments"`
}

func AckOK(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			Success: true,
			Code:    http.StatusOK,
		},
	}
}

func AckErr(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			Success: false,
			Code:    code,
			Error:   msg,
		},
	}
}

// AckFromError converts a store or auth failure into a failed ack. Only the
// validation message is passed through; other kinds get a fixed string.
func AckFromError(id int, err error) *ServerMessage {
	var verr *database.ValidationError
	switch {
	case errors.As(err, &verr):
		return AckErr(id, http.StatusBadRequest, verr.Error())
	case errors.Is(err, database.ErrValidation):
		return AckErr(id, http.StatusBadRequest, "invalid request")
	case errors.Is(err, auth.ErrUnauthorized):
		return AckErr(id, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, database.ErrForbidden):
		return AckErr(id, http.StatusForbidden, "forbidden")
	case errors.Is(err, database.ErrNotFound):
		return AckErr(id, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrPersistence):
		return ErrStoreUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}

func ErrInternalError(id int) *ServerMessage {
	return AckErr(id, http.StatusInternalServerError, "internal server error")
}

func ErrStoreUnavailable(id int) *ServerMessage {
	return AckErr(id, http.StatusInternalServerError, "comment store unavailable")
}

func ErrTooManyRequests(id int) *ServerMessage {
	return AckErr(id, http.StatusTooManyRequests, "too many requests")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := AckErr(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func LoadPreviousMessages(tweetId string, comments []types.Comment) *ServerMessage {
	if comments == nil {
		comments = []types.Comment{}
	}
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		LoadPreviousMessages: &History{
			TweetId:  tweetId,
			Comments: comments,
		},
	}
}

func ReceiveComment(c types.Comment) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		ReceiveComment: &c,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
