package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestAckOK(t *testing.T) {
	result := AckOK(1)

	assert.NotNil(t, result.Ack, "expected ack to be non-nil")
	assert.Equal(t, 1, result.Id, "expected Id to match")
	assert.WithinDuration(t, time.Now(), result.Timestamp, time.Second, "expected Timestamp to be within 1 second")
	assert.True(t, result.Ack.Success)
	assert.Equal(t, http.StatusOK, result.Ack.Code)
	assert.Empty(t, result.Ack.Error)
}

func TestAckFromError(t *testing.T) {
	tcases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{
			name:    "validation error",
			err:     &database.ValidationError{Field: "Content", Reason: "is required"},
			code:    http.StatusBadRequest,
			message: "content is required",
		},
		{
			name:    "wrapped validation sentinel",
			err:     fmt.Errorf("create: %w", database.ErrValidation),
			code:    http.StatusBadRequest,
			message: "invalid request",
		},
		{
			name:    "unauthorized",
			err:     fmt.Errorf("%w: expired", auth.ErrUnauthorized),
			code:    http.StatusUnauthorized,
			message: "unauthorized",
		},
		{
			name:    "forbidden",
			err:     database.ErrForbidden,
			code:    http.StatusForbidden,
			message: "forbidden",
		},
		{
			name:    "not found",
			err:     database.ErrNotFound,
			code:    http.StatusNotFound,
			message: "not found",
		},
		{
			name:    "persistence",
			err:     &database.PersistenceError{Op: "insert comment", Err: errors.New("connection refused")},
			code:    http.StatusInternalServerError,
			message: "comment store unavailable",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			code:    http.StatusInternalServerError,
			message: "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msg := AckFromError(7, tc.err)
			assert.Equal(t, 7, msg.Id)
			assert.False(t, msg.Ack.Success)
			assert.Equal(t, tc.code, msg.Ack.Code)
			assert.Equal(t, tc.message, msg.Ack.Error)
		})
	}
}

func TestErrInvalidMessage(t *testing.T) {
	tcases := []struct {
		name       string
		id         int
		expectedId int
	}{
		{name: "positive id", id: 5, expectedId: 5},
		{name: "unknown id", id: -1, expectedId: 0},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ErrInvalidMessage(tc.id)
			assert.Equal(t, tc.expectedId, msg.Id)
			assert.Equal(t, http.StatusBadRequest, msg.Ack.Code)
			assert.Equal(t, "invalid message format", msg.Ack.Error)
		})
	}
}

func TestLoadPreviousMessages_EmptyIsArray(t *testing.T) {
	msg := LoadPreviousMessages("t2", nil)

	raw, err := json.Marshal(msg)
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"loadPreviousMessages":{"tweetId":"t2","comments":[]}`)
}

func TestReceiveComment_Wire(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := ReceiveComment(types.Comment{
		Id:           "c1",
		TweetId:      "t1",
		UserId:       "u1",
		Username:     "alice",
		ProfileImage: "https://img.example/a.png",
		Content:      "hi",
		Timestamp:    ts,
	})

	raw, err := json.Marshal(msg)
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"receiveComment":{"id":"c1","tweetId":"t1","userId":"u1","username":"alice","profileImage":"https://img.example/a.png","content":"hi","timestamp":"2024-01-01T12:00:00Z"}`)
	assert.NotContains(t, string(raw), `"ack"`)
}

func TestClientMessage_Decode(t *testing.T) {
	raw := `{"id":3,"sendComment":{"tweetId":"t1","userId":"u1","username":"alice","profileImage":"p","content":"hi"}}`

	var msg ClientMessage
	assert.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, 3, msg.Id)
	assert.Nil(t, msg.JoinRoom)
	assert.Equal(t, &SendComment{TweetId: "t1", UserId: "u1", Username: "alice", ProfileImage: "p", Content: "hi"}, msg.SendComment)
}

func TestClientMessage_WireFields(t *testing.T) {
	typ := reflect.TypeOf(ClientMessage{})
	for i := 0; i < typ.NumField(); i++ {
		assert.True(t, typ.Field(i).IsExported(), "expected %s to be part of the wire format", typ.Field(i).Name)
	}

	raw, err := json.Marshal(ClientMessage{BaseMessage: BaseMessage{Id: 1}, JoinRoom: &JoinRoom{TweetId: "t1"}})
	assert.NoError(t, err)

	var fields map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(raw, &fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"id", "timestamp", "joinRoom"}, keys)
}
