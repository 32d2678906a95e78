package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/logger"
	"github.com/npezzotti/go-tweetchat/internal/server"
	"github.com/npezzotti/go-tweetchat/internal/types"
)

var validate = validator.New()

type AddCommentRequest struct {
	TweetId string `json:"tweetId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type AddCommentResponse struct {
	Message string        `json:"message"`
	Comment types.Comment `json:"comment"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (s *TweetChatApp) writeJson(w http.ResponseWriter, r *http.Request, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := logger.Ctx(r.Context(), s.log)
		l.Error().Err(err).Msg("json encode")
	}
}

func (s *TweetChatApp) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := errorFromStore(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		l := logger.Ctx(r.Context(), s.log)
		l.Error().Err(err).Msg("comment store failure")
	}
	s.writeJson(w, r, errResp.StatusCode, errResp)
}

func (s *TweetChatApp) addComment(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	if err := validate.Struct(req); err != nil {
		errResp := NewValidationError(errors.New("tweetId and content are required"))
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	// author identity comes from the verified token, never from the body
	cmt, err := s.store.Create(r.Context(), comment.CreateParams{
		TweetId:      req.TweetId,
		UserId:       identity.UserId,
		Username:     identity.Username,
		ProfileImage: identity.ProfileImage,
		Content:      req.Content,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.writeJson(w, r, http.StatusCreated, AddCommentResponse{
		Message: "Comment added successfully",
		Comment: cmt.Public(),
	})
}

func (s *TweetChatApp) listComments(w http.ResponseWriter, r *http.Request) {
	tweetId := strings.TrimSpace(r.PathValue("tweetId"))
	if tweetId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	comments, err := s.store.ListByTweet(r.Context(), tweetId)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := make([]types.Comment, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, c.Public())
	}

	s.writeJson(w, r, http.StatusOK, resp)
}

func (s *TweetChatApp) deleteComment(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	commentId := strings.TrimSpace(r.PathValue("commentId"))
	if commentId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.store.DeleteById(r.Context(), commentId, identity.UserId); err != nil {
		if errors.Is(err, database.ErrForbidden) {
			l := logger.Ctx(r.Context(), s.log)
			l.Info().Str(logger.FieldUserID, identity.UserId).Str("comment_id", commentId).Msg("rejected delete by non author")
		}
		s.writeStoreError(w, r, err)
		return
	}

	s.writeJson(w, r, http.StatusOK, MessageResponse{Message: "Comment deleted successfully"})
}

func (s *TweetChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		l := logger.Ctx(r.Context(), s.log)
		l.Error().Err(err).Msg("health check failed")
		errResp := NewInternalServerError(err)
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// originAllowed applies the CORS origin list to websocket handshakes,
// including its "*" wildcard. Non-browser clients send no origin.
func (s *TweetChatApp) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// serveWs rejects an unauthenticated handshake with 401 before upgrading.
func (s *TweetChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		l := logger.Ctx(r.Context(), s.log)
		l.Debug().Err(err).Msg("rejected websocket handshake")
		errResp := NewUnauthorizedError()
		s.writeJson(w, r, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := logger.Ctx(r.Context(), s.log)
		l.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(context.WithoutCancel(r.Context()), identity, conn, s.cs, s.log)
	s.cs.RegisterClient(client)
}
