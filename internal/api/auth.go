package api

import (
	"net/http"

	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/logger"
)

// authenticate verifies the bearer credential of r.
func (s *TweetChatApp) authenticate(r *http.Request) (auth.Identity, error) {
	return s.verifier.Verify(auth.TokenFromRequest(r))
}

func (s *TweetChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			l := logger.Ctx(r.Context(), s.log)
			l.Debug().Err(err).Msg("failed to verify token")
			errResp := NewUnauthorizedError()
			s.writeJson(w, r, errResp.StatusCode, errResp)
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
