package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim       = "userId"
	usernameClaim     = "username"
	profileImageClaim = "profileImage"
	expClaim          = "exp"

	DefaultExpiration = time.Hour * 24
	TokenQueryParam   = "token"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller attached to a request or connection.
type Identity struct {
	UserId       string
	Username     string
	ProfileImage string
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey []byte) *Verifier {
	return &Verifier{signingKey: signingKey}
}

// Issue signs a token for id. The service never issues tokens itself; this
// exists for the account service and for tests.
func (v *Verifier) Issue(id Identity, exp time.Duration) (string, error) {
	claims := jwt.MapClaims{
		userIdClaim: id.UserId,
		expClaim:    time.Now().Add(exp).Unix(),
	}
	if id.Username != "" {
		claims[usernameClaim] = id.Username
	}
	if id.ProfileImage != "" {
		claims[profileImageClaim] = id.ProfileImage
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.signingKey)
}

// Verify parses and validates tokenString. Every failure matches ErrUnauthorized.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: parse token: %s", ErrUnauthorized, err)
	}

	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	if _, ok := claims[expClaim]; !ok {
		return Identity{}, fmt.Errorf("%w: missing expiry", ErrUnauthorized)
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return Identity{}, fmt.Errorf("%w: invalid user id claim", ErrUnauthorized)
	}

	id := Identity{UserId: userId}
	id.Username, _ = claims[usernameClaim].(string)
	id.ProfileImage, _ = claims[profileImageClaim].(string)

	return id, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter used by browser websocket handshakes.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}
