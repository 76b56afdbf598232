// Package auth verifies bearer credentials and resolves the acting user.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-ap-approvals/internal/errors"
	"github.com/pesio-ai/be-ap-approvals/internal/repository"
)

// Claims carries the authenticated user id alongside the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// GenerateToken signs a token for the given user id.
func GenerateToken(userID string, secret []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	})

	return token.SignedString(secret)
}

// UserIDFromToken verifies the token signature and expiry and returns the
// embedded user id.
func UserIDFromToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", errors.Unauthorized("invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return "", errors.Unauthorized("invalid token")
	}

	return claims.UserID, nil
}

type contextKey struct{}

// WithActor stores the authenticated user on the context.
func WithActor(ctx context.Context, actor *repository.User) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the authenticated user, or an unauthorized error
// when the request never passed the auth middleware.
func ActorFromContext(ctx context.Context) (*repository.User, error) {
	actor, ok := ctx.Value(contextKey{}).(*repository.User)
	if !ok || actor == nil {
		return nil, errors.Unauthorized("no authenticated user")
	}
	return actor, nil
}
