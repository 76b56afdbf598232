package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pesio-ai/be-ap-approvals/internal/repository"
)

// Middleware verifies the Authorization bearer token, loads the user record
// behind it and stores it on the request context. Requests without a valid
// credential get 401 before reaching any handler.
func Middleware(users repository.UserRepository, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}

			userID, err := UserIDFromToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			user, err := users.Get(r.Context(), userID)
			if err != nil {
				unauthorized(w, "unknown user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
