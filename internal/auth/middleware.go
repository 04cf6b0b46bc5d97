package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"fieldservice-backend/internal/analytics"
)

type ctxKey struct{}

// Middleware authenticates requests carrying a bearer token issued by
// GenerateToken.
type Middleware struct {
	secret []byte
}

func New(secret []byte) Middleware {
	return Middleware{secret: secret}
}

// bearer extracts the token; the scheme is matched case-insensitively.
func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="fieldservice"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Wrap rejects requests without a valid token and passes the caller's id
// down through the context, for both the handlers and the journal.
func (m Middleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			unauthorized(w, "missing token")
			return
		}
		userID, err := ParseToken(m.secret, token)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		ctx := analytics.WithUserID(WithUserID(r.Context(), userID), userID)
		next(w, r.WithContext(ctx))
	}
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(ctxKey{}).(int64)
	return uid, ok
}
