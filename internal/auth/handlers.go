package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"fieldservice-backend/internal/domain"
)

// Users is the authoritative user directory the handlers read roles from.
type Users interface {
	User(id int64) (domain.User, bool)
	PutUser(u domain.User)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, "invalid login", http.StatusUnauthorized)
	case errors.Is(err, ErrUsernameTaken):
		http.Error(w, "username already exists", http.StatusConflict)
	default:
		var ae *AuthError
		if errors.As(err, &ae) {
			log.Printf("[WARN] %v", ae)
		}
		http.Error(w, "auth failed", http.StatusBadGateway)
	}
}

// currentUser resolves the token's user id against the directory.
func currentUser(users Users, r *http.Request) (domain.User, bool) {
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		return domain.User{}, false
	}
	return users.User(uid)
}

// RegisterHandler creates an account. Only a Super Admin may do so; the
// new user is visible to the core immediately.
func RegisterHandler(identity Identity, users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := currentUser(users, r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !Authorize(&me, RegisterUser) {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}

		var body struct {
			credentials
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Username == "" || body.Password == "" {
			http.Error(w, "username & password required", http.StatusBadRequest)
			return
		}
		role, err := domain.ParseRole(body.Role)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		u, err := identity.SignUp(r.Context(), body.Username, body.Password, role)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		users.PutUser(u)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(u)
	}
}

func LoginHandler(identity Identity, users Users, secret []byte, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		signed, err := identity.SignIn(r.Context(), body.Username, body.Password)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		u, ok := users.User(signed.ID)
		if !ok {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}

		token, err := GenerateToken(secret, u.ID, ttl)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  u,
			"token": token,
		})
	}
}

func MeHandler(users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(users, r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(u)
	}
}

// LogoutHandler acknowledges a logout. Tokens are stateless; the client
// drops its copy.
func LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}
