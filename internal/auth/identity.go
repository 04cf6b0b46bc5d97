package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"fieldservice-backend/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
)

// AuthError is an identity-service failure, passed through to callers as-is.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return "auth " + e.Op + ": " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// Identity is the credential service. The core only consumes the user it
// returns.
type Identity interface {
	SignIn(ctx context.Context, username, credential string) (domain.User, error)
	SignUp(ctx context.Context, username, credential string, role domain.Role) (domain.User, error)
}

// PostgresIdentity keeps bcrypt hashes next to the user rows.
type PostgresIdentity struct {
	DB *sql.DB
}

func NewPostgresIdentity(db *sql.DB) *PostgresIdentity {
	return &PostgresIdentity{DB: db}
}

func (p *PostgresIdentity) SignIn(ctx context.Context, username, credential string) (domain.User, error) {
	var (
		u        domain.User
		hash     string
		roleName string
	)
	err := p.DB.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role
		FROM users
		WHERE username = $1
	`, strings.TrimSpace(username)).Scan(&u.ID, &u.Username, &hash, &roleName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, &AuthError{Op: "sign in", Err: ErrInvalidCredentials}
	}
	if err != nil {
		return domain.User{}, &AuthError{Op: "sign in", Err: err}
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) != nil {
		return domain.User{}, &AuthError{Op: "sign in", Err: ErrInvalidCredentials}
	}

	role, err := domain.ParseRole(roleName)
	if err != nil {
		return domain.User{}, &AuthError{Op: "sign in", Err: fmt.Errorf("user %d: %w", u.ID, err)}
	}
	u.Role = role
	return u, nil
}

func (p *PostgresIdentity) SignUp(ctx context.Context, username, credential string, role domain.Role) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || credential == "" {
		return domain.User{}, &AuthError{Op: "sign up", Err: errors.New("username and credential required")}
	}
	if Rank(role) == 0 {
		return domain.User{}, &AuthError{Op: "sign up", Err: fmt.Errorf("unknown role %q", role)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, &AuthError{Op: "sign up", Err: err}
	}

	u := domain.User{Username: username, Role: role}
	err = p.DB.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id
	`, username, string(hash), string(role)).Scan(&u.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.User{}, &AuthError{Op: "sign up", Err: ErrUsernameTaken}
		}
		return domain.User{}, &AuthError{Op: "sign up", Err: err}
	}
	return u, nil
}
