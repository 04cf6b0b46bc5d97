// Package session tracks the signed-in user of an interactive client.
package session

import (
	"context"
	"errors"
	"sync"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

var (
	ErrNotSignedIn = errors.New("not signed in")
	ErrUnknownUser = errors.New("signed-in user is not in the directory")
)

// Directory resolves the authoritative user record.
type Directory interface {
	User(id int64) (domain.User, bool)
}

// Session holds at most one current user, by id. The role always comes
// from the directory, never from the sign-in response.
type Session struct {
	identity auth.Identity
	dir      Directory

	mu     sync.RWMutex
	userID int64
}

func New(identity auth.Identity, dir Directory) *Session {
	return &Session{identity: identity, dir: dir}
}

// Login signs in and remembers the returned user id. A failed login
// clears any previous user. Users created after the last sync must wait
// for the next one.
func (s *Session) Login(ctx context.Context, username, credential string) (domain.User, error) {
	u, err := s.identity.SignIn(ctx, username, credential)
	if err != nil {
		s.Logout()
		return domain.User{}, err
	}

	current, ok := s.dir.User(u.ID)
	if !ok {
		s.Logout()
		return domain.User{}, ErrUnknownUser
	}

	s.mu.Lock()
	s.userID = u.ID
	s.mu.Unlock()
	return current, nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.userID = 0
	s.mu.Unlock()
}

// CurrentUser returns the signed-in user as the directory knows them now.
func (s *Session) CurrentUser() (*domain.User, error) {
	s.mu.RLock()
	id := s.userID
	s.mu.RUnlock()
	if id == 0 {
		return nil, ErrNotSignedIn
	}
	u, ok := s.dir.User(id)
	if !ok {
		return nil, ErrNotSignedIn
	}
	return &u, nil
}
