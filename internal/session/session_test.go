package session

import (
	"context"
	"errors"
	"testing"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

type fakeIdentity struct {
	signInFn func(ctx context.Context, username, credential string) (domain.User, error)
}

func (f fakeIdentity) SignIn(ctx context.Context, username, credential string) (domain.User, error) {
	return f.signInFn(ctx, username, credential)
}

func (f fakeIdentity) SignUp(ctx context.Context, username, credential string, role domain.Role) (domain.User, error) {
	return domain.User{}, errors.New("not supported")
}

type dirMap map[int64]domain.User

func (d dirMap) User(id int64) (domain.User, bool) {
	u, ok := d[id]
	return u, ok
}

func TestLogin_UsesRealUserRecord(t *testing.T) {
	dir := dirMap{7: {ID: 7, Username: "dispatch", Role: domain.RoleDispatcher}}
	id := fakeIdentity{signInFn: func(ctx context.Context, username, credential string) (domain.User, error) {
		// identity answers with a stale role; the directory wins
		return domain.User{ID: 7, Username: username, Role: domain.RoleEmployee}, nil
	}}
	s := New(id, dir)

	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("before login err=%v", err)
	}

	u, err := s.Login(context.Background(), "dispatch", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Role != domain.RoleDispatcher {
		t.Fatalf("role=%s, want Dispatcher", u.Role)
	}

	cur, err := s.CurrentUser()
	if err != nil || cur.ID != 7 || cur.Role != domain.RoleDispatcher {
		t.Fatalf("current=%+v err=%v", cur, err)
	}

	// promotion after sync is visible without logging in again
	dir[7] = domain.User{ID: 7, Username: "dispatch", Role: domain.RoleOfficeAdmin}
	cur, _ = s.CurrentUser()
	if cur.Role != domain.RoleOfficeAdmin {
		t.Fatalf("role after promotion=%s", cur.Role)
	}
}

func TestLogin_FailureClearsSession(t *testing.T) {
	dir := dirMap{1: {ID: 1, Username: "a", Role: domain.RoleEmployee}}
	fail := false
	id := fakeIdentity{signInFn: func(ctx context.Context, username, credential string) (domain.User, error) {
		if fail {
			return domain.User{}, &auth.AuthError{Op: "sign in", Err: auth.ErrInvalidCredentials}
		}
		return dir[1], nil
	}}
	s := New(id, dir)
	if _, err := s.Login(context.Background(), "a", "pw"); err != nil {
		t.Fatal(err)
	}

	fail = true
	_, err := s.Login(context.Background(), "a", "wrong")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err=%v, want %v", err, auth.ErrInvalidCredentials)
	}
	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("session survived failed login: %v", err)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	id := fakeIdentity{signInFn: func(ctx context.Context, username, credential string) (domain.User, error) {
		return domain.User{ID: 99, Username: username, Role: domain.RoleSuperAdmin}, nil
	}}
	s := New(id, dirMap{})
	if _, err := s.Login(context.Background(), "ghost", "pw"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err=%v, want %v", err, ErrUnknownUser)
	}
	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("err=%v, want %v", err, ErrNotSignedIn)
	}
}
