package auth

import (
	"testing"

	"fieldservice-backend/internal/domain"
)

func TestRank_Hierarchy(t *testing.T) {
	want := map[domain.Role]int{
		domain.RoleSuperAdmin:  4,
		domain.RoleOfficeAdmin: 3,
		domain.RoleDispatcher:  2,
		domain.RoleEmployee:    1,
		domain.Role("Intern"):  0,
	}
	for role, rank := range want {
		if got := Rank(role); got != rank {
			t.Errorf("Rank(%q)=%d, want %d", role, got, rank)
		}
	}
}

// A role that may perform an action passes that permission to every
// higher role.
func TestAuthorize_Monotonic(t *testing.T) {
	for _, action := range Actions {
		for _, lo := range domain.Roles {
			for _, hi := range domain.Roles {
				if Rank(hi) < Rank(lo) {
					continue
				}
				if Authorize(&domain.User{Role: lo}, action) && !Authorize(&domain.User{Role: hi}, action) {
					t.Errorf("%s: %s allowed but %s denied", action.Name, lo, hi)
				}
			}
		}
	}
}

func TestAuthorize_MatchesMinRole(t *testing.T) {
	for _, action := range Actions {
		for _, role := range domain.Roles {
			want := Rank(role) >= Rank(action.MinRole)
			if got := Authorize(&domain.User{ID: 1, Role: role}, action); got != want {
				t.Errorf("Authorize(%s, %s)=%v, want %v", role, action.Name, got, want)
			}
		}
	}
}

func TestAuthorize_AnonymousAndUnknownRole(t *testing.T) {
	for _, action := range Actions {
		if Authorize(nil, action) {
			t.Errorf("anonymous authorized for %s", action.Name)
		}
		if Authorize(&domain.User{ID: 7, Role: "Contractor"}, action) {
			t.Errorf("unknown role authorized for %s", action.Name)
		}
	}
}

func TestAuthorize_Scenario(t *testing.T) {
	employee := &domain.User{ID: 3, Role: domain.RoleEmployee}
	if Authorize(employee, CompleteTask) {
		t.Fatalf("Employee must not complete tasks")
	}
	officeAdmin := &domain.User{ID: 4, Role: domain.RoleOfficeAdmin}
	if !Authorize(officeAdmin, CompleteTask) {
		t.Fatalf("Office Admin must complete tasks")
	}
}

func TestRolesAtLeast(t *testing.T) {
	got := RolesAtLeast(domain.RoleDispatcher)
	want := []domain.Role{domain.RoleSuperAdmin, domain.RoleOfficeAdmin, domain.RoleDispatcher}
	if len(got) != len(want) {
		t.Fatalf("RolesAtLeast(Dispatcher)=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RolesAtLeast(Dispatcher)=%v, want %v", got, want)
		}
	}
}
