package domain

import "fmt"

type Role string

const (
	RoleSuperAdmin  Role = "Super Admin"
	RoleOfficeAdmin Role = "Office Admin"
	RoleDispatcher  Role = "Dispatcher"
	RoleEmployee    Role = "Employee"
)

// Roles lists the closed role set, highest first.
var Roles = []Role{RoleSuperAdmin, RoleOfficeAdmin, RoleDispatcher, RoleEmployee}

// ParseRole rejects anything outside the closed role set.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
