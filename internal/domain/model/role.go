package model

import "strings"

// Role 访问控制角色
type Role string

const (
	RoleKeeper Role = "keeper"
	RoleAdmin  Role = "admin"
)

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleKeeper, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Identity identifies a caller (token subject, address, service name).
type Identity string

func (i Identity) String() string { return string(i) }
