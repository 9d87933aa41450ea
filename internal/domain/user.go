// Package domain contains entities without logic, just meta-data.
package domain

type UserID string

// RoleKind is the single role enumeration used by every authorization
// path. Ordering matters: higher kinds include the powers of lower ones.
type RoleKind int8

const (
	RoleMember RoleKind = iota
	RoleModerator
	RoleAdmin
)

func (k RoleKind) String() string {
	switch k {
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "member"
	}
}

// AtLeast reports whether k grants everything min grants.
func (k RoleKind) AtLeast(min RoleKind) bool { return k >= min }

// Role binds a user to one instance with a role kind.
type Role struct {
	Instance InstanceID `json:"instance"`
	Kind     RoleKind   `json:"kind"`
}

// UserInfo is the resolved authorization view of one user.
// Admin is a global flag that short-circuits instance role checks.
type UserInfo struct {
	ID    UserID `json:"id"`
	Admin bool   `json:"admin"`
	Roles []Role `json:"roles"`
}

// RoleIn returns the user's role kind in the given instance and whether
// the user belongs to it at all. Global admins belong everywhere.
func (u UserInfo) RoleIn(instance InstanceID) (RoleKind, bool) {
	if u.Admin {
		return RoleAdmin, true
	}
	for _, r := range u.Roles {
		if r.Instance == instance {
			return r.Kind, true
		}
	}
	return RoleMember, false
}
