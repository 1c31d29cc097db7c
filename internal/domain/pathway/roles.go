package pathway

// Role is a simulated practice role. There is no real authentication; the
// active role arrives on every request and gates what the caller may do.
type Role string

const (
	RoleGP              Role = "gp"
	RoleNurse           Role = "nurse"
	RolePracticeManager Role = "manager"
)

// HasPhysicianAuthority reports whether the role can countersign or approve
// high-risk clinical changes.
func (r Role) HasPhysicianAuthority() bool {
	return r == RoleGP
}

// ParseRole maps a request header value to a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleGP, RoleNurse, RolePracticeManager:
		return Role(s), true
	}
	return "", false
}
