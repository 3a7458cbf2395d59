package domain

// Role classifies an account. The set is closed: adding a role means
// revisiting InitialStatus and every switch the compiler points at.
type Role string

const (
	RoleStudent      Role = "student"
	RoleOrganization Role = "organization"
	RoleInstitution  Role = "institution"
	RoleMentor       Role = "mentor"
	RoleAdmin        Role = "admin"
)

// ValidRoles returns the set of valid account roles.
func ValidRoles() []Role {
	return []Role{RoleStudent, RoleOrganization, RoleInstitution, RoleMentor, RoleAdmin}
}

// ParseRole validates the given string and returns the matching Role.
func ParseRole(s string) (Role, bool) {
	for _, r := range ValidRoles() {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// SelfAssignable reports whether the role may be chosen at signup.
// The admin role is only granted by an out-of-band administrative process.
func (r Role) SelfAssignable() bool {
	return r != RoleAdmin
}

// InitialStatus maps a role to the status a freshly signed-up account gets.
// Mentors require manual approval before they can log in.
func (r Role) InitialStatus() Status {
	switch r {
	case RoleMentor:
		return StatusPendingApproval
	case RoleStudent, RoleOrganization, RoleInstitution, RoleAdmin:
		return StatusActive
	default:
		return StatusActive
	}
}
