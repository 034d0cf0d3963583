package models

import "strings"

// Roles as they appear in the roster's Role column.
const (
	RoleTeacher    = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "sadmin"
)

// DefaultAppraiser is shown when a roster row leaves Appraiser blank.
const DefaultAppraiser = "Not Assigned"

// User is one roster entry from the Users table.
type User struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Appraiser string `json:"appraiser"` // comma-separated appraiser names
	Role      string `json:"role"`
	Password  string `json:"-"` // bcrypt hash or plain text, empty when unused
	Row       int    `json:"-"`
}

func (u *User) IsTeacher() bool    { return u.Role == RoleTeacher }
func (u *User) IsAdmin() bool      { return u.Role == RoleAdmin || u.Role == RoleSuperAdmin }
func (u *User) IsSuperAdmin() bool { return u.Role == RoleSuperAdmin }

// FirstName is the lowercased first word of Name.
func (u *User) FirstName() string {
	fields := strings.Fields(u.Name)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Appraisers splits the Appraiser cell into lowercased names.
func (u *User) Appraisers() []string {
	var out []string
	for _, part := range strings.Split(u.Appraiser, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AppraisedBy reports whether admin is listed as one of u's appraisers, by
// first name, full name or email.
func (u *User) AppraisedBy(admin *User) bool {
	candidates := []string{admin.FirstName(), strings.ToLower(strings.TrimSpace(admin.Name)), admin.Email}
	for _, a := range u.Appraisers() {
		for _, c := range candidates {
			if c != "" && a == c {
				return true
			}
		}
	}
	return false
}

// ValidRole reports whether role is one of the three roster roles.
func ValidRole(role string) bool {
	switch role {
	case RoleTeacher, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
