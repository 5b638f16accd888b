package models

// Role represents the role asserted for the caller of an engagement operation.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// IsStaff reports whether the role may moderate a session (teacher or admin).
func (r Role) IsStaff() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Identity is the identity assertion resolved upstream and attached to every call.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	Role          Role   `json:"role"`
	Name          string `json:"name,omitempty"`
}
