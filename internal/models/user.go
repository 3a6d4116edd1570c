package models

import "time"

// UserRole represents the roles known to the directory.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleFaculty UserRole = "faculty"
	RoleDean    UserRole = "dean"
)

// ParseRole accepts the role spellings used across the platform.
func ParseRole(raw string) (UserRole, bool) {
	switch normalizeToken(raw) {
	case "student", "students":
		return RoleStudent, true
	case "faculty", "teacher":
		return RoleFaculty, true
	case "dean", "admin":
		return RoleDean, true
	}
	return "", false
}

// IsStaff reports whether the role publishes content rather than consuming it as a student.
func (r UserRole) IsStaff() bool {
	return r == RoleFaculty || r == RoleDean
}

// User is a read-only directory entry. Department nil means the account is global.
type User struct {
	ID         string     `json:"id"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email"`
	Role       UserRole   `json:"role"`
	Department *string    `json:"department,omitempty"`
	Year       *YearToken `json:"year,omitempty"`
	Active     bool       `json:"active"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
