// Package auth contains the domain types for caller identity and authorization claims.
package auth

import (
	"errors"
	"fmt"
	"time"
)

// Role represents a caller role for authorization purposes.
type Role string

const (
	// RoleStudent may access only their own records.
	RoleStudent Role = "student"
	// RoleTeacher may access records of students in classes they teach.
	RoleTeacher Role = "teacher"
	// RoleAdmin has full access to all records within their tenant.
	RoleAdmin Role = "admin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// ErrInvalidClaims is returned when a Claims value fails validation.
var ErrInvalidClaims = errors.New("invalid claims")

// Claims holds the decoded identity and authorization facts for one request.
// A Claims value is constructed once per inbound request and is never
// mutated afterwards.
type Claims struct {
	// SubjectID is the unique identifier of the caller.
	SubjectID string
	// Role determines which permission rules apply to the caller.
	Role Role
	// TenantID identifies the school whose data partition the caller belongs to.
	TenantID string
	// StudentRef is the caller's student identifier. Set iff Role is RoleStudent.
	StudentRef string
	// TeacherRef is the caller's teacher identifier. Set iff Role is RoleTeacher.
	TeacherRef string
	// ExpiresAt is when the credential these claims were decoded from expires (UTC).
	ExpiresAt time.Time
}

// Validate checks structural consistency of the claims.
// Expiry is checked by the credential layer before claims reach the core;
// Validate only guards against malformed construction.
func (c Claims) Validate() error {
	if c.SubjectID == "" {
		return fmt.Errorf("%w: missing subject id", ErrInvalidClaims)
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, c.Role)
	}
	if c.TenantID == "" {
		return fmt.Errorf("%w: missing tenant id", ErrInvalidClaims)
	}
	if c.Role == RoleStudent && c.StudentRef == "" {
		return fmt.Errorf("%w: student role requires student_ref", ErrInvalidClaims)
	}
	if c.Role == RoleTeacher && c.TeacherRef == "" {
		return fmt.Errorf("%w: teacher role requires teacher_ref", ErrInvalidClaims)
	}
	if c.Role != RoleStudent && c.StudentRef != "" {
		return fmt.Errorf("%w: student_ref set for non-student role", ErrInvalidClaims)
	}
	if c.Role != RoleTeacher && c.TeacherRef != "" {
		return fmt.Errorf("%w: teacher_ref set for non-teacher role", ErrInvalidClaims)
	}
	return nil
}

// OwnRef returns the caller's own record identifier for their role:
// StudentRef for students, TeacherRef for teachers, empty otherwise.
func (c Claims) OwnRef() string {
	switch c.Role {
	case RoleStudent:
		return c.StudentRef
	case RoleTeacher:
		return c.TeacherRef
	default:
		return ""
	}
}

// Identity describes a configured caller in the identity directory.
// It carries everything needed to mint Claims for a request.
type Identity struct {
	// SubjectID is the unique identifier for this identity.
	SubjectID string
	// Name is the display name for this identity.
	Name string
	// Role is the identity's role.
	Role Role
	// TenantID is the school this identity belongs to.
	TenantID string
	// StudentRef is set iff Role is RoleStudent.
	StudentRef string
	// TeacherRef is set iff Role is RoleTeacher.
	TeacherRef string
}

// Claims mints a request-scoped Claims value for this identity.
func (i *Identity) Claims(expiresAt time.Time) Claims {
	return Claims{
		SubjectID:  i.SubjectID,
		Role:       i.Role,
		TenantID:   i.TenantID,
		StudentRef: i.StudentRef,
		TeacherRef: i.TeacherRef,
		ExpiresAt:  expiresAt,
	}
}
