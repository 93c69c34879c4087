package records

import (
	"context"
	"time"
)

// Store is the read interface over one tenant's school records. A Store
// is bound to exactly one tenant at construction; there is no tenant
// parameter on any method, so cross-tenant reads are not expressible.
//
// All methods return ErrNotFound (possibly wrapped) when the identified
// entity does not exist. Empty result sets for existing entities are not
// errors.
type Store interface {
	// StudentByID retrieves one student profile.
	StudentByID(ctx context.Context, studentID string) (*StudentProfile, error)

	// StudentsByClass lists the profiles of every student enrolled in a
	// class, sorted by roll number.
	StudentsByClass(ctx context.Context, classID string) ([]StudentProfile, error)

	// ClassByID retrieves one class.
	ClassByID(ctx context.Context, classID string) (*Class, error)

	// Attendance lists a student's attendance rows within the range.
	// Zero range bounds are unbounded on that side.
	Attendance(ctx context.Context, studentID string, rng DateRange) ([]AttendanceRecord, error)

	// ExamResults lists a student's exam rows, optionally filtered to
	// one subject (empty subject means all).
	ExamResults(ctx context.Context, studentID string, subject string) ([]ExamResult, error)

	// ExamResultsByClass lists exam rows for every student of a class.
	ExamResultsByClass(ctx context.Context, classID string) ([]ExamResult, error)

	// AssignmentsByTeacher retrieves a teacher's class assignments.
	// A teacher with no assignments yields an empty ClassIDs slice, not
	// ErrNotFound; ErrNotFound means the teacher itself is unknown.
	AssignmentsByTeacher(ctx context.Context, teacherRef string) (*TeacherAssignments, error)
}

// Writer extends a store with the write operations used by seeding.
// Query tools only ever see the read interface.
type Writer interface {
	UpsertClass(ctx context.Context, class Class) error
	UpsertStudent(ctx context.Context, profile StudentProfile) error
	UpsertTeacher(ctx context.Context, teacherRef, name string, classIDs []string, homeroomClassID string) error
	InsertAttendance(ctx context.Context, studentID string, date time.Time, status AttendanceStatus) error
	InsertExamResult(ctx context.Context, result ExamResult) error
}
