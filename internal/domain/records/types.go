// Package records contains the domain types for school records: student
// profiles, attendance, exam results, and the deterministic report
// aggregates computed from them.
package records

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist in the
// partition. It is distinct from an empty-but-valid result set.
var ErrNotFound = errors.New("record not found")

// AttendanceStatus classifies one day of attendance.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
)

// IsValid returns true if the status is a known attendance status.
func (s AttendanceStatus) IsValid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// ExamType classifies an exam.
type ExamType string

const (
	ExamMidterm    ExamType = "midterm"
	ExamFinal      ExamType = "final"
	ExamQuiz       ExamType = "quiz"
	ExamAssignment ExamType = "assignment"
	ExamProject    ExamType = "project"
)

// IsValid returns true if the exam type is known.
func (e ExamType) IsValid() bool {
	switch e {
	case ExamMidterm, ExamFinal, ExamQuiz, ExamAssignment, ExamProject:
		return true
	default:
		return false
	}
}

// StudentProfile is the shaped output of a student profile lookup.
type StudentProfile struct {
	StudentID     string `json:"student_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	RollNumber    string `json:"roll_number"`
	ClassID       string `json:"class_id"`
	ClassName     string `json:"class_name"`
	Grade         int    `json:"grade"`
	Section       string `json:"section"`
	AdmissionDate string `json:"admission_date"`
	GuardianPhone string `json:"guardian_phone,omitempty"`
	GuardianEmail string `json:"guardian_email,omitempty"`
}

// AttendanceRecord is one day of attendance for one student.
type AttendanceRecord struct {
	Date   time.Time
	Status AttendanceStatus
}

// ExamResult is one graded exam for one student.
type ExamResult struct {
	StudentID     string
	Subject       string
	ExamType      ExamType
	ExamDate      time.Time
	MarksObtained float64
	MaxMarks      float64
	Grade         string
	Remarks       string
}

// Percentage returns the score as a percentage of max marks.
func (e ExamResult) Percentage() float64 {
	if e.MaxMarks <= 0 {
		return 0
	}
	return e.MarksObtained / e.MaxMarks * 100
}

// Class describes one class (grade section) within a tenant.
type Class struct {
	ClassID      string
	Name         string
	Grade        int
	Section      string
	AcademicYear string
}

// TeacherAssignments holds the class assignments used for scope checks.
type TeacherAssignments struct {
	// TeacherRef is the teacher identifier the assignments belong to.
	TeacherRef string
	// ClassIDs are all classes where the teacher teaches at least one
	// subject, sorted ascending for determinism.
	ClassIDs []string
	// HomeroomClassID is the class the teacher is class-teacher of,
	// empty if none.
	HomeroomClassID string
}

// DateRange bounds an attendance query. Zero values mean unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the range is fully unbounded.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}
