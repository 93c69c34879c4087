// Package tool contains domain types for the query tool catalog: tool
// descriptors, typed argument schemas, and the error taxonomy every
// tool maps its failures onto.
package tool

import (
	"encoding/json"
)

// Operation names of the built-in query tool catalog.
const (
	OpGetStudentInfo      = "get_student_info"
	OpGetAttendanceReport = "get_attendance_report"
	OpGetExamResults      = "get_exam_results"
	OpAnalyzePerformance  = "analyze_student_performance"
	OpGetClassPerformance = "get_class_performance"
)

// CatalogOperations lists every operation in registration order. The
// order is stable; the policy table is validated against this list.
func CatalogOperations() []string {
	return []string{
		OpGetStudentInfo,
		OpGetAttendanceReport,
		OpGetExamResults,
		OpAnalyzePerformance,
		OpGetClassPerformance,
	}
}

// Descriptor describes one registered tool for reasoner advertisement.
type Descriptor struct {
	// Name is the operation name the reasoner calls the tool by.
	Name string `json:"name"`
	// Description tells the reasoner when to use the tool.
	Description string `json:"description"`
	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema"`
}

// StudentInfoArgs are the arguments of get_student_info.
type StudentInfoArgs struct {
	StudentID string `json:"student_id" validate:"required"`
}

// AttendanceReportArgs are the arguments of get_attendance_report.
// Dates are inclusive and use the 2006-01-02 layout; either side may
// be omitted.
type AttendanceReportArgs struct {
	StudentID string `json:"student_id" validate:"required"`
	StartDate string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ExamResultsArgs are the arguments of get_exam_results. Subject and
// ExamType are optional filters; empty means all.
type ExamResultsArgs struct {
	StudentID string `json:"student_id" validate:"required"`
	Subject   string `json:"subject,omitempty"`
	ExamType  string `json:"exam_type,omitempty"`
}

// AnalyzePerformanceArgs are the arguments of analyze_student_performance.
type AnalyzePerformanceArgs struct {
	StudentID string `json:"student_id" validate:"required"`
}

// ClassPerformanceArgs are the arguments of get_class_performance.
type ClassPerformanceArgs struct {
	ClassID string `json:"class_id" validate:"required"`
}
