// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chalkline-ai/chalkline/internal/domain/records"
)

// RecordStore implements records.Store with in-memory maps.
// Thread-safe for concurrent access. For development/testing only.
type RecordStore struct {
	students   map[string]*records.StudentProfile
	classes    map[string]*records.Class
	teachers   map[string]*records.TeacherAssignments
	attendance map[string][]records.AttendanceRecord
	exams      map[string][]records.ExamResult
	mu         sync.RWMutex
}

// Compile-time interface verification.
var (
	_ records.Store  = (*RecordStore)(nil)
	_ records.Writer = (*RecordStore)(nil)
)

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		students:   make(map[string]*records.StudentProfile),
		classes:    make(map[string]*records.Class),
		teachers:   make(map[string]*records.TeacherAssignments),
		attendance: make(map[string][]records.AttendanceRecord),
		exams:      make(map[string][]records.ExamResult),
	}
}

// StudentByID retrieves a student profile by ID.
func (s *RecordStore) StudentByID(ctx context.Context, studentID string) (*records.StudentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %q: %w", studentID, records.ErrNotFound)
	}

	// Return a copy to prevent mutation
	pCopy := *p
	return &pCopy, nil
}

// StudentsByClass lists a class's students sorted by roll number.
func (s *RecordStore) StudentsByClass(ctx context.Context, classID string) ([]records.StudentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.classes[classID]; !ok {
		return nil, fmt.Errorf("class %q: %w", classID, records.ErrNotFound)
	}

	var out []records.StudentProfile
	for _, p := range s.students {
		if p.ClassID == classID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RollNumber < out[j].RollNumber })
	return out, nil
}

// ClassByID retrieves a class by ID.
func (s *RecordStore) ClassByID(ctx context.Context, classID string) (*records.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class %q: %w", classID, records.ErrNotFound)
	}
	cCopy := *c
	return &cCopy, nil
}

// Attendance lists a student's attendance rows within the range,
// sorted by date ascending.
func (s *RecordStore) Attendance(ctx context.Context, studentID string, rng records.DateRange) ([]records.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.students[studentID]; !ok {
		return nil, fmt.Errorf("student %q: %w", studentID, records.ErrNotFound)
	}

	out := make([]records.AttendanceRecord, 0)
	for _, r := range s.attendance[studentID] {
		if !rng.Start.IsZero() && r.Date.Before(rng.Start) {
			continue
		}
		if !rng.End.IsZero() && r.Date.After(rng.End) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ExamResults lists a student's exam rows, newest first.
func (s *RecordStore) ExamResults(ctx context.Context, studentID string, subject string) ([]records.ExamResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.students[studentID]; !ok {
		return nil, fmt.Errorf("student %q: %w", studentID, records.ErrNotFound)
	}

	out := make([]records.ExamResult, 0)
	for _, e := range s.exams[studentID] {
		if subject != "" && !strings.EqualFold(e.Subject, subject) {
			continue
		}
		out = append(out, e)
	}
	sortExams(out)
	return out, nil
}

// ExamResultsByClass lists exam rows for every student of a class.
func (s *RecordStore) ExamResultsByClass(ctx context.Context, classID string) ([]records.ExamResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.classes[classID]; !ok {
		return nil, fmt.Errorf("class %q: %w", classID, records.ErrNotFound)
	}

	out := make([]records.ExamResult, 0)
	for id, p := range s.students {
		if p.ClassID != classID {
			continue
		}
		out = append(out, s.exams[id]...)
	}
	sortExams(out)
	return out, nil
}

// AssignmentsByTeacher retrieves a teacher's class assignments.
func (s *RecordStore) AssignmentsByTeacher(ctx context.Context, teacherRef string) (*records.TeacherAssignments, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.teachers[teacherRef]
	if !ok {
		return nil, fmt.Errorf("teacher %q: %w", teacherRef, records.ErrNotFound)
	}

	aCopy := *a
	aCopy.ClassIDs = make([]string, len(a.ClassIDs))
	copy(aCopy.ClassIDs, a.ClassIDs)
	return &aCopy, nil
}

// UpsertClass adds or replaces a class.
func (s *RecordStore) UpsertClass(ctx context.Context, class records.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cCopy := class
	s.classes[class.ClassID] = &cCopy
	return nil
}

// UpsertStudent adds or replaces a student.
func (s *RecordStore) UpsertStudent(ctx context.Context, p records.StudentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pCopy := p
	s.students[p.StudentID] = &pCopy
	return nil
}

// UpsertTeacher adds or replaces a teacher and its assignments.
func (s *RecordStore) UpsertTeacher(ctx context.Context, teacherRef, name string, classIDs []string, homeroomClassID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(classIDs))
	copy(ids, classIDs)
	sort.Strings(ids)
	s.teachers[teacherRef] = &records.TeacherAssignments{
		TeacherRef:      teacherRef,
		ClassIDs:        ids,
		HomeroomClassID: homeroomClassID,
	}
	return nil
}

// InsertAttendance records one day of attendance, replacing an
// existing row for the same date.
func (s *RecordStore) InsertAttendance(ctx context.Context, studentID string, date time.Time, status records.AttendanceStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid attendance status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.attendance[studentID]
	for i, r := range rows {
		if r.Date.Equal(date) {
			rows[i].Status = status
			return nil
		}
	}
	s.attendance[studentID] = append(rows, records.AttendanceRecord{Date: date, Status: status})
	return nil
}

// InsertExamResult records one graded exam.
func (s *RecordStore) InsertExamResult(ctx context.Context, r records.ExamResult) error {
	if !r.ExamType.IsValid() {
		return fmt.Errorf("invalid exam type %q", r.ExamType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[r.StudentID] = append(s.exams[r.StudentID], r)
	return nil
}

func sortExams(out []records.ExamResult) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExamDate.Equal(out[j].ExamDate) {
			return out[i].ExamDate.After(out[j].ExamDate)
		}
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].StudentID < out[j].StudentID
	})
}

