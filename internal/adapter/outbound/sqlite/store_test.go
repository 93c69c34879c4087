package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chalkline-ai/chalkline/internal/domain/records"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "tenant.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTestStore(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.UpsertClass(ctx, records.Class{ClassID: "CLS_10A", Name: "Grade 10 A", Grade: 10, Section: "A", AcademicYear: "2025-2026"}); err != nil {
		t.Fatalf("UpsertClass() error = %v", err)
	}
	if err := s.UpsertClass(ctx, records.Class{ClassID: "CLS_9B", Name: "Grade 9 B", Grade: 9, Section: "B", AcademicYear: "2025-2026"}); err != nil {
		t.Fatalf("UpsertClass() error = %v", err)
	}

	students := []records.StudentProfile{
		{StudentID: "STU_ALICE", Name: "Alice", Email: "alice@demo.school", RollNumber: "10A-01", ClassID: "CLS_10A", AdmissionDate: "2023-06-01"},
		{StudentID: "STU_BOB", Name: "Bob", Email: "bob@demo.school", RollNumber: "10A-02", ClassID: "CLS_10A", AdmissionDate: "2023-06-01"},
		{StudentID: "STU_CARA", Name: "Cara", Email: "cara@demo.school", RollNumber: "9B-01", ClassID: "CLS_9B", AdmissionDate: "2024-06-01"},
	}
	for _, st := range students {
		if err := s.UpsertStudent(ctx, st); err != nil {
			t.Fatalf("UpsertStudent(%s) error = %v", st.StudentID, err)
		}
	}

	if err := s.UpsertTeacher(ctx, "TCH_JOHN", "John", []string{"CLS_10A"}, "CLS_10A"); err != nil {
		t.Fatalf("UpsertTeacher() error = %v", err)
	}

	days := []struct {
		date   string
		status records.AttendanceStatus
	}{
		{"2026-01-05", records.StatusPresent},
		{"2026-01-06", records.StatusAbsent},
		{"2026-01-07", records.StatusPresent},
		{"2026-02-02", records.StatusLate},
	}
	for _, d := range days {
		date, _ := time.Parse("2006-01-02", d.date)
		if err := s.InsertAttendance(ctx, "STU_ALICE", date, d.status); err != nil {
			t.Fatalf("InsertAttendance() error = %v", err)
		}
	}

	exams := []records.ExamResult{
		{StudentID: "STU_ALICE", Subject: "Math", ExamType: records.ExamMidterm, ExamDate: mustDay("2026-02-15"), MarksObtained: 85, MaxMarks: 100, Grade: "A"},
		{StudentID: "STU_ALICE", Subject: "Science", ExamType: records.ExamQuiz, ExamDate: mustDay("2026-01-20"), MarksObtained: 18, MaxMarks: 20, Grade: "A"},
		{StudentID: "STU_BOB", Subject: "Math", ExamType: records.ExamMidterm, ExamDate: mustDay("2026-02-15"), MarksObtained: 52, MaxMarks: 100, Grade: "D"},
	}
	for _, e := range exams {
		if err := s.InsertExamResult(ctx, e); err != nil {
			t.Fatalf("InsertExamResult() error = %v", err)
		}
	}
}

func mustDay(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStore_StudentByID(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		p, err := store.StudentByID(ctx, "STU_ALICE")
		if err != nil {
			t.Fatalf("StudentByID() error = %v", err)
		}
		if p.Name != "Alice" || p.ClassName != "Grade 10 A" || p.Grade != 10 {
			t.Errorf("profile = %+v", p)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.StudentByID(ctx, "STU_NOBODY")
		if !errors.Is(err, records.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_StudentsByClass(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	students, err := store.StudentsByClass(ctx, "CLS_10A")
	if err != nil {
		t.Fatalf("StudentsByClass() error = %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("len = %d, want 2", len(students))
	}
	if students[0].RollNumber != "10A-01" || students[1].RollNumber != "10A-02" {
		t.Errorf("roll order = %q, %q", students[0].RollNumber, students[1].RollNumber)
	}

	if _, err := store.StudentsByClass(ctx, "CLS_NOPE"); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("unknown class error = %v, want ErrNotFound", err)
	}
}

func TestStore_Attendance(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	t.Run("unbounded", func(t *testing.T) {
		recs, err := store.Attendance(ctx, "STU_ALICE", records.DateRange{})
		if err != nil {
			t.Fatalf("Attendance() error = %v", err)
		}
		if len(recs) != 4 {
			t.Errorf("len = %d, want 4", len(recs))
		}
	})

	t.Run("ranged", func(t *testing.T) {
		rng := records.DateRange{Start: mustDay("2026-01-06"), End: mustDay("2026-01-31")}
		recs, err := store.Attendance(ctx, "STU_ALICE", rng)
		if err != nil {
			t.Fatalf("Attendance() error = %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("len = %d, want 2", len(recs))
		}
		if recs[0].Status != records.StatusAbsent {
			t.Errorf("recs[0].Status = %v", recs[0].Status)
		}
	})

	t.Run("unknown student", func(t *testing.T) {
		if _, err := store.Attendance(ctx, "STU_NOBODY", records.DateRange{}); !errors.Is(err, records.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("empty but valid", func(t *testing.T) {
		recs, err := store.Attendance(ctx, "STU_BOB", records.DateRange{})
		if err != nil {
			t.Fatalf("Attendance() error = %v, want nil for student with no rows", err)
		}
		if len(recs) != 0 {
			t.Errorf("len = %d, want 0", len(recs))
		}
	})
}

func TestStore_ExamResults(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	t.Run("all subjects", func(t *testing.T) {
		results, err := store.ExamResults(ctx, "STU_ALICE", "")
		if err != nil {
			t.Fatalf("ExamResults() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("len = %d, want 2", len(results))
		}
		if results[0].Subject != "Math" {
			t.Errorf("results[0].Subject = %q, want newest first", results[0].Subject)
		}
	})

	t.Run("subject filter is case insensitive", func(t *testing.T) {
		results, err := store.ExamResults(ctx, "STU_ALICE", "math")
		if err != nil {
			t.Fatalf("ExamResults() error = %v", err)
		}
		if len(results) != 1 || results[0].Subject != "Math" {
			t.Errorf("results = %+v", results)
		}
	})
}

func TestStore_ExamResultsByClass(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)

	results, err := store.ExamResultsByClass(context.Background(), "CLS_10A")
	if err != nil {
		t.Fatalf("ExamResultsByClass() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("len = %d, want 3", len(results))
	}
}

func TestStore_AssignmentsByTeacher(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	a, err := store.AssignmentsByTeacher(ctx, "TCH_JOHN")
	if err != nil {
		t.Fatalf("AssignmentsByTeacher() error = %v", err)
	}
	if len(a.ClassIDs) != 1 || a.ClassIDs[0] != "CLS_10A" || a.HomeroomClassID != "CLS_10A" {
		t.Errorf("assignments = %+v", a)
	}

	if _, err := store.AssignmentsByTeacher(ctx, "TCH_GHOST"); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("unknown teacher error = %v, want ErrNotFound", err)
	}

	t.Run("reassignment replaces classes", func(t *testing.T) {
		if err := store.UpsertTeacher(ctx, "TCH_JOHN", "John", []string{"CLS_9B"}, ""); err != nil {
			t.Fatalf("UpsertTeacher() error = %v", err)
		}
		a, err := store.AssignmentsByTeacher(ctx, "TCH_JOHN")
		if err != nil {
			t.Fatalf("AssignmentsByTeacher() error = %v", err)
		}
		if len(a.ClassIDs) != 1 || a.ClassIDs[0] != "CLS_9B" {
			t.Errorf("ClassIDs = %v, want [CLS_9B]", a.ClassIDs)
		}
	})
}

func TestStore_InsertValidation(t *testing.T) {
	store := openTestStore(t)
	seedTestStore(t, store)
	ctx := context.Background()

	if err := store.InsertAttendance(ctx, "STU_ALICE", mustDay("2026-03-01"), records.AttendanceStatus("vacation")); err == nil {
		t.Error("InsertAttendance() with invalid status should error")
	}
	if err := store.InsertExamResult(ctx, records.ExamResult{StudentID: "STU_ALICE", Subject: "Math", ExamType: records.ExamType("pop")}); err == nil {
		t.Error("InsertExamResult() with invalid exam type should error")
	}
}
