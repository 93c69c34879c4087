// Package sqlite implements the per-tenant records store over a
// single SQLite database file. One Store is opened per tenant; the
// file path is the partition boundary, so no query in this package
// takes or filters by a tenant identifier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chalkline-ai/chalkline/internal/domain/records"
)

const schema = `
CREATE TABLE IF NOT EXISTS classes (
    class_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    grade INTEGER NOT NULL,
    section TEXT NOT NULL,
    academic_year TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS students (
    student_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    roll_number TEXT NOT NULL DEFAULT '',
    class_id TEXT NOT NULL REFERENCES classes(class_id),
    admission_date TEXT NOT NULL DEFAULT '',
    guardian_phone TEXT NOT NULL DEFAULT '',
    guardian_email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS teachers (
    teacher_ref TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    homeroom_class_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS teacher_classes (
    teacher_ref TEXT NOT NULL REFERENCES teachers(teacher_ref),
    class_id TEXT NOT NULL REFERENCES classes(class_id),
    PRIMARY KEY (teacher_ref, class_id)
);

CREATE TABLE IF NOT EXISTS attendance (
    student_id TEXT NOT NULL REFERENCES students(student_id),
    date TEXT NOT NULL,
    status TEXT NOT NULL,
    PRIMARY KEY (student_id, date)
);

CREATE TABLE IF NOT EXISTS exam_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    student_id TEXT NOT NULL REFERENCES students(student_id),
    subject TEXT NOT NULL,
    exam_type TEXT NOT NULL,
    exam_date TEXT NOT NULL,
    marks_obtained REAL NOT NULL,
    max_marks REAL NOT NULL,
    grade TEXT NOT NULL DEFAULT '',
    remarks TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);
CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_id, date);
CREATE INDEX IF NOT EXISTS idx_exam_student ON exam_results(student_id, subject);
CREATE INDEX IF NOT EXISTS idx_exam_date ON exam_results(exam_date);
`

const dateLayout = "2006-01-02"

// Store is a records store over one tenant's SQLite file.
type Store struct {
	db *sql.DB
}

var (
	_ records.Store  = (*Store)(nil)
	_ records.Writer = (*Store)(nil)
)

// Open opens (creating if needed) the tenant database at dbPath and
// initializes the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening records database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating records schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StudentByID retrieves one student profile joined with its class.
func (s *Store) StudentByID(ctx context.Context, studentID string) (*records.StudentProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.student_id, s.name, s.email, s.roll_number, s.class_id,
		       c.name, c.grade, c.section, s.admission_date,
		       s.guardian_phone, s.guardian_email
		FROM students s
		JOIN classes c ON c.class_id = s.class_id
		WHERE s.student_id = ?`, studentID)

	var p records.StudentProfile
	err := row.Scan(&p.StudentID, &p.Name, &p.Email, &p.RollNumber, &p.ClassID,
		&p.ClassName, &p.Grade, &p.Section, &p.AdmissionDate,
		&p.GuardianPhone, &p.GuardianEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %q: %w", studentID, records.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying student: %w", err)
	}
	return &p, nil
}

// StudentsByClass lists the profiles of a class, sorted by roll number.
func (s *Store) StudentsByClass(ctx context.Context, classID string) ([]records.StudentProfile, error) {
	if _, err := s.ClassByID(ctx, classID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.student_id, s.name, s.email, s.roll_number, s.class_id,
		       c.name, c.grade, c.section, s.admission_date,
		       s.guardian_phone, s.guardian_email
		FROM students s
		JOIN classes c ON c.class_id = s.class_id
		WHERE s.class_id = ?
		ORDER BY s.roll_number`, classID)
	if err != nil {
		return nil, fmt.Errorf("querying class students: %w", err)
	}
	defer rows.Close()

	var out []records.StudentProfile
	for rows.Next() {
		var p records.StudentProfile
		if err := rows.Scan(&p.StudentID, &p.Name, &p.Email, &p.RollNumber, &p.ClassID,
			&p.ClassName, &p.Grade, &p.Section, &p.AdmissionDate,
			&p.GuardianPhone, &p.GuardianEmail); err != nil {
			return nil, fmt.Errorf("scanning student row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClassByID retrieves one class.
func (s *Store) ClassByID(ctx context.Context, classID string) (*records.Class, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT class_id, name, grade, section, academic_year
		FROM classes WHERE class_id = ?`, classID)

	var c records.Class
	err := row.Scan(&c.ClassID, &c.Name, &c.Grade, &c.Section, &c.AcademicYear)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("class %q: %w", classID, records.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying class: %w", err)
	}
	return &c, nil
}

// Attendance lists a student's attendance rows within the range.
func (s *Store) Attendance(ctx context.Context, studentID string, rng records.DateRange) ([]records.AttendanceRecord, error) {
	if _, err := s.StudentByID(ctx, studentID); err != nil {
		return nil, err
	}

	query := `SELECT date, status FROM attendance WHERE student_id = ?`
	args := []any{studentID}
	if !rng.Start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, rng.Start.Format(dateLayout))
	}
	if !rng.End.IsZero() {
		query += ` AND date <= ?`
		args = append(args, rng.End.Format(dateLayout))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attendance: %w", err)
	}
	defer rows.Close()

	var out []records.AttendanceRecord
	for rows.Next() {
		var dateStr, status string
		if err := rows.Scan(&dateStr, &status); err != nil {
			return nil, fmt.Errorf("scanning attendance row: %w", err)
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing attendance date %q: %w", dateStr, err)
		}
		out = append(out, records.AttendanceRecord{Date: date, Status: records.AttendanceStatus(status)})
	}
	return out, rows.Err()
}

// ExamResults lists a student's exam rows, optionally filtered to a subject.
func (s *Store) ExamResults(ctx context.Context, studentID string, subject string) ([]records.ExamResult, error) {
	if _, err := s.StudentByID(ctx, studentID); err != nil {
		return nil, err
	}

	query := `SELECT student_id, subject, exam_type, exam_date, marks_obtained, max_marks, grade, remarks
	          FROM exam_results WHERE student_id = ?`
	args := []any{studentID}
	if subject != "" {
		query += ` AND subject = ? COLLATE NOCASE`
		args = append(args, subject)
	}
	query += ` ORDER BY exam_date DESC, subject`

	return s.queryExamResults(ctx, query, args...)
}

// ExamResultsByClass lists exam rows for every student of a class.
func (s *Store) ExamResultsByClass(ctx context.Context, classID string) ([]records.ExamResult, error) {
	if _, err := s.ClassByID(ctx, classID); err != nil {
		return nil, err
	}

	query := `SELECT e.student_id, e.subject, e.exam_type, e.exam_date, e.marks_obtained, e.max_marks, e.grade, e.remarks
	          FROM exam_results e
	          JOIN students s ON s.student_id = e.student_id
	          WHERE s.class_id = ?
	          ORDER BY e.exam_date DESC, e.subject, e.student_id`
	return s.queryExamResults(ctx, query, classID)
}

func (s *Store) queryExamResults(ctx context.Context, query string, args ...any) ([]records.ExamResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exam results: %w", err)
	}
	defer rows.Close()

	var out []records.ExamResult
	for rows.Next() {
		var r records.ExamResult
		var examType, dateStr string
		if err := rows.Scan(&r.StudentID, &r.Subject, &examType, &dateStr,
			&r.MarksObtained, &r.MaxMarks, &r.Grade, &r.Remarks); err != nil {
			return nil, fmt.Errorf("scanning exam row: %w", err)
		}
		r.ExamType = records.ExamType(examType)
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing exam date %q: %w", dateStr, err)
		}
		r.ExamDate = date
		out = append(out, r)
	}
	return out, rows.Err()
}

// AssignmentsByTeacher retrieves a teacher's class assignments.
func (s *Store) AssignmentsByTeacher(ctx context.Context, teacherRef string) (*records.TeacherAssignments, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT teacher_ref, homeroom_class_id FROM teachers WHERE teacher_ref = ?`, teacherRef)

	a := &records.TeacherAssignments{}
	err := row.Scan(&a.TeacherRef, &a.HomeroomClassID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("teacher %q: %w", teacherRef, records.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying teacher: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT class_id FROM teacher_classes WHERE teacher_ref = ? ORDER BY class_id`, teacherRef)
	if err != nil {
		return nil, fmt.Errorf("querying teacher classes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var classID string
		if err := rows.Scan(&classID); err != nil {
			return nil, fmt.Errorf("scanning teacher class row: %w", err)
		}
		a.ClassIDs = append(a.ClassIDs, classID)
	}
	return a, rows.Err()
}

// UpsertClass inserts or replaces a class row.
func (s *Store) UpsertClass(ctx context.Context, class records.Class) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (class_id, name, grade, section, academic_year)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(class_id) DO UPDATE SET
			name = excluded.name, grade = excluded.grade,
			section = excluded.section, academic_year = excluded.academic_year`,
		class.ClassID, class.Name, class.Grade, class.Section, class.AcademicYear)
	if err != nil {
		return fmt.Errorf("upserting class %q: %w", class.ClassID, err)
	}
	return nil
}

// UpsertStudent inserts or replaces a student row.
func (s *Store) UpsertStudent(ctx context.Context, p records.StudentProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (student_id, name, email, roll_number, class_id, admission_date, guardian_phone, guardian_email)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id) DO UPDATE SET
			name = excluded.name, email = excluded.email,
			roll_number = excluded.roll_number, class_id = excluded.class_id,
			admission_date = excluded.admission_date,
			guardian_phone = excluded.guardian_phone, guardian_email = excluded.guardian_email`,
		p.StudentID, p.Name, p.Email, p.RollNumber, p.ClassID, p.AdmissionDate, p.GuardianPhone, p.GuardianEmail)
	if err != nil {
		return fmt.Errorf("upserting student %q: %w", p.StudentID, err)
	}
	return nil
}

// UpsertTeacher inserts or replaces a teacher and its class assignments.
func (s *Store) UpsertTeacher(ctx context.Context, teacherRef, name string, classIDs []string, homeroomClassID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teachers (teacher_ref, name, homeroom_class_id)
		VALUES (?, ?, ?)
		ON CONFLICT(teacher_ref) DO UPDATE SET
			name = excluded.name, homeroom_class_id = excluded.homeroom_class_id`,
		teacherRef, name, homeroomClassID); err != nil {
		return fmt.Errorf("upserting teacher %q: %w", teacherRef, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM teacher_classes WHERE teacher_ref = ?`, teacherRef); err != nil {
		return fmt.Errorf("clearing teacher classes: %w", err)
	}
	for _, classID := range classIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO teacher_classes (teacher_ref, class_id) VALUES (?, ?)`,
			teacherRef, classID); err != nil {
			return fmt.Errorf("assigning class %q: %w", classID, err)
		}
	}
	return tx.Commit()
}

// InsertAttendance records one day of attendance, replacing any
// existing row for the same student and date.
func (s *Store) InsertAttendance(ctx context.Context, studentID string, date time.Time, status records.AttendanceStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid attendance status %q", status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (student_id, date, status) VALUES (?, ?, ?)
		ON CONFLICT(student_id, date) DO UPDATE SET status = excluded.status`,
		studentID, date.Format(dateLayout), string(status))
	if err != nil {
		return fmt.Errorf("inserting attendance: %w", err)
	}
	return nil
}

// InsertExamResult records one graded exam.
func (s *Store) InsertExamResult(ctx context.Context, r records.ExamResult) error {
	if !r.ExamType.IsValid() {
		return fmt.Errorf("invalid exam type %q", r.ExamType)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exam_results (student_id, subject, exam_type, exam_date, marks_obtained, max_marks, grade, remarks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StudentID, r.Subject, string(r.ExamType), r.ExamDate.Format(dateLayout),
		r.MarksObtained, r.MaxMarks, r.Grade, r.Remarks)
	if err != nil {
		return fmt.Errorf("inserting exam result: %w", err)
	}
	return nil
}
