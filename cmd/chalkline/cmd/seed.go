package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chalkline-ai/chalkline/internal/adapter/outbound/sqlite"
	"github.com/chalkline-ai/chalkline/internal/config"
	"github.com/chalkline-ai/chalkline/internal/domain/records"
)

var (
	seedTenant string
	seedFile   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load record fixtures into a tenant database",
	Long: `Load school records from a YAML fixture file into a tenant's
database. The tenant must be declared in the config file; its database
is created if it does not exist yet.

Rows are upserted, so seeding the same file twice is safe.

Fixture format:
  classes:
    - class_id: CLS_10A
      name: Grade 10 Section A
      grade: 10
      section: A
      academic_year: "2025-2026"
  students:
    - student_id: STU_ALICE
      name: Alice Johnson
      roll_number: "10A-01"
      class_id: CLS_10A
  teachers:
    - teacher_ref: TCH_JOHN
      name: John Mathews
      class_ids: [CLS_10A]
      homeroom_class_id: CLS_10A
  attendance:
    - student_id: STU_ALICE
      date: 2026-01-12
      status: present
  exam_results:
    - student_id: STU_ALICE
      subject: Mathematics
      exam_type: midterm
      exam_date: 2026-02-10
      marks_obtained: 90
      max_marks: 100

Example:
  chalkline seed --tenant demo_school --file fixtures.yaml`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedTenant, "tenant", "", "tenant ID to seed (required)")
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML fixture file (required)")
	_ = seedCmd.MarkFlagRequired("tenant")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

// fixtureFile is the YAML schema for seed fixtures.
type fixtureFile struct {
	Classes []struct {
		ClassID      string `yaml:"class_id"`
		Name         string `yaml:"name"`
		Grade        int    `yaml:"grade"`
		Section      string `yaml:"section"`
		AcademicYear string `yaml:"academic_year"`
	} `yaml:"classes"`

	Students []struct {
		StudentID     string `yaml:"student_id"`
		Name          string `yaml:"name"`
		Email         string `yaml:"email"`
		RollNumber    string `yaml:"roll_number"`
		ClassID       string `yaml:"class_id"`
		Grade         int    `yaml:"grade"`
		Section       string `yaml:"section"`
		AdmissionDate string `yaml:"admission_date"`
		GuardianPhone string `yaml:"guardian_phone"`
		GuardianEmail string `yaml:"guardian_email"`
	} `yaml:"students"`

	Teachers []struct {
		TeacherRef      string   `yaml:"teacher_ref"`
		Name            string   `yaml:"name"`
		ClassIDs        []string `yaml:"class_ids"`
		HomeroomClassID string   `yaml:"homeroom_class_id"`
	} `yaml:"teachers"`

	Attendance []struct {
		StudentID string `yaml:"student_id"`
		Date      string `yaml:"date"`
		Status    string `yaml:"status"`
	} `yaml:"attendance"`

	ExamResults []struct {
		StudentID     string  `yaml:"student_id"`
		Subject       string  `yaml:"subject"`
		ExamType      string  `yaml:"exam_type"`
		ExamDate      string  `yaml:"exam_date"`
		MarksObtained float64 `yaml:"marks_obtained"`
		MaxMarks      float64 `yaml:"max_marks"`
		Grade         string  `yaml:"grade"`
		Remarks       string  `yaml:"remarks"`
	} `yaml:"exam_results"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var dbPath string
	for _, t := range cfg.Tenants {
		if t.ID == seedTenant {
			dbPath = t.DBPath
			break
		}
	}
	if dbPath == "" {
		return fmt.Errorf("tenant %q is not declared in the config file", seedTenant)
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("reading fixture file: %w", err)
	}
	var fixtures fixtureFile
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("parsing fixture file: %w", err)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening records database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := loadFixtures(ctx, store, &fixtures); err != nil {
		return err
	}

	fmt.Printf("seeded tenant %q: %d classes, %d students, %d teachers, %d attendance rows, %d exam results\n",
		seedTenant,
		len(fixtures.Classes), len(fixtures.Students), len(fixtures.Teachers),
		len(fixtures.Attendance), len(fixtures.ExamResults),
	)
	return nil
}

func loadFixtures(ctx context.Context, w records.Writer, fixtures *fixtureFile) error {
	for _, c := range fixtures.Classes {
		err := w.UpsertClass(ctx, records.Class{
			ClassID:      c.ClassID,
			Name:         c.Name,
			Grade:        c.Grade,
			Section:      c.Section,
			AcademicYear: c.AcademicYear,
		})
		if err != nil {
			return fmt.Errorf("class %q: %w", c.ClassID, err)
		}
	}

	for _, s := range fixtures.Students {
		err := w.UpsertStudent(ctx, records.StudentProfile{
			StudentID:     s.StudentID,
			Name:          s.Name,
			Email:         s.Email,
			RollNumber:    s.RollNumber,
			ClassID:       s.ClassID,
			Grade:         s.Grade,
			Section:       s.Section,
			AdmissionDate: s.AdmissionDate,
			GuardianPhone: s.GuardianPhone,
			GuardianEmail: s.GuardianEmail,
		})
		if err != nil {
			return fmt.Errorf("student %q: %w", s.StudentID, err)
		}
	}

	for _, t := range fixtures.Teachers {
		if err := w.UpsertTeacher(ctx, t.TeacherRef, t.Name, t.ClassIDs, t.HomeroomClassID); err != nil {
			return fmt.Errorf("teacher %q: %w", t.TeacherRef, err)
		}
	}

	for _, a := range fixtures.Attendance {
		date, err := time.Parse("2006-01-02", a.Date)
		if err != nil {
			return fmt.Errorf("attendance for %q: bad date %q (want YYYY-MM-DD)", a.StudentID, a.Date)
		}
		status := records.AttendanceStatus(a.Status)
		if !status.IsValid() {
			return fmt.Errorf("attendance for %q: unknown status %q", a.StudentID, a.Status)
		}
		if err := w.InsertAttendance(ctx, a.StudentID, date, status); err != nil {
			return fmt.Errorf("attendance for %q: %w", a.StudentID, err)
		}
	}

	for _, e := range fixtures.ExamResults {
		examDate, err := time.Parse("2006-01-02", e.ExamDate)
		if err != nil {
			return fmt.Errorf("exam result for %q: bad date %q (want YYYY-MM-DD)", e.StudentID, e.ExamDate)
		}
		examType := records.ExamType(e.ExamType)
		if !examType.IsValid() {
			return fmt.Errorf("exam result for %q: unknown exam type %q", e.StudentID, e.ExamType)
		}
		err = w.InsertExamResult(ctx, records.ExamResult{
			StudentID:     e.StudentID,
			Subject:       e.Subject,
			ExamType:      examType,
			ExamDate:      examDate,
			MarksObtained: e.MarksObtained,
			MaxMarks:      e.MaxMarks,
			Grade:         e.Grade,
			Remarks:       e.Remarks,
		})
		if err != nil {
			return fmt.Errorf("exam result for %q: %w", e.StudentID, err)
		}
	}

	return nil
}
