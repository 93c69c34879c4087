package records

import (
	"fmt"
	"math"
	"sort"
)

// AttendanceReport is the shaped output of an attendance summary query.
type AttendanceReport struct {
	StudentID         string   `json:"student_id"`
	StudentName       string   `json:"student_name"`
	ClassName         string   `json:"class_name"`
	PeriodStart       string   `json:"period_start,omitempty"`
	PeriodEnd         string   `json:"period_end,omitempty"`
	TotalDays         int      `json:"total_days"`
	PresentDays       int      `json:"present_days"`
	AbsentDays        int      `json:"absent_days"`
	LateDays          int      `json:"late_days"`
	ExcusedDays       int      `json:"excused_days"`
	AttendancePercent float64  `json:"attendance_percent"`
	RecentAbsences    []string `json:"recent_absences"`
}

// maxRecentAbsences caps the absence dates listed in an attendance report.
const maxRecentAbsences = 10

// BuildAttendanceReport aggregates raw attendance rows into a report.
// Records may arrive in any order; the output is deterministic.
func BuildAttendanceReport(profile StudentProfile, rng DateRange, recs []AttendanceRecord) AttendanceReport {
	report := AttendanceReport{
		StudentID:      profile.StudentID,
		StudentName:    profile.Name,
		ClassName:      profile.ClassName,
		TotalDays:      len(recs),
		RecentAbsences: []string{},
	}
	if !rng.Start.IsZero() {
		report.PeriodStart = rng.Start.Format("2006-01-02")
	}
	if !rng.End.IsZero() {
		report.PeriodEnd = rng.End.Format("2006-01-02")
	}

	absences := make([]string, 0)
	for _, r := range recs {
		switch r.Status {
		case StatusPresent:
			report.PresentDays++
		case StatusAbsent:
			report.AbsentDays++
			absences = append(absences, r.Date.Format("2006-01-02"))
		case StatusLate:
			report.LateDays++
		case StatusExcused:
			report.ExcusedDays++
		}
	}

	if report.TotalDays > 0 {
		report.AttendancePercent = round2(float64(report.PresentDays) / float64(report.TotalDays) * 100)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(absences)))
	if len(absences) > maxRecentAbsences {
		absences = absences[:maxRecentAbsences]
	}
	report.RecentAbsences = absences
	return report
}

// ExamResultView is one exam row inside an exam report.
type ExamResultView struct {
	Subject       string  `json:"subject"`
	ExamType      string  `json:"exam_type"`
	ExamDate      string  `json:"exam_date"`
	MarksObtained float64 `json:"marks_obtained"`
	MaxMarks      float64 `json:"max_marks"`
	Percent       float64 `json:"percent"`
	Grade         string  `json:"grade"`
	Remarks       string  `json:"remarks,omitempty"`
}

// ExamReport is the shaped output of an exam results query.
type ExamReport struct {
	StudentID      string           `json:"student_id"`
	StudentName    string           `json:"student_name"`
	Subject        string           `json:"subject,omitempty"`
	Results        []ExamResultView `json:"results"`
	AveragePercent float64          `json:"average_percent"`
}

// BuildExamReport shapes exam rows into a report. Rows are sorted by exam
// date descending, then subject ascending, so the newest results lead.
func BuildExamReport(profile StudentProfile, subject string, results []ExamResult) ExamReport {
	report := ExamReport{
		StudentID:   profile.StudentID,
		StudentName: profile.Name,
		Subject:     subject,
		Results:     []ExamResultView{},
	}

	sorted := make([]ExamResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ExamDate.Equal(sorted[j].ExamDate) {
			return sorted[i].ExamDate.After(sorted[j].ExamDate)
		}
		return sorted[i].Subject < sorted[j].Subject
	})

	var sum float64
	for _, r := range sorted {
		pct := round2(r.Percentage())
		sum += pct
		report.Results = append(report.Results, ExamResultView{
			Subject:       r.Subject,
			ExamType:      string(r.ExamType),
			ExamDate:      r.ExamDate.Format("2006-01-02"),
			MarksObtained: r.MarksObtained,
			MaxMarks:      r.MaxMarks,
			Percent:       pct,
			Grade:         r.Grade,
			Remarks:       r.Remarks,
		})
	}
	if len(sorted) > 0 {
		report.AveragePercent = round2(sum / float64(len(sorted)))
	}
	return report
}

// SubjectAverage is the mean exam percentage for one subject.
type SubjectAverage struct {
	Subject   string  `json:"subject"`
	Average   float64 `json:"average"`
	ExamCount int     `json:"exam_count"`
}

// PerformanceAnalysis is the shaped output of the performance analysis tool.
// Building it twice from the same rows yields identical output.
type PerformanceAnalysis struct {
	StudentID         string           `json:"student_id"`
	StudentName       string           `json:"student_name"`
	ClassName         string           `json:"class_name"`
	OverallAverage    float64          `json:"overall_average"`
	SubjectAverages   []SubjectAverage `json:"subject_averages"`
	AttendancePercent float64          `json:"attendance_percent"`
	WeakSubjects      []string         `json:"weak_subjects"`
	Insights          []string         `json:"insights"`
	Recommendations   []string         `json:"recommendations"`
}

// DefaultWeakSubjectMargin is how many percentage points below the
// student's own overall average a subject must fall to be flagged weak.
const DefaultWeakSubjectMargin = 10.0

// BuildPerformanceAnalysis derives averages, weak subjects, and insight
// text from exam and attendance rows. margin controls weak-subject
// flagging; pass DefaultWeakSubjectMargin unless configured otherwise.
func BuildPerformanceAnalysis(profile StudentProfile, exams []ExamResult, attendance []AttendanceRecord, margin float64) PerformanceAnalysis {
	analysis := PerformanceAnalysis{
		StudentID:       profile.StudentID,
		StudentName:     profile.Name,
		ClassName:       profile.ClassName,
		SubjectAverages: []SubjectAverage{},
		WeakSubjects:    []string{},
		Insights:        []string{},
		Recommendations: []string{},
	}

	type subjectAcc struct {
		sum   float64
		count int
	}
	bySubject := make(map[string]*subjectAcc)
	var overallSum float64
	for _, e := range exams {
		pct := e.Percentage()
		overallSum += pct
		acc, ok := bySubject[e.Subject]
		if !ok {
			acc = &subjectAcc{}
			bySubject[e.Subject] = acc
		}
		acc.sum += pct
		acc.count++
	}
	if len(exams) > 0 {
		analysis.OverallAverage = round2(overallSum / float64(len(exams)))
	}

	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	for _, s := range subjects {
		acc := bySubject[s]
		analysis.SubjectAverages = append(analysis.SubjectAverages, SubjectAverage{
			Subject:   s,
			Average:   round2(acc.sum / float64(acc.count)),
			ExamCount: acc.count,
		})
	}

	// Weak subjects are ranked worst first so recommendations can key
	// off the head of the list.
	weak := make([]SubjectAverage, 0)
	for _, sa := range analysis.SubjectAverages {
		if sa.Average < analysis.OverallAverage-margin {
			weak = append(weak, sa)
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].Average != weak[j].Average {
			return weak[i].Average < weak[j].Average
		}
		return weak[i].Subject < weak[j].Subject
	})
	for _, sa := range weak {
		analysis.WeakSubjects = append(analysis.WeakSubjects, sa.Subject)
	}

	var present, total int
	for _, a := range attendance {
		total++
		if a.Status == StatusPresent {
			present++
		}
	}
	if total > 0 {
		analysis.AttendancePercent = round2(float64(present) / float64(total) * 100)
	}

	analysis.Insights = buildInsights(analysis)
	analysis.Recommendations = buildRecommendations(analysis)
	return analysis
}

func buildInsights(a PerformanceAnalysis) []string {
	insights := []string{}
	switch {
	case len(a.SubjectAverages) == 0:
		insights = append(insights, "No exam results recorded yet.")
	case a.OverallAverage >= 90:
		insights = append(insights, fmt.Sprintf("Excellent overall performance at %.2f%%.", a.OverallAverage))
	case a.OverallAverage >= 75:
		insights = append(insights, fmt.Sprintf("Good overall performance at %.2f%%.", a.OverallAverage))
	case a.OverallAverage >= 60:
		insights = append(insights, fmt.Sprintf("Average overall performance at %.2f%%.", a.OverallAverage))
	default:
		insights = append(insights, fmt.Sprintf("Overall performance at %.2f%% needs attention.", a.OverallAverage))
	}

	for _, s := range a.WeakSubjects {
		insights = append(insights, fmt.Sprintf("%s is notably below the overall average.", s))
	}

	switch {
	case a.AttendancePercent == 0:
	case a.AttendancePercent < 75:
		insights = append(insights, fmt.Sprintf("Attendance at %.2f%% is critically low.", a.AttendancePercent))
	case a.AttendancePercent < 85:
		insights = append(insights, fmt.Sprintf("Attendance at %.2f%% could be improved.", a.AttendancePercent))
	}
	return insights
}

func buildRecommendations(a PerformanceAnalysis) []string {
	recs := []string{}
	// Focus on the two lowest-ranked weak subjects.
	focus := a.WeakSubjects
	if len(focus) > 2 {
		focus = focus[:2]
	}
	for _, s := range focus {
		recs = append(recs, fmt.Sprintf("Schedule additional practice sessions for %s.", s))
	}
	if a.AttendancePercent > 0 && a.AttendancePercent < 85 {
		recs = append(recs, "Improve attendance to avoid missing classwork.")
	}
	if len(recs) == 0 && len(a.SubjectAverages) > 0 {
		recs = append(recs, "Keep up the consistent performance across subjects.")
	}
	return recs
}

// ClassSubjectAverage is the class-wide mean for one subject.
type ClassSubjectAverage struct {
	Subject string  `json:"subject"`
	Average float64 `json:"average"`
}

// TopPerformer is one entry in a class performance leaderboard.
type TopPerformer struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Average   float64 `json:"average"`
}

// ClassPerformance is the shaped output of a class-wide performance query.
type ClassPerformance struct {
	ClassID          string                `json:"class_id"`
	ClassName        string                `json:"class_name"`
	StudentCount     int                   `json:"student_count"`
	ClassAverage     float64               `json:"class_average"`
	SubjectAverages  []ClassSubjectAverage `json:"subject_averages"`
	TopPerformers    []TopPerformer        `json:"top_performers"`
	StrugglingCount  int                   `json:"struggling_count"`
	StrugglingCutoff float64               `json:"struggling_cutoff"`
}

// maxTopPerformers caps the leaderboard length.
const maxTopPerformers = 5

// strugglingCutoff is the per-student average below which a student
// counts toward StrugglingCount.
const strugglingCutoff = 60.0

// BuildClassPerformance aggregates exam rows for every student of a class.
// exams must already be scoped to students of the class; students supplies
// the names for the leaderboard.
func BuildClassPerformance(class Class, students []StudentProfile, exams []ExamResult) ClassPerformance {
	perf := ClassPerformance{
		ClassID:          class.ClassID,
		ClassName:        class.Name,
		StudentCount:     len(students),
		SubjectAverages:  []ClassSubjectAverage{},
		TopPerformers:    []TopPerformer{},
		StrugglingCutoff: strugglingCutoff,
	}

	type acc struct {
		sum   float64
		count int
	}
	bySubject := make(map[string]*acc)
	byStudent := make(map[string]*acc)
	var total acc
	for _, e := range exams {
		pct := e.Percentage()
		total.sum += pct
		total.count++

		sa, ok := bySubject[e.Subject]
		if !ok {
			sa = &acc{}
			bySubject[e.Subject] = sa
		}
		sa.sum += pct
		sa.count++

		st, ok := byStudent[e.StudentID]
		if !ok {
			st = &acc{}
			byStudent[e.StudentID] = st
		}
		st.sum += pct
		st.count++
	}
	if total.count > 0 {
		perf.ClassAverage = round2(total.sum / float64(total.count))
	}

	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	for _, s := range subjects {
		a := bySubject[s]
		perf.SubjectAverages = append(perf.SubjectAverages, ClassSubjectAverage{
			Subject: s,
			Average: round2(a.sum / float64(a.count)),
		})
	}

	nameByID := make(map[string]string, len(students))
	for _, s := range students {
		nameByID[s.StudentID] = s.Name
	}
	performers := make([]TopPerformer, 0, len(byStudent))
	for id, a := range byStudent {
		avg := round2(a.sum / float64(a.count))
		performers = append(performers, TopPerformer{StudentID: id, Name: nameByID[id], Average: avg})
		if avg < strugglingCutoff {
			perf.StrugglingCount++
		}
	}
	sort.Slice(performers, func(i, j int) bool {
		if performers[i].Average != performers[j].Average {
			return performers[i].Average > performers[j].Average
		}
		return performers[i].StudentID < performers[j].StudentID
	})
	if len(performers) > maxTopPerformers {
		performers = performers[:maxTopPerformers]
	}
	perf.TopPerformers = performers
	return perf
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
