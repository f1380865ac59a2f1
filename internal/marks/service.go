package marks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"marksportal/internal/records"
	"marksportal/internal/store"
)

// ErrNotAssigned is returned when a faculty member saves marks for a
// subject and section outside their assignment list.
var ErrNotAssigned = errors.New("faculty not assigned to subject and section")

// ErrStudentNotFound is returned by Profile for an unknown roll.
var ErrStudentNotFound = errors.New("student not found")

// Scoper decides whether a faculty member may enter marks for a subject
// and section. The access gate implements it.
type Scoper interface {
	CanEnterMarks(ctx context.Context, facultyID, subjectCode, section string) (bool, error)
}

// Service wraps mark reads and writes over the document store.
type Service struct {
	store store.Gateway
	scope Scoper
	log   *logrus.Entry
}

func NewService(gw store.Gateway, scope Scoper, log *logrus.Entry) *Service {
	return &Service{store: gw, scope: scope, log: log}
}

// SubjectRef is one row of a faculty member's assignment list.
type SubjectRef struct {
	SubjectCode string `json:"subjectCode"`
	SubjectName string `json:"subjectName"`
	Semester    string `json:"semester"`
	Branch      string `json:"branch"`
	Section     string `json:"section"`
}

// AssignedSubjects lists the subject/section pairs a faculty member
// teaches, ordered by subject code then section.
func (s *Service) AssignedSubjects(ctx context.Context, facultyID string) ([]SubjectRef, error) {
	docs, err := s.store.QueryEqual(ctx, records.CollAssignments, "facultyId", facultyID, 0)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	refs := make([]SubjectRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, SubjectRef{
			SubjectCode: fieldString(d.Fields, "subjectCode"),
			SubjectName: fieldString(d.Fields, "subjectName"),
			Semester:    fieldString(d.Fields, "semester"),
			Branch:      fieldString(d.Fields, "branch"),
			Section:     fieldString(d.Fields, "section"),
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].SubjectCode != refs[j].SubjectCode {
			return refs[i].SubjectCode < refs[j].SubjectCode
		}
		return refs[i].Section < refs[j].Section
	})
	return refs, nil
}

// RosterEntry is one student in a class roster.
type RosterEntry struct {
	Roll string `json:"roll"`
	Name string `json:"name"`
}

// ClassRoster lists students of a branch filtered to the given semester
// and section, ordered by roll. The store indexes only single-field
// equality, so semester and section filter client-side.
func (s *Service) ClassRoster(ctx context.Context, branch, semester, section string) ([]RosterEntry, error) {
	docs, err := s.store.QueryEqual(ctx, records.CollStudents, "branch", branch, 0)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	roster := make([]RosterEntry, 0, len(docs))
	for _, d := range docs {
		if semester != "" && fieldString(d.Fields, "semester") != semester {
			continue
		}
		if section != "" && fieldString(d.Fields, "section") != section {
			continue
		}
		roster = append(roster, RosterEntry{
			Roll: fieldString(d.Fields, "roll"),
			Name: fieldString(d.Fields, "name"),
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Roll < roster[j].Roll })
	return roster, nil
}

// GridMarks returns existing marks for a subject, keyed by roll, so the
// entry grid can prefill. Filtered to the section and exam type.
func (s *Service) GridMarks(ctx context.Context, subjectCode, section, examType string) (map[string]MarkRow, error) {
	examType = records.ExamType(examType)
	docs, err := s.store.QueryEqual(ctx, records.CollMarks, "subjectCode", subjectCode, 0)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}
	out := make(map[string]MarkRow)
	for _, d := range docs {
		if section != "" && fieldString(d.Fields, "section") != section {
			continue
		}
		if fieldString(d.Fields, "examType") != examType {
			continue
		}
		row := rowFromDoc(d)
		out[row.Roll] = row
	}
	return out, nil
}

// Entry is one student's scores in a grid save.
type Entry struct {
	Roll     string  `json:"roll"`
	Internal float64 `json:"internalMarks"`
	External float64 `json:"externalMarks"`
}

// GridInput is a full grid save for one subject, section and exam type.
type GridInput struct {
	FacultyID   string  `json:"-"`
	SubjectCode string  `json:"subjectCode"`
	SubjectName string  `json:"subjectName"`
	Semester    string  `json:"semester"`
	Branch      string  `json:"branch"`
	Section     string  `json:"section"`
	ExamType    string  `json:"examType"`
	Entries     []Entry `json:"entries"`
}

// SaveGrid upserts one mark document per entry, keyed by
// roll_subjectCode_examType. Non-admin callers must hold the matching
// faculty assignment. Entries with blank rolls are skipped. Returns the
// number of documents written.
func (s *Service) SaveGrid(ctx context.Context, in GridInput, admin bool) (int, error) {
	in.SubjectCode = strings.TrimSpace(in.SubjectCode)
	if in.SubjectCode == "" {
		return 0, errors.New("subject code required")
	}
	in.ExamType = records.ExamType(in.ExamType)

	if !admin {
		ok, err := s.scope.CanEnterMarks(ctx, in.FacultyID, in.SubjectCode, in.Section)
		if err != nil {
			return 0, fmt.Errorf("check assignment: %w", err)
		}
		if !ok {
			return 0, ErrNotAssigned
		}
	}

	saved := 0
	batch := s.store.NewBatch()
	ts := s.store.ServerTimestamp()
	for _, e := range in.Entries {
		roll := strings.TrimSpace(e.Roll)
		if roll == "" {
			continue
		}
		key := records.CompositeKey(roll, in.SubjectCode, in.ExamType)
		batch.Set(records.CollMarks, key, map[string]any{
			"roll":          roll,
			"subjectCode":   in.SubjectCode,
			"subjectName":   in.SubjectName,
			"internalMarks": e.Internal,
			"externalMarks": e.External,
			"totalMarks":    e.Internal + e.External,
			"semester":      in.Semester,
			"branch":        in.Branch,
			"section":       in.Section,
			"examType":      in.ExamType,
			"updatedAt":     ts,
		}, true)
		saved++
		if saved%store.MaxBatchOps == 0 {
			if err := batch.Commit(ctx); err != nil {
				return saved - store.MaxBatchOps, fmt.Errorf("commit marks: %w", err)
			}
			batch = s.store.NewBatch()
		}
	}
	if saved%store.MaxBatchOps != 0 {
		if err := batch.Commit(ctx); err != nil {
			return saved - saved%store.MaxBatchOps, fmt.Errorf("commit marks: %w", err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"subject":  in.SubjectCode,
		"section":  in.Section,
		"examType": in.ExamType,
		"saved":    saved,
	}).Info("marks grid saved")
	return saved, nil
}

// MarkRow is one mark with its derived grade and subject credits.
type MarkRow struct {
	Roll        string  `json:"roll"`
	SubjectCode string  `json:"subjectCode"`
	SubjectName string  `json:"subjectName"`
	Internal    float64 `json:"internalMarks"`
	External    float64 `json:"externalMarks"`
	Total       float64 `json:"totalMarks"`
	Semester    string  `json:"semester"`
	Section     string  `json:"section"`
	ExamType    string  `json:"examType"`
	Grade       string  `json:"grade"`
	Credits     float64 `json:"credits"`
}

// SemesterReport groups a student's marks by semester with the SGPA.
type SemesterReport struct {
	Semester string    `json:"semester"`
	Rows     []MarkRow `json:"marks"`
	SGPA     float64   `json:"sgpa"`
}

// Profile returns a student document by roll.
func (s *Service) Profile(ctx context.Context, roll string) (map[string]any, error) {
	doc, ok, err := s.store.GetByKey(ctx, records.CollStudents, roll)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	if !ok {
		return nil, ErrStudentNotFound
	}
	return doc.Fields, nil
}

// StudentMarks builds per-semester reports for a student. Credits come
// from the subject documents, defaulting when absent. Semesters sort
// ascending; within a semester, rows sort by subject code.
func (s *Service) StudentMarks(ctx context.Context, roll string) ([]SemesterReport, error) {
	docs, err := s.store.QueryEqual(ctx, records.CollMarks, "roll", roll, 0)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}

	bySem := make(map[string][]MarkRow)
	for _, d := range docs {
		row := rowFromDoc(d)
		row.Credits = s.subjectCredits(ctx, row.SubjectCode)
		bySem[row.Semester] = append(bySem[row.Semester], row)
	}

	semesters := make([]string, 0, len(bySem))
	for sem := range bySem {
		semesters = append(semesters, sem)
	}
	sort.Strings(semesters)

	reports := make([]SemesterReport, 0, len(semesters))
	for _, sem := range semesters {
		rows := bySem[sem]
		sort.Slice(rows, func(i, j int) bool { return rows[i].SubjectCode < rows[j].SubjectCode })
		points := make([]float64, len(rows))
		credits := make([]float64, len(rows))
		for i, r := range rows {
			points[i] = GradePoints(r.Grade)
			credits[i] = r.Credits
		}
		reports = append(reports, SemesterReport{Semester: sem, Rows: rows, SGPA: SGPA(points, credits)})
	}
	return reports, nil
}

func (s *Service) subjectCredits(ctx context.Context, subjectCode string) float64 {
	doc, ok, err := s.store.GetByKey(ctx, records.CollSubjects, subjectCode)
	if err != nil || !ok {
		return DefaultCredits
	}
	c := fieldNumber(doc.Fields, "credits")
	if c <= 0 {
		return DefaultCredits
	}
	return c
}

func rowFromDoc(d store.Doc) MarkRow {
	total := fieldNumber(d.Fields, "totalMarks")
	return MarkRow{
		Roll:        fieldString(d.Fields, "roll"),
		SubjectCode: fieldString(d.Fields, "subjectCode"),
		SubjectName: fieldString(d.Fields, "subjectName"),
		Internal:    fieldNumber(d.Fields, "internalMarks"),
		External:    fieldNumber(d.Fields, "externalMarks"),
		Total:       total,
		Semester:    fieldString(d.Fields, "semester"),
		Section:     fieldString(d.Fields, "section"),
		ExamType:    fieldString(d.Fields, "examType"),
		Grade:       Grade(total),
	}
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func fieldNumber(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
