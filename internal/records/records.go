// Package records maps raw CSV records to typed store documents and
// derives their stable identity keys.
package records

import (
	"strconv"
	"strings"

	"marksportal/internal/csvrec"
)

// Collection names. Relationships between collections are denormalized
// string matches; nothing enforces them.
const (
	CollStudents    = "students"
	CollFaculty     = "faculty"
	CollSubjects    = "subjects"
	CollAssignments = "facultyAssignments"
	CollMarks       = "marks"
	CollRoles       = "roles"
	CollNotices     = "notices"
	CollPurgeLogs   = "purgeLogs"
)

// Roles. The role document is the sole authorization input.
const (
	RoleAdmin   = "ADMIN"
	RoleFaculty = "FACULTY"
	RoleStudent = "STUDENT"
)

// DefaultExamType applies when a mark row carries no examType.
const DefaultExamType = "REGULAR"

// KeySep joins composite key components. Components containing the
// separator make keys ambiguous; that collision risk is accepted, matching
// the stored data.
const KeySep = "_"

// ValidRole reports whether role (already upper-cased) is a known role.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return true
	}
	return false
}

// Transformer maps one raw record to a validated document for its
// collection. Implementations are pure: numeric fields parse with a
// default of 0, never an error.
type Transformer interface {
	Collection() string

	// Key derives the record's stable identity, or "" when a designated
	// key field is empty after trimming (such records are skipped, not
	// fatal). Rows with the same key upsert, never duplicate.
	Key(rec csvrec.Record) string

	// Fields builds the stored fields. ts is the store's server-clock
	// token, stamped so ordering ignores client clock skew.
	Fields(rec csvrec.Record, ts any) map[string]any
}

// Student rows are keyed by roll number.
type Student struct{}

func (Student) Collection() string { return CollStudents }

func (Student) Key(rec csvrec.Record) string { return strings.TrimSpace(rec["roll"]) }

func (Student) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"roll":      rec["roll"],
		"name":      rec["name"],
		"branch":    rec["branch"],
		"semester":  rec["semester"],
		"section":   rec["section"],
		"phone":     rec["phone"],
		"email":     rec["email"],
		"createdAt": ts,
	}
}

// Faculty rows are keyed by faculty id.
type Faculty struct{}

func (Faculty) Collection() string { return CollFaculty }

func (Faculty) Key(rec csvrec.Record) string { return strings.TrimSpace(rec["facultyId"]) }

func (Faculty) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"facultyId": rec["facultyId"],
		"name":      rec["name"],
		"branch":    rec["branch"],
		"phone":     rec["phone"],
		"email":     rec["email"],
		"createdAt": ts,
	}
}

// Subject rows are keyed by subject code.
type Subject struct{}

func (Subject) Collection() string { return CollSubjects }

func (Subject) Key(rec csvrec.Record) string { return strings.TrimSpace(rec["subjectCode"]) }

func (Subject) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"subjectCode": rec["subjectCode"],
		"subjectName": rec["subjectName"],
		"semester":    rec["semester"],
		"branch":      rec["branch"],
		"credits":     Number(rec["credits"]),
		"subjectType": rec["subjectType"],
		"createdAt":   ts,
	}
}

// Assignment rows are keyed by facultyId_subjectCode_section.
type Assignment struct{}

func (Assignment) Collection() string { return CollAssignments }

func (Assignment) Key(rec csvrec.Record) string {
	return CompositeKey(rec["facultyId"], rec["subjectCode"], rec["section"])
}

func (Assignment) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"facultyId":   rec["facultyId"],
		"facultyName": rec["facultyName"],
		"subjectCode": rec["subjectCode"],
		"subjectName": rec["subjectName"],
		"semester":    rec["semester"],
		"branch":      rec["branch"],
		"section":     rec["section"],
		"createdAt":   ts,
	}
}

// Mark rows are keyed by roll_subjectCode_examType; examType defaults to
// REGULAR when absent.
type Mark struct{}

func (Mark) Collection() string { return CollMarks }

func (Mark) Key(rec csvrec.Record) string {
	return CompositeKey(rec["roll"], rec["subjectCode"], ExamType(rec["examType"]))
}

func (Mark) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"roll":          rec["roll"],
		"subjectCode":   rec["subjectCode"],
		"subjectName":   rec["subjectName"],
		"internalMarks": Number(rec["internalMarks"]),
		"externalMarks": Number(rec["externalMarks"]),
		"totalMarks":    Number(rec["totalMarks"]),
		"semester":      rec["semester"],
		"branch":        rec["branch"],
		"section":       rec["section"],
		"examType":      ExamType(rec["examType"]),
		"updatedAt":     ts,
	}
}

// Role rows are keyed by principal UID. Role strings normalize to upper
// case; anything outside the known set yields an absent key so the row is
// skipped instead of minting an unauthorizable role document.
type Role struct{}

func (Role) Collection() string { return CollRoles }

func (Role) Key(rec csvrec.Record) string {
	if !ValidRole(strings.ToUpper(strings.TrimSpace(rec["role"]))) {
		return ""
	}
	return strings.TrimSpace(rec["uid"])
}

func (Role) Fields(rec csvrec.Record, ts any) map[string]any {
	return map[string]any{
		"role":      strings.ToUpper(strings.TrimSpace(rec["role"])),
		"email":     rec["email"],
		"updatedAt": ts,
	}
}

// ByEntity is the dispatch table from API entity names to transformers.
var ByEntity = map[string]Transformer{
	"students":    Student{},
	"faculty":     Faculty{},
	"subjects":    Subject{},
	"assignments": Assignment{},
	"marks":       Mark{},
	"roles":       Role{},
}

// CompositeKey joins components with KeySep; any empty component makes the
// whole key absent.
func CompositeKey(parts ...string) string {
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		parts[i] = p
	}
	return strings.Join(parts, KeySep)
}

// Number coerces a field to a number, defaulting to 0 on failure or
// absence.
func Number(s string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return n
}

// ExamType normalizes an exam type, applying the default when empty.
func ExamType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultExamType
	}
	return s
}
