// Package roster holds the attendance domain model and the mapping between the
// normalized remote rows and the per-class, per-date records kept in memory.
package roster

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is the calendar-day format used for attendance dates.
const DateLayout = "2006-01-02"

// Class represents a named group of students.
type Class struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Student belongs to exactly one class.
type Student struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ClassID string `json:"classId"`
}

// AttendanceRecord is the sparse presence map of one class on one date.
// A student without an entry is present.
type AttendanceRecord struct {
	Date    string          `json:"date"`
	ClassID string          `json:"classId"`
	Records map[string]bool `json:"records"`
}

// Row is one remote attendance row, unique per (class, student, date).
type Row struct {
	ClassID   string `json:"class_id"`
	StudentID string `json:"student_id"`
	Date      string `json:"date"`
	Present   bool   `json:"present"`
}

// ClassSummary is a class with its current student count.
type ClassSummary struct {
	Class
	StudentCount int `json:"studentCount"`
}

// RollEntry is a student with the resolved presence for one date.
type RollEntry struct {
	Student
	Present bool `json:"present"`
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// NameKey returns the key used for case-insensitive name uniqueness.
func NameKey(name string) string {
	// Casers keep state, so one is built per call.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// Clone returns a deep copy of the record.
func (r AttendanceRecord) Clone() AttendanceRecord {
	out := AttendanceRecord{Date: r.Date, ClassID: r.ClassID, Records: make(map[string]bool, len(r.Records))}
	for k, v := range r.Records {
		out.Records[k] = v
	}
	return out
}
