package roster

import "sort"

type recordKey struct {
	classID string
	date    string
}

// GroupRows folds remote rows into one record per (class, date). Records come
// out in the order their pair was first seen; a later row for the same student
// overwrites an earlier one.
func GroupRows(rows []Row) []AttendanceRecord {
	index := make(map[recordKey]int)
	var out []AttendanceRecord
	for _, row := range rows {
		k := recordKey{classID: row.ClassID, date: row.Date}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, AttendanceRecord{Date: row.Date, ClassID: row.ClassID, Records: map[string]bool{}})
		}
		out[i].Records[row.StudentID] = row.Present
	}
	return out
}

// Flatten expands a record into one row per materialized entry, ordered by
// student id.
func Flatten(rec AttendanceRecord) []Row {
	ids := make([]string, 0, len(rec.Records))
	for id := range rec.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, Row{ClassID: rec.ClassID, StudentID: id, Date: rec.Date, Present: rec.Records[id]})
	}
	return rows
}

// WithoutClass drops the class with id along with its students and records.
func WithoutClass(classes []Class, students []Student, records []AttendanceRecord, id string) ([]Class, []Student, []AttendanceRecord) {
	keptClasses := classes[:0:0]
	for _, c := range classes {
		if c.ID != id {
			keptClasses = append(keptClasses, c)
		}
	}
	keptStudents := students[:0:0]
	for _, s := range students {
		if s.ClassID != id {
			keptStudents = append(keptStudents, s)
		}
	}
	keptRecords := records[:0:0]
	for _, r := range records {
		if r.ClassID != id {
			keptRecords = append(keptRecords, r)
		}
	}
	return keptClasses, keptStudents, keptRecords
}

// WithoutStudents drops every student whose id is in ids.
func WithoutStudents(students []Student, ids map[string]struct{}) []Student {
	kept := students[:0:0]
	for _, s := range students {
		if _, gone := ids[s.ID]; !gone {
			kept = append(kept, s)
		}
	}
	return kept
}

// StripStudents removes the ids from every record's map in place. Records are
// kept even when their map ends up empty.
func StripStudents(records []AttendanceRecord, ids map[string]struct{}) {
	for _, r := range records {
		for id := range ids {
			delete(r.Records, id)
		}
	}
}

// IDSet builds a membership set from ids.
func IDSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
