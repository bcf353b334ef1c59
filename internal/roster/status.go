package roster

// Status is the three-valued result of looking a student up in a record.
type Status int

const (
	// StatusDefault means no entry was materialized; the student counts as present.
	StatusDefault Status = iota
	StatusPresent
	StatusAbsent
)

// Present collapses the status to the presence flag.
func (s Status) Present() bool { return s != StatusAbsent }

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusAbsent:
		return "absent"
	default:
		return "default"
	}
}

// StatusOf converts an explicit presence flag to a Status.
func StatusOf(present bool) Status {
	if present {
		return StatusPresent
	}
	return StatusAbsent
}

// Lookup returns the status of studentID in the record.
func (r AttendanceRecord) Lookup(studentID string) Status {
	v, ok := r.Records[studentID]
	if !ok {
		return StatusDefault
	}
	return StatusOf(v)
}

// PresenceOf resolves the presence of studentID, treating a missing record as
// everyone present.
func PresenceOf(rec *AttendanceRecord, studentID string) bool {
	if rec == nil {
		return true
	}
	return rec.Lookup(studentID).Present()
}
