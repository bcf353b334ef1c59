package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"classroll/internal/roster"
)

var (
	// ErrNotFound is returned when an operation references an unknown class or student.
	ErrNotFound = errors.New("not found")
	// ErrRemote wraps every failure of the backing store.
	ErrRemote = errors.New("remote store failed")
)

// notifyTimeout bounds a single notification hand-off.
const notifyTimeout = 2 * time.Second

// Backend is the remote store the Store reconciles with.
type Backend interface {
	FetchClasses(ctx context.Context) ([]roster.Class, error)
	FetchStudents(ctx context.Context) ([]roster.Student, error)
	FetchAttendance(ctx context.Context) ([]roster.Row, error)
	InsertClass(ctx context.Context, name string) (roster.Class, error)
	UpdateClassName(ctx context.Context, id, name string) error
	InsertStudents(ctx context.Context, classID string, names []string) ([]roster.Student, error)
	UpsertAttendance(ctx context.Context, row roster.Row) error
	DeleteClass(ctx context.Context, id string) error
	DeleteStudents(ctx context.Context, ids []string) error
}

// Notifier receives attendance changes once they are stored remotely.
type Notifier interface {
	AttendanceChanged(ctx context.Context, row roster.Row) error
}

// Observer is told about the outcome of every store operation.
type Observer interface {
	ObserveOp(op string, err error)
	ObserveRollback()
	ObserveImported(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveOp(string, error) {}
func (nopObserver) ObserveRollback()        {}
func (nopObserver) ObserveImported(int)     {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for failures and warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithNotifier sets the sink for successful attendance writes.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.obs = o }
}

// Store owns the in-memory classes, students and attendance records and keeps
// them consistent with the Backend. Reads return copies; every mutation goes
// through a method.
type Store struct {
	backend  Backend
	log      *log.Logger
	notifier Notifier
	obs      Observer

	mu       sync.RWMutex
	loading  bool
	classes  []roster.Class
	students []roster.Student
	records  []roster.AttendanceRecord

	// writes is held shared by inserts, renames and toggles, and exclusively
	// by Load and deletes. It is taken before mu and never while holding it.
	writes sync.RWMutex
	// toggles serializes attendance writes per (class, date); enrol serializes
	// student creation per class.
	toggles keyedMutex
	enrol   keyedMutex
}

// New creates an empty store in the loading state.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     log.New(io.Discard, "", 0),
		obs:     nopObserver{},
		loading: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the three tables concurrently and replaces the local
// collections. Mutations wait until it is done. A failed fetch is logged and
// leaves its collection as it was; the store is usable either way.
func (s *Store) Load(ctx context.Context) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	var (
		classes  []roster.Class
		students []roster.Student
		rows     []roster.Row

		classesErr, studentsErr, rowsErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		classes, classesErr = s.backend.FetchClasses(ctx)
		return classesErr
	})
	g.Go(func() error {
		students, studentsErr = s.backend.FetchStudents(ctx)
		return studentsErr
	})
	g.Go(func() error {
		rows, rowsErr = s.backend.FetchAttendance(ctx)
		return rowsErr
	})
	err := g.Wait()

	s.mu.Lock()
	if classesErr == nil {
		s.classes = classes
	} else {
		s.log.Printf("load classes failed: %v", classesErr)
	}
	if studentsErr == nil {
		s.students = students
	} else {
		s.log.Printf("load students failed: %v", studentsErr)
	}
	if rowsErr == nil {
		s.records = roster.GroupRows(rows)
	} else {
		s.log.Printf("load attendance failed: %v", rowsErr)
	}
	s.loading = false
	s.mu.Unlock()

	s.obs.ObserveOp("load", err)
	if err != nil {
		return remoteErr("load", err)
	}
	return nil
}

// Loading reports whether the initial Load has not finished yet.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// CreateClass stores a class named after the trimmed name. The name is not
// validated here.
func (s *Store) CreateClass(ctx context.Context, name string) (roster.Class, error) {
	s.writes.RLock()
	defer s.writes.RUnlock()

	c, err := s.backend.InsertClass(ctx, strings.TrimSpace(name))
	s.obs.ObserveOp("create_class", err)
	if err != nil {
		s.log.Printf("create class %q failed: %v", name, err)
		return roster.Class{}, remoteErr("create class", err)
	}

	s.mu.Lock()
	s.classes = append(s.classes, c)
	s.mu.Unlock()
	return c, nil
}

// RenameClass changes the name of class id once the backend accepted it.
func (s *Store) RenameClass(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	s.writes.RLock()
	defer s.writes.RUnlock()
	if _, ok := s.Class(id); !ok {
		return ErrNotFound
	}

	err := s.backend.UpdateClassName(ctx, id, name)
	s.obs.ObserveOp("rename_class", err)
	if err != nil {
		s.log.Printf("rename class %s failed: %v", id, err)
		return remoteErr("rename class", err)
	}

	s.mu.Lock()
	for i := range s.classes {
		if s.classes[i].ID == id {
			s.classes[i].Name = name
		}
	}
	s.mu.Unlock()
	return nil
}

// AddStudent enrols one student. When the class already has a student with the
// same name, ignoring case, nothing is written and added is false.
func (s *Store) AddStudent(ctx context.Context, classID, name string) (roster.Student, bool, error) {
	name = strings.TrimSpace(name)
	s.writes.RLock()
	defer s.writes.RUnlock()
	if _, ok := s.Class(classID); !ok {
		return roster.Student{}, false, ErrNotFound
	}

	unlock := s.enrol.Lock(classID)
	defer unlock()

	if _, dup := s.classNameKeys(classID)[roster.NameKey(name)]; dup {
		s.log.Printf("warning: student %q already in class %s, skipped", name, classID)
		return roster.Student{}, false, nil
	}

	inserted, err := s.backend.InsertStudents(ctx, classID, []string{name})
	s.obs.ObserveOp("add_student", err)
	if err != nil {
		s.log.Printf("add student %q failed: %v", name, err)
		return roster.Student{}, false, remoteErr("add student", err)
	}
	if len(inserted) == 0 {
		return roster.Student{}, false, remoteErr("add student", errors.New("no row returned"))
	}

	s.mu.Lock()
	s.students = append(s.students, inserted[0])
	s.mu.Unlock()
	return inserted[0], true, nil
}

// ImportStudents enrols the names not yet in the class. Names are compared
// ignoring case; the first spelling of a duplicate wins and input order is kept.
// It returns the students actually created.
func (s *Store) ImportStudents(ctx context.Context, classID string, names []string) ([]roster.Student, error) {
	s.writes.RLock()
	defer s.writes.RUnlock()
	if _, ok := s.Class(classID); !ok {
		return nil, ErrNotFound
	}

	unlock := s.enrol.Lock(classID)
	defer unlock()

	seen := s.classNameKeys(classID)
	var fresh []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		k := roster.NameKey(n)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	inserted, err := s.backend.InsertStudents(ctx, classID, fresh)
	s.obs.ObserveOp("import_students", err)
	if err != nil {
		s.log.Printf("import %d students into %s failed: %v", len(fresh), classID, err)
		return nil, remoteErr("import students", err)
	}
	s.obs.ObserveImported(len(inserted))

	s.mu.Lock()
	s.students = append(s.students, inserted...)
	s.mu.Unlock()
	return inserted, nil
}

// ToggleAttendance flips the presence of a student on a date and returns the
// presence the store holds afterwards. The change is applied locally before the
// backend write and undone if the write fails.
func (s *Store) ToggleAttendance(ctx context.Context, classID, studentID, date string) (bool, error) {
	row, err := s.toggle(ctx, classID, studentID, date)
	if err != nil {
		return row.Present, err
	}
	s.notify(ctx, row)
	return row.Present, nil
}

// toggle performs the locked part of ToggleAttendance. On failure the returned
// row carries the restored presence.
func (s *Store) toggle(ctx context.Context, classID, studentID, date string) (roster.Row, error) {
	s.writes.RLock()
	defer s.writes.RUnlock()
	if !s.enrolled(classID, studentID) {
		return roster.Row{}, ErrNotFound
	}

	unlock := s.toggles.Lock(classID + "\x00" + date)
	defer unlock()

	s.mu.Lock()
	rec := s.recordLocked(classID, date)
	created := rec == nil
	prev := roster.StatusDefault
	if rec != nil {
		prev = rec.Lookup(studentID)
	}
	next := !prev.Present()
	if created {
		s.records = append(s.records, roster.AttendanceRecord{
			Date:    date,
			ClassID: classID,
			Records: map[string]bool{studentID: next},
		})
	} else {
		rec.Records[studentID] = next
	}
	s.mu.Unlock()

	row := roster.Row{ClassID: classID, StudentID: studentID, Date: date, Present: next}
	err := s.backend.UpsertAttendance(ctx, row)
	s.obs.ObserveOp("toggle_attendance", err)
	if err != nil {
		s.log.Printf("toggle attendance %s/%s on %s failed, rolling back: %v", classID, studentID, date, err)
		s.restore(classID, studentID, date, prev, created)
		s.obs.ObserveRollback()
		row.Present = prev.Present()
		return row, remoteErr("toggle attendance", err)
	}
	return row, nil
}

// notify hands row to the notifier without holding any store lock. Failures
// are only logged.
func (s *Store) notify(ctx context.Context, row roster.Row) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.AttendanceChanged(ctx, row); err != nil {
		s.log.Printf("attendance notification for %s/%s dropped: %v", row.ClassID, row.StudentID, err)
	}
}

// restore puts back the status a student had before a failed toggle. A record
// that only existed because of that toggle is dropped again.
func (s *Store) restore(classID, studentID, date string, prev roster.Status, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(classID, date)
	if rec == nil {
		// removed by a delete while the write was in flight
		return
	}
	if prev == roster.StatusDefault {
		delete(rec.Records, studentID)
	} else {
		rec.Records[studentID] = prev.Present()
	}
	if created && len(rec.Records) == 0 {
		s.dropRecordLocked(classID, date)
	}
}

// DeleteClass removes a class together with its students and records.
func (s *Store) DeleteClass(ctx context.Context, id string) error {
	s.writes.Lock()
	defer s.writes.Unlock()
	if _, ok := s.Class(id); !ok {
		return ErrNotFound
	}

	err := s.backend.DeleteClass(ctx, id)
	s.obs.ObserveOp("delete_class", err)
	if err != nil {
		s.log.Printf("delete class %s failed: %v", id, err)
		return remoteErr("delete class", err)
	}

	s.mu.Lock()
	s.classes, s.students, s.records = roster.WithoutClass(s.classes, s.students, s.records, id)
	s.mu.Unlock()
	return nil
}

// DeleteStudent removes one student and their attendance entries.
func (s *Store) DeleteStudent(ctx context.Context, id string) error {
	s.writes.Lock()
	defer s.writes.Unlock()
	if _, ok := s.Student(id); !ok {
		return ErrNotFound
	}
	return s.deleteStudents(ctx, []string{id})
}

// DeleteStudents removes the known students among ids and strips them from
// every attendance record. Records are kept even if they become empty.
func (s *Store) DeleteStudents(ctx context.Context, ids []string) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	s.mu.RLock()
	set := roster.IDSet(ids)
	var known []string
	for _, st := range s.students {
		if _, ok := set[st.ID]; ok {
			known = append(known, st.ID)
		}
	}
	s.mu.RUnlock()

	if len(known) == 0 {
		return nil
	}
	return s.deleteStudents(ctx, known)
}

func (s *Store) deleteStudents(ctx context.Context, ids []string) error {
	err := s.backend.DeleteStudents(ctx, ids)
	s.obs.ObserveOp("delete_students", err)
	if err != nil {
		s.log.Printf("delete %d students failed: %v", len(ids), err)
		return remoteErr("delete students", err)
	}

	set := roster.IDSet(ids)
	s.mu.Lock()
	s.students = roster.WithoutStudents(s.students, set)
	roster.StripStudents(s.records, set)
	s.mu.Unlock()
	return nil
}

// AttendanceForDate returns a copy of the record of classID on date. Students
// missing from it are present.
func (s *Store) AttendanceForDate(classID, date string) (roster.AttendanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordLocked(classID, date)
	if rec == nil {
		return roster.AttendanceRecord{}, false
	}
	return rec.Clone(), true
}

// Roll lists the students of classID with their presence on date.
func (s *Store) Roll(classID, date string) []roster.RollEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordLocked(classID, date)
	var out []roster.RollEntry
	for _, st := range s.students {
		if st.ClassID == classID {
			out = append(out, roster.RollEntry{Student: st, Present: roster.PresenceOf(rec, st.ID)})
		}
	}
	return out
}

// Classes returns all classes.
func (s *Store) Classes() []roster.Class {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]roster.Class(nil), s.classes...)
}

// ClassSummaries returns all classes with their student counts.
func (s *Store) ClassSummaries() []roster.ClassSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.classes))
	for _, st := range s.students {
		counts[st.ClassID]++
	}
	out := make([]roster.ClassSummary, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, roster.ClassSummary{Class: c, StudentCount: counts[c.ID]})
	}
	return out
}

// Class looks a class up by id.
func (s *Store) Class(id string) (roster.Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.classes {
		if c.ID == id {
			return c, true
		}
	}
	return roster.Class{}, false
}

// Student looks a student up by id.
func (s *Store) Student(id string) (roster.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.ID == id {
			return st, true
		}
	}
	return roster.Student{}, false
}

// Students returns the students of classID in enrolment order.
func (s *Store) Students(classID string) []roster.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []roster.Student
	for _, st := range s.students {
		if st.ClassID == classID {
			out = append(out, st)
		}
	}
	return out
}

// Records returns copies of every attendance record.
func (s *Store) Records() []roster.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roster.AttendanceRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out
}

func (s *Store) enrolled(classID, studentID string) bool {
	st, ok := s.Student(studentID)
	return ok && st.ClassID == classID
}

func (s *Store) classNameKeys(classID string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]struct{})
	for _, st := range s.students {
		if st.ClassID == classID {
			keys[roster.NameKey(st.Name)] = struct{}{}
		}
	}
	return keys
}

// recordLocked returns a pointer into s.records; s.mu must be held.
func (s *Store) recordLocked(classID, date string) *roster.AttendanceRecord {
	for i := range s.records {
		if s.records[i].ClassID == classID && s.records[i].Date == date {
			return &s.records[i]
		}
	}
	return nil
}

func (s *Store) dropRecordLocked(classID, date string) {
	for i := range s.records {
		if s.records[i].ClassID == classID && s.records[i].Date == date {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return
		}
	}
}

func remoteErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemote, op, err)
}
