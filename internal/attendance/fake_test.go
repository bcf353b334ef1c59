package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"classroll/internal/roster"
)

var errBackendDown = errors.New("backend down")

// fakeBackend keeps rows in maps and fails the operations named in failing.
type fakeBackend struct {
	mu       sync.Mutex
	seq      int
	classes  []roster.Class
	students []roster.Student
	rows     map[[3]string]bool
	failing  map[string]bool
	gates    map[string]*gate
	calls    map[string]int
	lastRow  roster.Row
	inserted [][]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rows:    map[[3]string]bool{},
		failing: map[string]bool{},
		gates:   map[string]*gate{},
		calls:   map[string]int{},
	}
}

func (f *fakeBackend) fail(op string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[op] = on
}

// gate parks the next call of one operation until release is closed.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBackend) hold(op string) *gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.gates[op] = g
	return g
}

func (f *fakeBackend) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	failing := f.failing[op]
	g := f.gates[op]
	delete(f.gates, op)
	f.mu.Unlock()

	if g != nil {
		close(g.entered)
		<-g.release
	}
	if failing {
		return fmt.Errorf("%s: %w", op, errBackendDown)
	}
	return nil
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeBackend) FetchClasses(context.Context) ([]roster.Class, error) {
	if err := f.enter("fetch_classes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]roster.Class(nil), f.classes...), nil
}

func (f *fakeBackend) FetchStudents(context.Context) ([]roster.Student, error) {
	if err := f.enter("fetch_students"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]roster.Student(nil), f.students...), nil
}

func (f *fakeBackend) FetchAttendance(context.Context) ([]roster.Row, error) {
	if err := f.enter("fetch_attendance"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roster.Row
	for k, v := range f.rows {
		out = append(out, roster.Row{ClassID: k[0], StudentID: k[1], Date: k[2], Present: v})
	}
	return out, nil
}

func (f *fakeBackend) InsertClass(_ context.Context, name string) (roster.Class, error) {
	if err := f.enter("insert_class"); err != nil {
		return roster.Class{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := roster.Class{ID: f.nextID("c"), Name: name}
	f.classes = append(f.classes, c)
	return c, nil
}

func (f *fakeBackend) UpdateClassName(_ context.Context, id, name string) error {
	if err := f.enter("update_class"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.classes {
		if f.classes[i].ID == id {
			f.classes[i].Name = name
		}
	}
	return nil
}

func (f *fakeBackend) InsertStudents(_ context.Context, classID string, names []string) ([]roster.Student, error) {
	if err := f.enter("insert_students"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, append([]string(nil), names...))
	var out []roster.Student
	for _, n := range names {
		st := roster.Student{ID: f.nextID("s"), Name: n, ClassID: classID}
		f.students = append(f.students, st)
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeBackend) UpsertAttendance(_ context.Context, row roster.Row) error {
	if err := f.enter("upsert_attendance"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[[3]string{row.ClassID, row.StudentID, row.Date}] = row.Present
	f.lastRow = row
	return nil
}

func (f *fakeBackend) DeleteClass(_ context.Context, id string) error {
	if err := f.enter("delete_class"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes, f.students, _ = roster.WithoutClass(f.classes, f.students, nil, id)
	for k := range f.rows {
		if k[0] == id {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeBackend) DeleteStudents(_ context.Context, ids []string) error {
	if err := f.enter("delete_students"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set := roster.IDSet(ids)
	f.students = roster.WithoutStudents(f.students, set)
	for k := range f.rows {
		if _, ok := set[k[1]]; ok {
			delete(f.rows, k)
		}
	}
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	rows []roster.Row
	err  error
}

func (n *recordingNotifier) AttendanceChanged(_ context.Context, row roster.Row) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rows = append(n.rows, row)
	return n.err
}

// parkingNotifier blocks its first call until release is closed.
type parkingNotifier struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newParkingNotifier() *parkingNotifier {
	return &parkingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
}

func (n *parkingNotifier) AttendanceChanged(context.Context, roster.Row) error {
	if n.calls.Add(1) == 1 {
		close(n.entered)
		<-n.release
	}
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	ops       map[string]int
	failures  int
	rollbacks int
	imported  int
}

func (o *countingObserver) ObserveOp(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op]++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ObserveRollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollbacks++
}

func (o *countingObserver) ObserveImported(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.imported += n
}
