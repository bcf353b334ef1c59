package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"classroll/internal/roster"
)

// Repository persists classes, students and attendance rows in a SQL database.
// Queries use $n placeholders in order of appearance so the same statements
// run on Postgres (pgx) and SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS classes (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS students (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attendance (
	class_id   TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	date       TEXT NOT NULL,
	present    BOOLEAN NOT NULL,
	PRIMARY KEY (class_id, student_id, date)
);

CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);
`

// Migrate creates the tables when they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// FetchClasses returns every class.
func (r *Repository) FetchClasses(ctx context.Context) ([]roster.Class, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM classes ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []roster.Class
	for rows.Next() {
		var c roster.Class
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// FetchStudents returns every student.
func (r *Repository) FetchStudents(ctx context.Context) ([]roster.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, class_id FROM students ORDER BY class_id, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []roster.Student
	for rows.Next() {
		var s roster.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.ClassID); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FetchAttendance returns every attendance row.
func (r *Repository) FetchAttendance(ctx context.Context) ([]roster.Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT class_id, student_id, date, present
		FROM attendance
		ORDER BY date, class_id, student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []roster.Row
	for rows.Next() {
		var row roster.Row
		if err := rows.Scan(&row.ClassID, &row.StudentID, &row.Date, &row.Present); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// InsertClass writes a new class and returns it with its id.
func (r *Repository) InsertClass(ctx context.Context, name string) (roster.Class, error) {
	c := roster.Class{ID: uuid.NewString(), Name: name}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO classes (id, name) VALUES ($1, $2)`, c.ID, c.Name); err != nil {
		return roster.Class{}, err
	}
	return c, nil
}

// UpdateClassName renames a class.
func (r *Repository) UpdateClassName(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE classes SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return err
	}
	return expectRows(res)
}

// InsertStudents writes all names into classID in one transaction and returns
// the rows in input order.
func (r *Repository) InsertStudents(ctx context.Context, classID string, names []string) ([]roster.Student, error) {
	if len(names) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO students (id, name, class_id) VALUES ($1, $2, $3)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make([]roster.Student, 0, len(names))
	for _, name := range names {
		s := roster.Student{ID: uuid.NewString(), Name: name, ClassID: classID}
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.ClassID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertAttendance stores one presence flag, replacing any earlier value for
// the same (class, student, date).
func (r *Repository) UpsertAttendance(ctx context.Context, row roster.Row) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (class_id, student_id, date, present)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (class_id, student_id, date) DO UPDATE SET present = EXCLUDED.present
	`, row.ClassID, row.StudentID, row.Date, row.Present)
	return err
}

// DeleteClass removes a class with its students and attendance.
func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE class_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE class_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := expectRows(res); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteStudents removes the students and their attendance rows.
func (r *Repository) DeleteStudents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE student_id IN `+in, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id IN `+in, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// ClassName returns the name of a class.
func (r *Repository) ClassName(ctx context.Context, id string) (string, error) {
	return r.name(ctx, `SELECT name FROM classes WHERE id = $1`, id)
}

// StudentName returns the name of a student.
func (r *Repository) StudentName(ctx context.Context, id string) (string, error) {
	return r.name(ctx, `SELECT name FROM students WHERE id = $1`, id)
}

func (r *Repository) name(ctx context.Context, query, id string) (string, error) {
	var name string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// inClause renders "($1, $2, ...)" for ids.
func inClause(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}
