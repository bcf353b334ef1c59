package attendance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/roster"
	"classroll/internal/store"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewDB(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "classroll.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.Client)
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "migrate is idempotent")
	return repo
}

func TestRepositoryClassesAndStudents(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	c, err := repo.InsertClass(ctx, "6A")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	require.NoError(t, repo.UpdateClassName(ctx, c.ID, "6B"))
	assert.ErrorIs(t, repo.UpdateClassName(ctx, "missing", "x"), ErrNotFound)

	students, err := repo.InsertStudents(ctx, c.ID, []string{"Ana", "Bruno"})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Ana", students[0].Name)
	assert.Equal(t, c.ID, students[1].ClassID)

	classes, err := repo.FetchClasses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []roster.Class{{ID: c.ID, Name: "6B"}}, classes)

	fetched, err := repo.FetchStudents(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, students, fetched)

	name, err := repo.StudentName(ctx, students[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Bruno", name)
	name, err = repo.ClassName(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "6B", name)
	_, err = repo.ClassName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryUpsertConverges(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	c, err := repo.InsertClass(ctx, "6A")
	require.NoError(t, err)
	students, err := repo.InsertStudents(ctx, c.ID, []string{"Ana"})
	require.NoError(t, err)

	row := roster.Row{ClassID: c.ID, StudentID: students[0].ID, Date: "2024-03-01", Present: false}
	require.NoError(t, repo.UpsertAttendance(ctx, row))
	row.Present = true
	require.NoError(t, repo.UpsertAttendance(ctx, row))
	row.Present = false
	require.NoError(t, repo.UpsertAttendance(ctx, row))

	rows, err := repo.FetchAttendance(ctx)
	require.NoError(t, err)
	assert.Equal(t, []roster.Row{row}, rows)
}

func TestRepositoryDeleteCascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a, err := repo.InsertClass(ctx, "6A")
	require.NoError(t, err)
	b, err := repo.InsertClass(ctx, "7B")
	require.NoError(t, err)
	as, err := repo.InsertStudents(ctx, a.ID, []string{"Ana", "Bruno"})
	require.NoError(t, err)
	bs, err := repo.InsertStudents(ctx, b.ID, []string{"Carla", "Davi"})
	require.NoError(t, err)
	for _, st := range append(as, bs...) {
		require.NoError(t, repo.UpsertAttendance(ctx, roster.Row{ClassID: st.ClassID, StudentID: st.ID, Date: "2024-03-01"}))
	}

	require.NoError(t, repo.DeleteClass(ctx, a.ID))
	assert.ErrorIs(t, repo.DeleteClass(ctx, a.ID), ErrNotFound)

	require.NoError(t, repo.DeleteStudents(ctx, []string{bs[0].ID}))
	require.NoError(t, repo.DeleteStudents(ctx, nil))

	students, err := repo.FetchStudents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []roster.Student{bs[1]}, students)

	rows, err := repo.FetchAttendance(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, bs[1].ID, rows[0].StudentID)
}

func TestStoreOverRepository(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	s := New(repo)
	require.NoError(t, s.Load(ctx))
	c, err := s.CreateClass(ctx, "6A")
	require.NoError(t, err)
	created, err := s.ImportStudents(ctx, c.ID, []string{"Ana", "ana", "Bruno"})
	require.NoError(t, err)
	require.Len(t, created, 2)
	_, err = s.ToggleAttendance(ctx, c.ID, created[1].ID, "2024-03-01")
	require.NoError(t, err)

	reloaded := New(repo)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, s.Classes(), reloaded.Classes())
	assert.ElementsMatch(t, s.Students(c.ID), reloaded.Students(c.ID))
	assert.Equal(t, s.Records(), reloaded.Records())
}

func TestRepositoryRejectsOrphans(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.InsertStudents(ctx, "no-such-class", []string{"Ana"})
	assert.Error(t, err)
	err = repo.UpsertAttendance(ctx, roster.Row{ClassID: "no-such-class", StudentID: "nobody", Date: "2024-03-01"})
	assert.Error(t, err)
}
