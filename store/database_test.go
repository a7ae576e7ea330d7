package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "state", "setup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabaseRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.db")
	garbage := []byte(strings.Repeat("not a database ", 20))
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	db, err := NewDatabase(path)
	require.Error(t, err)
	require.Nil(t, db)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, garbage, after)

	require.NoError(t, os.Remove(path))
	db, err = NewDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestLatestRunEmpty(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.LatestRun()
	require.ErrorIs(t, err, ErrNoRuns)

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDatabase(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun("run-1", start, false))

	run, err := db.LatestRun()
	require.NoError(t, err)
	require.Equal(t, RunRunning, run.Status)
	require.Nil(t, run.FinishedAt)

	require.NoError(t, db.InsertStep(StepRecord{
		RunID:     "run-1",
		Seq:       1,
		Name:      "source",
		Outcome:   OutcomeUnchanged,
		Message:   "project directory not empty",
		StartedAt: start,
		Duration:  1500 * time.Millisecond,
	}))
	require.NoError(t, db.InsertStep(StepRecord{
		RunID:     "run-1",
		Seq:       0,
		Name:      "packages",
		Outcome:   OutcomeChanged,
		StartedAt: start,
		Duration:  2 * time.Minute,
	}))

	end := start.Add(3 * time.Minute)
	require.NoError(t, db.FinishRun("run-1", RunSucceeded, "", end))

	run, err = db.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, RunSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.True(t, end.Equal(*run.FinishedAt))

	steps, err := db.GetSteps("run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "packages", steps[0].Name)
	require.Equal(t, "source", steps[1].Name)
	require.Equal(t, 1500*time.Millisecond, steps[1].Duration)
	require.Equal(t, "project directory not empty", steps[1].Message)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := newTestDatabase(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.StartRun("old", base, false))
	require.NoError(t, db.StartRun("new", base.Add(time.Hour), true))
	require.NoError(t, db.FinishRun("old", RunFailed, "packages: exit status 100", base.Add(time.Minute)))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "new", runs[0].ID)
	require.True(t, runs[0].DryRun)
	require.Equal(t, "old", runs[1].ID)
	require.Equal(t, RunFailed, runs[1].Status)
	require.Equal(t, "packages: exit status 100", runs[1].Error)

	runs, err = db.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestFinishUnknownRun(t *testing.T) {
	db := newTestDatabase(t)
	require.Error(t, db.FinishRun("missing", RunSucceeded, "", time.Now()))

	_, err := db.GetRun("missing")
	require.Error(t, err)
}
