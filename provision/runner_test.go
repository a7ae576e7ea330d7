package provision

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aouyang1/pimmich/store"
	"github.com/stretchr/testify/require"
)

type fakeStep struct {
	name    string
	changed bool
	err     error
	ran     bool
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Run(context.Context) (Result, error) {
	s.ran = true
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{Changed: s.changed, Message: "ok"}, nil
}

func newLedger(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "setup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunnerFailFast(t *testing.T) {
	db := newLedger(t)
	first := &fakeStep{name: StepPackages, changed: true}
	second := &fakeStep{name: StepSource, err: errors.New("could not resolve host")}
	third := &fakeStep{name: StepVenv}

	var out bytes.Buffer
	runner := &Runner{Steps: []Step{first, second, third}, Ledger: db, Out: &out}
	report, err := runner.Run(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StepSource, stepErr.Step)
	require.ErrorContains(t, err, "could not resolve host")

	require.True(t, first.ran)
	require.True(t, second.ran)
	require.False(t, third.ran)
	require.Len(t, report.Steps, 2)
	require.Contains(t, out.String(), "[2/3] source: failed")

	run, err := db.LatestRun()
	require.NoError(t, err)
	require.Equal(t, report.RunID, run.ID)
	require.Equal(t, store.RunFailed, run.Status)
	require.Contains(t, run.Error, "source")

	steps, err := db.GetSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, store.OutcomeChanged, steps[0].Outcome)
	require.Equal(t, store.OutcomeFailed, steps[1].Outcome)
	require.Equal(t, "could not resolve host", steps[1].Error)
}

func TestRunnerSuccess(t *testing.T) {
	db := newLedger(t)
	runner := &Runner{
		Steps:  []Step{&fakeStep{name: StepScaffold, changed: true}, &fakeStep{name: StepLauncher}},
		Ledger: db,
		DryRun: true,
	}
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed())

	run, err := db.GetRun(report.RunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSucceeded, run.Status)
	require.True(t, run.DryRun)
	require.NotNil(t, run.FinishedAt)
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := &fakeStep{name: StepPackages}
	_, err := (&Runner{Steps: []Step{step}}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, step.ran)
}
