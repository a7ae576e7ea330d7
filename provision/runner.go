package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aouyang1/pimmich/store"
	"github.com/google/uuid"
)

// Ledger records runs and step outcomes. *store.Database implements it.
type Ledger interface {
	StartRun(id string, startedAt time.Time, dryRun bool) error
	FinishRun(id string, status string, errMsg string, finishedAt time.Time) error
	InsertStep(s store.StepRecord) error
}

// StepError names the step that stopped a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type StepReport struct {
	Name     string
	Outcome  string
	Message  string
	Duration time.Duration
}

type Report struct {
	RunID string
	Steps []StepReport
}

// Changed counts the steps that modified the host.
func (r *Report) Changed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == store.OutcomeChanged {
			n++
		}
	}
	return n
}

// Runner executes steps in order and stops at the first failure.
type Runner struct {
	Steps  []Step
	Ledger Ledger
	DryRun bool
	Out    io.Writer

	now func() time.Time
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) progress(format string, args ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format+"\n", args...)
	}
}

func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	slog.Info("starting install run", "run_id", report.RunID, "steps", len(r.Steps), "dry_run", r.DryRun)
	r.record("start run", func(l Ledger) error {
		return l.StartRun(report.RunID, r.clock(), r.DryRun)
	})

	for i, step := range r.Steps {
		if err := ctx.Err(); err != nil {
			return report, r.fail(report, &StepError{Step: step.Name(), Err: err})
		}

		started := r.clock()
		res, err := step.Run(ctx)
		elapsed := r.clock().Sub(started)

		sr := StepReport{Name: step.Name(), Message: res.Message, Duration: elapsed}
		rec := store.StepRecord{
			RunID:     report.RunID,
			Seq:       i,
			Name:      step.Name(),
			Message:   res.Message,
			StartedAt: started,
			Duration:  elapsed,
		}
		switch {
		case err != nil:
			sr.Outcome = store.OutcomeFailed
			rec.Error = err.Error()
		case res.Changed:
			sr.Outcome = store.OutcomeChanged
		default:
			sr.Outcome = store.OutcomeUnchanged
		}
		rec.Outcome = sr.Outcome
		report.Steps = append(report.Steps, sr)
		r.record("insert step", func(l Ledger) error { return l.InsertStep(rec) })

		if err != nil {
			r.progress("[%d/%d] %s: failed: %v", i+1, len(r.Steps), step.Name(), err)
			return report, r.fail(report, &StepError{Step: step.Name(), Err: err})
		}
		r.progress("[%d/%d] %s: %s (%s)", i+1, len(r.Steps), step.Name(), sr.Outcome, res.Message)
		slog.Info("step finished", "step", step.Name(), "outcome", sr.Outcome, "duration", elapsed)
	}

	r.record("finish run", func(l Ledger) error {
		return l.FinishRun(report.RunID, store.RunSucceeded, "", r.clock())
	})
	slog.Info("install run succeeded", "run_id", report.RunID, "changed", report.Changed())
	return report, nil
}

func (r *Runner) fail(report *Report, err *StepError) error {
	r.record("finish run", func(l Ledger) error {
		return l.FinishRun(report.RunID, store.RunFailed, err.Error(), r.clock())
	})
	slog.Error("install run failed", "run_id", report.RunID, "step", err.Step, "error", err.Err)
	return err
}

// record writes to the ledger when there is one. Ledger errors are logged only.
func (r *Runner) record(what string, fn func(Ledger) error) {
	if r.Ledger == nil {
		return
	}
	if err := fn(r.Ledger); err != nil {
		slog.Warn("failed to update install ledger", "op", what, "error", err)
	}
}
