package templates

import (
	"time"

	"github.com/aouyang1/pimmich/store"
)

func outcomeClass(outcome string) string {
	switch outcome {
	case store.OutcomeChanged:
		return "step-changed"
	case store.OutcomeFailed:
		return "step-failed"
	default:
		return "step-unchanged"
	}
}

func runClass(status string) string {
	switch status {
	case store.RunSucceeded:
		return "run-ok"
	case store.RunFailed:
		return "run-failed"
	default:
		return "run-running"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
