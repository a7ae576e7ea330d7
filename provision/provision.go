// Package provision holds the steps that turn a fresh Raspberry Pi OS host
// into a photo frame, and the runner that executes them in order.
//
// Every step checks the host before acting, so the whole procedure can be
// re-run after a failure or after a manual change and only does what is left.
package provision

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/systemd"
	"github.com/aouyang1/pimmich/util"
)

const (
	StepPackages    = "packages"
	StepSource      = "source"
	StepVenv        = "venv"
	StepPythonDeps  = "python-deps"
	StepScaffold    = "scaffold"
	StepLauncher    = "launcher"
	StepCredentials = "credentials"
	StepAdmin       = "admin"
	StepAutostart   = "autostart"
)

// StepNames is the canonical order.
var StepNames = []string{
	StepPackages,
	StepSource,
	StepVenv,
	StepPythonDeps,
	StepScaffold,
	StepLauncher,
	StepCredentials,
	StepAdmin,
	StepAutostart,
}

// Result is what a step did. Changed is false when the host already matched.
type Result struct {
	Changed bool
	Message string
}

func unchanged(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func changed(format string, args ...any) Result {
	return Result{Changed: true, Message: fmt.Sprintf(format, args...)}
}

type Step interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Env is everything a step may touch on the host.
type Env struct {
	Cfg      *config.Settings
	Cmd      shell.Commander
	Writer   util.Writer
	Manager  systemd.Manager
	Template credentials.TemplateSource

	// Out receives operator-facing messages such as the generated admin password.
	Out    io.Writer
	DryRun bool

	// Owner receives the project tree when the installer runs as root, so the
	// frame application can write to it. Empty leaves ownership alone.
	Owner string

	// Sleep waits between clone attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

// handOver gives paths to the owner.
func (e *Env) handOver(ctx context.Context, paths ...string) error {
	if e.Owner == "" || len(paths) == 0 {
		return nil
	}
	err := e.Cmd.Run(ctx, shell.Cmd{
		Name:       "chown",
		Args:       append([]string{"-R", e.Owner + ":"}, paths...),
		Privileged: true,
	})
	if err != nil {
		return fmt.Errorf("failed to hand %s over to %s: %w", strings.Join(paths, ", "), e.Owner, err)
	}
	return nil
}

// inProject reports whether path lies inside the project directory.
func (e *Env) inProject(path string) bool {
	rel, err := filepath.Rel(e.Cfg.ProjectDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Plan returns every step in canonical order.
func Plan(env *Env) []Step {
	return []Step{
		&Packages{env: env},
		&Source{env: env},
		&Venv{env: env},
		&PythonDeps{env: env},
		&Scaffold{env: env},
		&Launcher{env: env},
		&Credentials{env: env},
		&Admin{env: env},
		&Autostart{env: env},
	}
}

// Filter keeps the steps named in only (all when empty) minus those in skip.
// Order is always the canonical one.
func Filter(steps []Step, only, skip []string) ([]Step, error) {
	var unknown []string
	for _, name := range slices.Concat(only, skip) {
		if !slices.Contains(StepNames, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown step(s) %s, valid steps are %s",
			strings.Join(unknown, ", "), strings.Join(StepNames, ", "))
	}

	var out []Step
	for _, s := range steps {
		if len(only) > 0 && !slices.Contains(only, s.Name()) {
			continue
		}
		if slices.Contains(skip, s.Name()) {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no steps left to run")
	}
	return out, nil
}
