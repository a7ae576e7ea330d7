package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aouyang1/pimmich/shell"
)

// Writer mutates the filesystem on behalf of a provisioning step.
type Writer interface {
	WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error
	MkdirAll(ctx context.Context, path string, perm fs.FileMode) error
	Chmod(ctx context.Context, path string, perm fs.FileMode) error
}

// Local writes as the current user.
type Local struct{}

func (Local) WriteFile(_ context.Context, path string, data []byte, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, perm)
}

func (Local) MkdirAll(_ context.Context, path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (Local) Chmod(_ context.Context, path string, perm fs.FileMode) error {
	return os.Chmod(path, perm)
}

// Privileged writes through root commands (dd, mkdir, chmod), for paths
// such as the boot partition or /etc/systemd/system.
type Privileged struct {
	Cmd shell.Commander
}

func mode(perm fs.FileMode) string {
	return strconv.FormatUint(uint64(perm.Perm()), 8)
}

func (p Privileged) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	if err := p.MkdirAll(ctx, filepath.Dir(path), 0o755); err != nil {
		return err
	}
	err := p.Cmd.Run(ctx, shell.Cmd{
		Name:       "dd",
		Args:       []string{"of=" + path, "status=none"},
		Stdin:      bytes.NewReader(data),
		Privileged: true,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return p.Chmod(ctx, path, perm)
}

func (p Privileged) MkdirAll(ctx context.Context, path string, perm fs.FileMode) error {
	err := p.Cmd.Run(ctx, shell.Cmd{
		Name:       "mkdir",
		Args:       []string{"-p", "-m", mode(perm), path},
		Privileged: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func (p Privileged) Chmod(ctx context.Context, path string, perm fs.FileMode) error {
	err := p.Cmd.Run(ctx, shell.Cmd{
		Name:       "chmod",
		Args:       []string{mode(perm), path},
		Privileged: true,
	})
	if err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return nil
}

// Auto tries a plain write first and retries with root privileges when the
// current user is not allowed to write the path.
type Auto struct {
	Local      Writer
	Privileged Writer
}

func NewAuto(cmd shell.Commander) *Auto {
	return &Auto{
		Local:      Local{},
		Privileged: Privileged{Cmd: cmd},
	}
}

func (a *Auto) escalate(path string, err error) bool {
	if !errors.Is(err, fs.ErrPermission) || a.Privileged == nil {
		return false
	}
	slog.Info("permission denied, retrying with elevated privileges", "path", path)
	return true
}

func (a *Auto) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	err := a.Local.WriteFile(ctx, path, data, perm)
	if a.escalate(path, err) {
		return a.Privileged.WriteFile(ctx, path, data, perm)
	}
	return err
}

func (a *Auto) MkdirAll(ctx context.Context, path string, perm fs.FileMode) error {
	err := a.Local.MkdirAll(ctx, path, perm)
	if a.escalate(path, err) {
		return a.Privileged.MkdirAll(ctx, path, perm)
	}
	return err
}

func (a *Auto) Chmod(ctx context.Context, path string, perm fs.FileMode) error {
	err := a.Local.Chmod(ctx, path, perm)
	if a.escalate(path, err) {
		return a.Privileged.Chmod(ctx, path, perm)
	}
	return err
}

// DryRun reports writes without performing them.
type DryRun struct {
	Out io.Writer
}

func (d DryRun) report(format string, args ...any) {
	if d.Out != nil {
		fmt.Fprintf(d.Out, format+"\n", args...)
	}
}

func (d DryRun) WriteFile(_ context.Context, path string, data []byte, perm fs.FileMode) error {
	d.report("would write %s (%d bytes, mode %s)", path, len(data), mode(perm))
	return nil
}

func (d DryRun) MkdirAll(_ context.Context, path string, perm fs.FileMode) error {
	d.report("would create directory %s (mode %s)", path, mode(perm))
	return nil
}

func (d DryRun) Chmod(_ context.Context, path string, perm fs.FileMode) error {
	d.report("would chmod %s %s", mode(perm), path)
	return nil
}
