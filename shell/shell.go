// Package shell runs host commands (apt, git, pip, systemctl) for the provisioning steps
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes a single host command.
type Cmd struct {
	Name string
	Args []string

	// Env entries in KEY=VALUE form added to the command environment.
	Env []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// Stdin is fed to the command when set.
	Stdin io.Reader
	// Privileged commands are prefixed with sudo when the commander is configured to.
	Privileged bool
}

func (c Cmd) String() string {
	var b strings.Builder
	if c.Privileged {
		b.WriteString("[root] ")
	}
	for _, e := range c.Env {
		b.WriteString(e)
		b.WriteByte(' ')
	}
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		if strings.ContainsAny(a, " \t'\"$") {
			a = fmt.Sprintf("%q", a)
		}
		b.WriteString(a)
	}
	return b.String()
}

// Commander runs host commands. Output is used for read-only queries.
type Commander interface {
	Run(ctx context.Context, c Cmd) error
	Output(ctx context.Context, c Cmd) ([]byte, error)
}

// Exec runs commands on the local host with os/exec.
type Exec struct {
	// Sudo prefixes privileged commands with sudo.
	Sudo bool

	Stdout io.Writer
	Stderr io.Writer
}

func NewExec(sudo bool) *Exec {
	return &Exec{
		Sudo:   sudo,
		Stdout: os.Stderr,
		Stderr: os.Stderr,
	}
}

func (e *Exec) command(ctx context.Context, c Cmd) *exec.Cmd {
	name, args := c.Name, c.Args
	env := c.Env
	if c.Privileged && e.Sudo {
		// sudo drops the caller's environment, so pass the extra entries as arguments
		args = append(append(append([]string{}, c.Env...), c.Name), c.Args...)
		name = "sudo"
		env = nil
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd
}

func (e *Exec) Run(ctx context.Context, c Cmd) error {
	slog.Debug("running command", "cmd", c.String())

	var stderr bytes.Buffer
	cmd := e.command(ctx, c)
	cmd.Stdout = e.Stdout
	cmd.Stderr = io.MultiWriter(e.Stderr, &tail{buf: &stderr})
	if err := cmd.Run(); err != nil {
		return &Error{Cmd: c, Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return nil
}

func (e *Exec) Output(ctx context.Context, c Cmd) ([]byte, error) {
	slog.Debug("querying command", "cmd", c.String())

	var stderr bytes.Buffer
	cmd := e.command(ctx, c)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &Error{Cmd: c, Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return out, nil
}

// Error is returned when a command exits unsuccessfully.
type Error struct {
	Cmd    Cmd
	Err    error
	Stderr string
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Cmd.String(), e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Cmd.String(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// tail keeps the last few KiB written to it
type tail struct {
	buf *bytes.Buffer
}

const tailSize = 4096

func (t *tail) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - tailSize; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

// DryRun logs mutating commands instead of running them. Queries still go to Next.
type DryRun struct {
	Next Commander
	Out  io.Writer
}

func (d *DryRun) Run(_ context.Context, c Cmd) error {
	if d.Out != nil {
		fmt.Fprintf(d.Out, "would run: %s\n", c.String())
	}
	slog.Info("dry run, skipping command", "cmd", c.String())
	return nil
}

func (d *DryRun) Output(ctx context.Context, c Cmd) ([]byte, error) {
	return d.Next.Output(ctx, c)
}
