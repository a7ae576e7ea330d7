// Package shelltest provides a recording Commander for tests
package shelltest

import (
	"context"
	"io"
	"sync"

	"github.com/aouyang1/pimmich/shell"
)

// Recorder records every command it is given. Handler, when set, decides the
// output and error of each command; otherwise commands succeed with no output.
type Recorder struct {
	Handler func(c shell.Cmd) ([]byte, error)

	mu    sync.Mutex
	cmds  []shell.Cmd
	stdin map[int][]byte
}

func (r *Recorder) record(c shell.Cmd) ([]byte, error) {
	r.mu.Lock()
	idx := len(r.cmds)
	r.cmds = append(r.cmds, c)
	if c.Stdin != nil {
		data, _ := io.ReadAll(c.Stdin)
		if r.stdin == nil {
			r.stdin = make(map[int][]byte)
		}
		r.stdin[idx] = data
	}
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return nil, nil
	}
	return handler(c)
}

func (r *Recorder) Run(_ context.Context, c shell.Cmd) error {
	_, err := r.record(c)
	return err
}

func (r *Recorder) Output(_ context.Context, c shell.Cmd) ([]byte, error) {
	return r.record(c)
}

// Cmds returns the recorded commands in order.
func (r *Recorder) Cmds() []shell.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shell.Cmd(nil), r.cmds...)
}

// Lines returns the recorded commands rendered with Cmd.String.
func (r *Recorder) Lines() []string {
	cmds := r.Cmds()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return lines
}

// Names returns the program name of every recorded command.
func (r *Recorder) Names() []string {
	cmds := r.Cmds()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return names
}

// Stdin returns what was piped into the i-th recorded command.
func (r *Recorder) Stdin(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdin[i]
}

// Reset forgets the recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = nil
	r.stdin = nil
}
