// Package systemd renders the service unit and desktop entry that start the
// frame at boot, and talks to the service manager to enable them.
package systemd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aouyang1/pimmich/shell"
	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Service describes the headless unit.
type Service struct {
	Description string
	ExecStart   string
	WorkingDir  string
	LogDir      string
	User        string
	VenvBin     string
}

func (s Service) Options() []*unit.UnitOption {
	path := defaultPath
	if s.VenvBin != "" {
		path = s.VenvBin + ":" + path
	}
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", s.Description),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Service", "ExecStart", s.ExecStart),
		unit.NewUnitOption("Service", "WorkingDirectory", s.WorkingDir),
		unit.NewUnitOption("Service", "StandardOutput", "append:"+filepath.Join(s.LogDir, "pimmich.log")),
		unit.NewUnitOption("Service", "StandardError", "append:"+filepath.Join(s.LogDir, "pimmich.err")),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "User", s.User),
		unit.NewUnitOption("Service", "Environment", "PATH="+path),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

// DesktopEntry describes the XDG autostart entry used on desktop images.
type DesktopEntry struct {
	Name string
	Exec string
	Path string
}

func (d DesktopEntry) Options() []*unit.UnitOption {
	const section = "Desktop Entry"
	return []*unit.UnitOption{
		unit.NewUnitOption(section, "Type", "Application"),
		unit.NewUnitOption(section, "Name", d.Name),
		unit.NewUnitOption(section, "Exec", d.Exec),
		unit.NewUnitOption(section, "Path", d.Path),
		unit.NewUnitOption(section, "X-GNOME-Autostart-enabled", "true"),
	}
}

// Render serializes options in the ini dialect shared by unit files and
// desktop entries.
func Render(opts []*unit.UnitOption) ([]byte, error) {
	data, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to render unit: %w", err)
	}
	return data, nil
}

// Lookup returns the last value of section/name in a rendered file.
func Lookup(data []byte, section, name string) (string, bool, error) {
	opts, err := unit.Deserialize(bytes.NewReader(data))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse unit: %w", err)
	}
	var value string
	var found bool
	for _, o := range opts {
		if o.Section == section && o.Name == name {
			value, found = o.Value, true
		}
	}
	return value, found, nil
}

// Manager reloads the service manager and enables units.
type Manager interface {
	Reload(ctx context.Context) error
	Enable(ctx context.Context, unitPath string) error
}

// DBus talks to systemd over the system bus; it needs root.
type DBus struct{}

func (DBus) Reload(ctx context.Context) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	return nil
}

func (DBus) Enable(ctx context.Context, unitPath string) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	_, changes, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true)
	if err != nil {
		return fmt.Errorf("failed to enable %s: %w", unitPath, err)
	}
	for _, c := range changes {
		slog.Debug("unit file change", "type", c.Type, "filename", c.Filename, "destination", c.Destination)
	}
	return nil
}

// Ctl shells out to systemctl, escalating through the commander.
type Ctl struct {
	Cmd shell.Commander
}

func (c Ctl) Reload(ctx context.Context) error {
	return c.Cmd.Run(ctx, shell.Cmd{
		Name:       "systemctl",
		Args:       []string{"daemon-reload"},
		Privileged: true,
	})
}

func (c Ctl) Enable(ctx context.Context, unitPath string) error {
	name := filepath.Base(unitPath)
	if !strings.Contains(name, ".") {
		return errors.New("unit name must carry a type suffix, got " + name)
	}
	return c.Cmd.Run(ctx, shell.Cmd{
		Name:       "systemctl",
		Args:       []string{"enable", name},
		Privileged: true,
	})
}

// NewManager uses the D-Bus API when running as root and systemctl otherwise.
func NewManager(cmd shell.Commander, root bool) Manager {
	if root {
		return DBus{}
	}
	return Ctl{Cmd: cmd}
}

// DryRun reports what would be done without touching the service manager.
type DryRun struct {
	Out io.Writer
}

func (d DryRun) Reload(context.Context) error {
	fmt.Fprintln(d.Out, "would reload systemd")
	return nil
}

func (d DryRun) Enable(_ context.Context, unitPath string) error {
	fmt.Fprintf(d.Out, "would enable %s\n", filepath.Base(unitPath))
	return nil
}
