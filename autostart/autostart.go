// Package autostart registers the frame to start at boot. Desktop images get
// an XDG autostart entry; Lite images get a systemd service.
package autostart

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/systemd"
	"github.com/aouyang1/pimmich/util"
)

type Target int

const (
	TargetLite Target = iota
	TargetDesktop
)

func (t Target) String() string {
	switch t {
	case TargetDesktop:
		return "desktop"
	case TargetLite:
		return "lite"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Detect picks the desktop target when the autostart directory exists.
func Detect(autostartDir string) (Target, error) {
	info, err := os.Stat(autostartDir)
	if err != nil {
		if os.IsNotExist(err) {
			return TargetLite, nil
		}
		return TargetLite, fmt.Errorf("failed to stat %s: %w", autostartDir, err)
	}
	if !info.IsDir() {
		return TargetLite, nil
	}
	return TargetDesktop, nil
}

// Registrar writes one startup descriptor. Register reports whether the
// descriptor on disk changed.
type Registrar interface {
	Target() Target
	Path() string
	Register(ctx context.Context) (bool, error)
}

// New detects the target once and returns the matching registrar.
func New(cfg *config.Settings, w util.Writer, m systemd.Manager) (Registrar, error) {
	target, err := Detect(cfg.AutostartDir)
	if err != nil {
		return nil, err
	}
	slog.Info("autostart target detected", "target", target, "autostart_dir", cfg.AutostartDir)

	switch target {
	case TargetDesktop:
		return &Desktop{
			path: cfg.DesktopPath(),
			entry: systemd.DesktopEntry{
				Name: "Pimmich",
				Exec: cfg.LaunchScriptPath(),
				Path: cfg.ProjectDir,
			},
			writer: w,
		}, nil
	default:
		return &Service{
			path: cfg.UnitPath(),
			service: systemd.Service{
				Description: "Pimmich photo frame",
				ExecStart:   cfg.LaunchScriptPath(),
				WorkingDir:  cfg.ProjectDir,
				LogDir:      cfg.LogPath(),
				User:        cfg.User,
				VenvBin:     cfg.VenvBin(""),
			},
			writer:  w,
			manager: m,
		}, nil
	}
}

// writeDescriptor writes data unless path already holds it.
func writeDescriptor(ctx context.Context, w util.Writer, path string, data []byte) (bool, error) {
	same, err := util.SameContent(path, data)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if same {
		slog.Info("startup descriptor up to date", "path", path)
		return false, nil
	}
	if err := w.WriteFile(ctx, path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("startup descriptor written", "path", path)
	return true, nil
}

type Desktop struct {
	path   string
	entry  systemd.DesktopEntry
	writer util.Writer
}

func (d *Desktop) Target() Target { return TargetDesktop }
func (d *Desktop) Path() string   { return d.path }

func (d *Desktop) Register(ctx context.Context) (bool, error) {
	data, err := systemd.Render(d.entry.Options())
	if err != nil {
		return false, err
	}
	return writeDescriptor(ctx, d.writer, d.path, data)
}

type Service struct {
	path    string
	service systemd.Service
	writer  util.Writer
	manager systemd.Manager
}

func (s *Service) Target() Target { return TargetLite }
func (s *Service) Path() string   { return s.path }

func (s *Service) Register(ctx context.Context) (bool, error) {
	data, err := systemd.Render(s.service.Options())
	if err != nil {
		return false, err
	}
	changed, err := writeDescriptor(ctx, s.writer, s.path, data)
	if err != nil {
		return false, err
	}
	if changed {
		if err := s.manager.Reload(ctx); err != nil {
			return false, err
		}
	}
	// enable is idempotent, and covers a unit that was written but never enabled
	if err := s.manager.Enable(ctx, s.path); err != nil {
		return false, err
	}
	return changed, nil
}
