package autostart

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/util"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	reloads int
	enabled []string
}

func (f *fakeManager) Reload(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeManager) Enable(_ context.Context, unitPath string) error {
	f.enabled = append(f.enabled, unitPath)
	return nil
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectDir = filepath.Join(root, "pimmich")
	cfg.AutostartDir = filepath.Join(root, "home", ".config", "autostart")
	cfg.UnitDir = filepath.Join(root, "etc", "systemd", "system")
	return cfg
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()

	target, err := Detect(filepath.Join(dir, "autostart"))
	require.NoError(t, err)
	require.Equal(t, TargetLite, target)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "autostart"), 0o755))
	target, err = Detect(filepath.Join(dir, "autostart"))
	require.NoError(t, err)
	require.Equal(t, TargetDesktop, target)
	require.Equal(t, "desktop", target.String())
}

func TestDesktopRegistration(t *testing.T) {
	cfg := testSettings(t)
	require.NoError(t, os.MkdirAll(cfg.AutostartDir, 0o755))
	m := &fakeManager{}

	r, err := New(cfg, util.Local{}, m)
	require.NoError(t, err)
	require.Equal(t, TargetDesktop, r.Target())

	changed, err := r.Register(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	data, err := os.ReadFile(cfg.DesktopPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "Exec="+cfg.LaunchScriptPath()+"\n")

	// only one descriptor per run
	_, err = os.Stat(cfg.UnitPath())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, m.reloads)
	require.Empty(t, m.enabled)

	changed, err = r.Register(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
}

func TestServiceRegistration(t *testing.T) {
	cfg := testSettings(t)
	m := &fakeManager{}

	r, err := New(cfg, util.Local{}, m)
	require.NoError(t, err)
	require.Equal(t, TargetLite, r.Target())
	require.Equal(t, cfg.UnitPath(), r.Path())

	changed, err := r.Register(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	data, err := os.ReadFile(cfg.UnitPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "Restart=always\n")
	require.Contains(t, string(data), "WantedBy=multi-user.target\n")
	require.Contains(t, string(data), "User=pi\n")

	_, err = os.Stat(cfg.DesktopPath())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, 1, m.reloads)
	require.Equal(t, []string{cfg.UnitPath()}, m.enabled)

	// a second run keeps the file, skips the reload, and still enables
	changed, err = r.Register(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, m.reloads)
	require.Len(t, m.enabled, 2)
}
