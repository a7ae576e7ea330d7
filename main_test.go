package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/shell/shelltest"
	"github.com/stretchr/testify/require"
)

type testFrame struct {
	root       string
	configPath string
	creds      string
	stateDB    string
}

func newTestFrame(t *testing.T) testFrame {
	t.Helper()
	root := t.TempDir()
	f := testFrame{
		root:       root,
		configPath: filepath.Join(root, "setup.toml"),
		creds:      filepath.Join(root, "boot", "firmware", "credentials.json"),
		stateDB:    filepath.Join(root, "state", "setup.db"),
	}
	settings := fmt.Sprintf(`project_dir = %q
credentials_path = %q
autostart_dir = %q
unit_dir = %q
state_db = %q
sudo = false
`, filepath.Join(root, "pimmich"), f.creds, filepath.Join(root, "autostart"), filepath.Join(root, "units"), f.stateDB)
	require.NoError(t, os.WriteFile(f.configPath, []byte(settings), 0o644))
	return f
}

func execute(t *testing.T, f testFrame, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&app{cmd: &shelltest.Recorder{}})
	root.SetOut(&out)
	root.SetArgs(append([]string{"--config", f.configPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInstallDryRun(t *testing.T) {
	f := newTestFrame(t)

	out, err := execute(t, f, "install", "--dry-run", "--only", "scaffold,credentials")
	require.NoError(t, err)
	require.Contains(t, out, "would create directory "+filepath.Join(f.root, "pimmich", "static", "uploads"))
	require.Contains(t, out, "would write "+f.creds)
	require.Contains(t, out, "dry run complete")

	_, err = os.Stat(f.creds)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(f.stateDB)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstallUnknownStep(t *testing.T) {
	f := newTestFrame(t)
	_, err := execute(t, f, "install", "--only", "reboot")
	require.ErrorContains(t, err, "unknown step")
}

func TestSeedThenStatus(t *testing.T) {
	f := newTestFrame(t)

	out, err := execute(t, f, "status")
	require.NoError(t, err)
	require.Contains(t, out, "no install has run")

	_, err = execute(t, f, "seed")
	require.NoError(t, err)
	c, err := credentials.Load(f.creds)
	require.NoError(t, err)
	require.Equal(t, credentials.Default(), c)

	out, err = execute(t, f, "status")
	require.NoError(t, err)
	require.Contains(t, out, "succeeded")
	require.Contains(t, out, "credentials")
	require.Contains(t, out, "placeholder token")
}

func TestConfigDump(t *testing.T) {
	f := newTestFrame(t)
	out, err := execute(t, f, "config")
	require.NoError(t, err)
	require.Contains(t, out, fmt.Sprintf("project_dir = %q", filepath.Join(f.root, "pimmich")))
	require.Contains(t, out, "sudo = false")
}
