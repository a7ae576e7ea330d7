package doctor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/immich"
	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/shell/shelltest"
	"github.com/stretchr/testify/require"
)

type fakeImmich struct {
	pingErr   error
	albums    []immich.Album
	albumsErr error
}

func (f *fakeImmich) Ping(context.Context) error { return f.pingErr }

func (f *fakeImmich) Albums(context.Context) ([]immich.Album, error) {
	return f.albums, f.albumsErr
}

const hdmi = `[{"name":"HDMI-A-1","enabled":true,"modes":[{"width":1920,"height":1080,"refresh":60,"current":true}]}]`

func newTestDoctor(t *testing.T, api *fakeImmich) *Doctor {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectDir = filepath.Join(root, "pimmich")
	cfg.CredentialsPath = filepath.Join(root, "boot", "credentials.json")
	cfg.AutostartDir = filepath.Join(root, "autostart")
	cfg.UnitDir = filepath.Join(root, "units")

	rec := &shelltest.Recorder{Handler: func(shell.Cmd) ([]byte, error) {
		return []byte(hdmi), nil
	}}
	d := New(cfg, rec)
	d.NewImmich = func(string, string) (ImmichAPI, error) { return api, nil }
	return d
}

func writeCredentials(t *testing.T, path string, c credentials.Config) {
	t.Helper()
	data, err := c.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func byName(checks []Check) map[string]Check {
	m := make(map[string]Check, len(checks))
	for _, c := range checks {
		m[c.Name] = c
	}
	return m
}

func TestFreshHost(t *testing.T) {
	d := newTestDoctor(t, &fakeImmich{})

	checks := byName(d.Run(context.Background()))
	require.Equal(t, Fail, checks["credentials"].Status)
	require.NotContains(t, checks, "immich server")
	require.Equal(t, Fail, checks["python venv"].Status)
	require.Equal(t, Fail, checks["autostart"].Status)
	require.Equal(t, Pass, checks["display"].Status)
	require.Equal(t, "HDMI-A-1 1920x1080@60.00Hz", checks["display"].Detail)
}

func TestPlaceholderToken(t *testing.T) {
	d := newTestDoctor(t, &fakeImmich{})
	writeCredentials(t, d.Cfg.CredentialsPath, credentials.Default())

	checks := byName(d.Run(context.Background()))
	require.Equal(t, Pass, checks["credentials"].Status)
	require.Equal(t, Warn, checks["immich token"].Status)
	require.Equal(t, Pass, checks["immich server"].Status)
	require.NotContains(t, checks, "immich albums")
}

func TestImmichChecks(t *testing.T) {
	creds := credentials.Default()
	creds.ImmichToken = "abcdef123456"
	creds.AlbumIDs = []string{"a1", "gone"}

	d := newTestDoctor(t, &fakeImmich{albums: []immich.Album{{ID: "a1"}, {ID: "a2"}}})
	writeCredentials(t, d.Cfg.CredentialsPath, creds)

	checks := byName(d.Run(context.Background()))
	require.Equal(t, Pass, checks["immich token"].Status)
	require.Equal(t, "********3456", checks["immich token"].Detail)
	require.Equal(t, Warn, checks["immich albums"].Status)
	require.Contains(t, checks["immich albums"].Detail, "gone")

	d.NewImmich = func(string, string) (ImmichAPI, error) {
		return &fakeImmich{albumsErr: immich.ErrUnauthorized}, nil
	}
	checks = byName(d.Run(context.Background()))
	require.Equal(t, Fail, checks["immich albums"].Status)

	d.NewImmich = func(string, string) (ImmichAPI, error) {
		return &fakeImmich{pingErr: errors.New("connection refused")}, nil
	}
	checks = byName(d.Run(context.Background()))
	require.Equal(t, Fail, checks["immich server"].Status)
	require.True(t, Failed(d.Run(context.Background())))
}

func TestAutostartUnit(t *testing.T) {
	d := newTestDoctor(t, &fakeImmich{})
	require.NoError(t, os.MkdirAll(d.Cfg.UnitDir, 0o755))

	require.NoError(t, os.WriteFile(d.Cfg.UnitPath(), []byte("[Service]\nRestart=on-failure\n"), 0o644))
	require.Equal(t, Warn, d.checkAutostart().Status)

	require.NoError(t, os.WriteFile(d.Cfg.UnitPath(), []byte("[Service]\nRestart=always\n"), 0o644))
	require.Equal(t, Pass, d.checkAutostart().Status)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, []Check{
		{Name: "credentials", Status: Pass, Detail: "/boot/firmware/credentials.json"},
		{Name: "display", Status: Warn, Detail: "HDMI-A-1 is off"},
	}))
	require.Equal(t, "ok    credentials  /boot/firmware/credentials.json\nwarn  display      HDMI-A-1 is off\n", buf.String())
}
