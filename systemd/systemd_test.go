package systemd

import (
	"bytes"
	"context"
	"testing"

	"github.com/aouyang1/pimmich/shell/shelltest"
	"github.com/stretchr/testify/require"
)

func testService() Service {
	return Service{
		Description: "Pimmich photo frame",
		ExecStart:   "/home/pi/pimmich/start_pimmich.sh",
		WorkingDir:  "/home/pi/pimmich",
		LogDir:      "/home/pi/pimmich/logs",
		User:        "pi",
		VenvBin:     "/home/pi/pimmich/venv/bin",
	}
}

func TestRenderService(t *testing.T) {
	data, err := Render(testService().Options())
	require.NoError(t, err)

	text := string(data)
	require.Contains(t, text, "[Unit]\nDescription=Pimmich photo frame\n")
	require.Contains(t, text, "ExecStart=/home/pi/pimmich/start_pimmich.sh\n")
	require.Contains(t, text, "StandardOutput=append:/home/pi/pimmich/logs/pimmich.log\n")
	require.Contains(t, text, "Restart=always\n")
	require.Contains(t, text, "Environment=PATH=/home/pi/pimmich/venv/bin:/usr/local/sbin:")
	require.Contains(t, text, "[Install]\nWantedBy=multi-user.target\n")

	restart, ok, err := Lookup(data, "Service", "Restart")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "always", restart)

	_, ok, err = Lookup(data, "Service", "Type")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRenderIsStable(t *testing.T) {
	a, err := Render(testService().Options())
	require.NoError(t, err)
	b, err := Render(testService().Options())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRenderDesktopEntry(t *testing.T) {
	data, err := Render(DesktopEntry{
		Name: "Pimmich",
		Exec: "/home/pi/pimmich/start_pimmich.sh",
		Path: "/home/pi/pimmich",
	}.Options())
	require.NoError(t, err)

	text := string(data)
	require.True(t, bytes.HasPrefix(data, []byte("[Desktop Entry]\n")))
	require.Contains(t, text, "Type=Application\n")
	require.Contains(t, text, "Exec=/home/pi/pimmich/start_pimmich.sh\n")
	require.Contains(t, text, "X-GNOME-Autostart-enabled=true\n")
}

func TestCtl(t *testing.T) {
	rec := &shelltest.Recorder{}
	m := NewManager(rec, false)

	require.NoError(t, m.Reload(context.Background()))
	require.NoError(t, m.Enable(context.Background(), "/etc/systemd/system/pimmich.service"))
	require.Equal(t, []string{
		"[root] systemctl daemon-reload",
		"[root] systemctl enable pimmich.service",
	}, rec.Lines())

	require.Error(t, m.Enable(context.Background(), "/etc/systemd/system/pimmich"))
}

func TestNewManagerAsRoot(t *testing.T) {
	require.IsType(t, DBus{}, NewManager(&shelltest.Recorder{}, true))
}

func TestDryRun(t *testing.T) {
	var out bytes.Buffer
	m := DryRun{Out: &out}
	require.NoError(t, m.Reload(context.Background()))
	require.NoError(t, m.Enable(context.Background(), "/etc/systemd/system/pimmich.service"))
	require.Equal(t, "would reload systemd\nwould enable pimmich.service\n", out.String())
}
