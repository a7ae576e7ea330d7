// Package doctor inspects a provisioned frame without changing it.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/aouyang1/pimmich/autostart"
	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/immich"
	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/systemd"
	"github.com/aouyang1/pimmich/util"
	"github.com/aouyang1/pimmich/wlrrandr"
	mapset "github.com/deckarep/golang-set/v2"
)

type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "ok"
	case Warn:
		return "warn"
	default:
		return "fail"
	}
}

type Check struct {
	Name   string
	Status Status
	Detail string
}

// ImmichAPI is the part of the Immich client the checks use.
type ImmichAPI interface {
	Ping(ctx context.Context) error
	Albums(ctx context.Context) ([]immich.Album, error)
}

type Doctor struct {
	Cfg *config.Settings
	Cmd shell.Commander

	// NewImmich builds the client for the configured server.
	NewImmich func(url, token string) (ImmichAPI, error)
}

func New(cfg *config.Settings, cmd shell.Commander) *Doctor {
	return &Doctor{
		Cfg: cfg,
		Cmd: cmd,
		NewImmich: func(url, token string) (ImmichAPI, error) {
			return immich.NewClient(url, token, immich.DefaultOptions())
		},
	}
}

func (d *Doctor) Run(ctx context.Context) []Check {
	var checks []Check

	creds, credCheck := d.checkCredentials()
	checks = append(checks, credCheck)
	if credCheck.Status == Pass {
		checks = append(checks, d.checkToken(creds))
		checks = append(checks, d.checkImmich(ctx, creds)...)
	}

	checks = append(checks,
		d.checkVenv(),
		d.checkAutostart(),
		d.checkDisplay(ctx),
	)
	return checks
}

func (d *Doctor) checkCredentials() (credentials.Config, Check) {
	c := Check{Name: "credentials"}
	creds, err := credentials.Load(d.Cfg.CredentialsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.Status, c.Detail = Fail, fmt.Sprintf("%s missing, run pimmich-setup seed", d.Cfg.CredentialsPath)
	case err != nil:
		c.Status, c.Detail = Fail, err.Error()
	default:
		if err := creds.Validate(); err != nil {
			c.Status, c.Detail = Fail, err.Error()
		} else {
			c.Status, c.Detail = Pass, d.Cfg.CredentialsPath
		}
	}
	return creds, c
}

func (d *Doctor) checkToken(creds credentials.Config) Check {
	if creds.HasPlaceholderToken() || creds.ImmichToken == "" {
		return Check{Name: "immich token", Status: Warn, Detail: "still the placeholder, set immich_token in " + d.Cfg.CredentialsPath}
	}
	return Check{Name: "immich token", Status: Pass, Detail: creds.MaskedToken()}
}

func (d *Doctor) checkImmich(ctx context.Context, creds credentials.Config) []Check {
	reach := Check{Name: "immich server"}
	client, err := d.NewImmich(creds.ImmichURL, creds.ImmichToken)
	if err != nil {
		reach.Status, reach.Detail = Fail, err.Error()
		return []Check{reach}
	}
	if err := client.Ping(ctx); err != nil {
		reach.Status, reach.Detail = Fail, fmt.Sprintf("%s unreachable: %v", creds.ImmichURL, err)
		return []Check{reach}
	}
	reach.Status, reach.Detail = Pass, creds.ImmichURL

	if creds.HasPlaceholderToken() {
		return []Check{reach}
	}

	albums := Check{Name: "immich albums"}
	list, err := client.Albums(ctx)
	switch {
	case errors.Is(err, immich.ErrUnauthorized):
		albums.Status, albums.Detail = Fail, "token rejected by the server"
	case err != nil:
		albums.Status, albums.Detail = Fail, err.Error()
	default:
		known := mapset.NewSet[string]()
		for _, a := range list {
			known.Add(a.ID)
		}
		missing := util.Missing(creds.AlbumIDs, known)
		switch {
		case len(creds.AlbumIDs) == 0:
			albums.Status, albums.Detail = Warn, fmt.Sprintf("%d albums available, none selected", len(list))
		case len(missing) > 0:
			albums.Status, albums.Detail = Warn, fmt.Sprintf("unknown album ids %v", missing)
		default:
			albums.Status, albums.Detail = Pass, fmt.Sprintf("%d of %d albums selected", len(creds.AlbumIDs), len(list))
		}
	}
	return []Check{reach, albums}
}

func (d *Doctor) checkVenv() Check {
	ok, err := util.Exists(d.Cfg.VenvBin("python"))
	switch {
	case err != nil:
		return Check{Name: "python venv", Status: Fail, Detail: err.Error()}
	case !ok:
		return Check{Name: "python venv", Status: Fail, Detail: d.Cfg.VenvPath() + " missing"}
	}
	return Check{Name: "python venv", Status: Pass, Detail: d.Cfg.VenvPath()}
}

func (d *Doctor) checkAutostart() Check {
	c := Check{Name: "autostart"}
	target, err := autostart.Detect(d.Cfg.AutostartDir)
	if err != nil {
		c.Status, c.Detail = Fail, err.Error()
		return c
	}

	path := d.Cfg.UnitPath()
	if target == autostart.TargetDesktop {
		path = d.Cfg.DesktopPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.Status, c.Detail = Fail, fmt.Sprintf("%s descriptor missing: %s", target, path)
		return c
	}
	if target == autostart.TargetLite {
		restart, _, err := systemd.Lookup(data, "Service", "Restart")
		if err != nil {
			c.Status, c.Detail = Fail, err.Error()
			return c
		}
		if restart != "always" {
			c.Status, c.Detail = Warn, fmt.Sprintf("%s has Restart=%s", path, restart)
			return c
		}
	}
	c.Status, c.Detail = Pass, fmt.Sprintf("%s: %s", target, path)
	return c
}

func (d *Doctor) checkDisplay(ctx context.Context) Check {
	c := Check{Name: "display"}
	outputs, err := wlrrandr.Outputs(ctx, d.Cmd)
	if err != nil {
		c.Status, c.Detail = Warn, "no compositor to query, check the screen after reboot"
		return c
	}
	out, err := wlrrandr.FindOutput(outputs, wlrrandr.DefaultOutput)
	if err != nil {
		c.Status, c.Detail = Warn, err.Error()
		return c
	}
	if !out.Enabled {
		c.Status, c.Detail = Warn, out.Name+" is off"
		return c
	}
	c.Status, c.Detail = Pass, out.Name
	if mode, ok := out.CurrentMode(); ok {
		c.Detail += " " + mode.String()
	}
	return c
}

// Failed reports whether any check failed outright.
func Failed(checks []Check) bool {
	for _, c := range checks {
		if c.Status == Fail {
			return true
		}
	}
	return false
}

func Print(w io.Writer, checks []Check) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range checks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Status, c.Name, c.Detail)
	}
	return tw.Flush()
}
