package provision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/util"
	mapset "github.com/deckarep/golang-set/v2"
)

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

// Packages refreshes the apt index, optionally upgrades, and installs the
// missing system packages.
type Packages struct {
	env *Env
}

func (s *Packages) Name() string { return StepPackages }

func (s *Packages) apt(ctx context.Context, args ...string) error {
	return s.env.Cmd.Run(ctx, shell.Cmd{
		Name:       "apt-get",
		Args:       args,
		Env:        aptEnv,
		Privileged: true,
	})
}

func (s *Packages) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg

	if err := s.apt(ctx, "update"); err != nil {
		return Result{}, fmt.Errorf("failed to update package index: %w", err)
	}
	if cfg.Upgrade {
		if err := s.apt(ctx, "upgrade", "-y"); err != nil {
			return Result{}, fmt.Errorf("failed to upgrade packages: %w", err)
		}
	}

	installed, err := InstalledPackages(ctx, s.env.Cmd)
	if err != nil {
		return Result{}, err
	}
	missing := util.Missing(cfg.Packages, installed)
	if len(missing) == 0 {
		return unchanged("all %d packages already installed", len(cfg.Packages)), nil
	}

	slog.Info("installing packages", "packages", missing)
	if err := s.apt(ctx, append([]string{"install", "-y"}, missing...)...); err != nil {
		return Result{}, fmt.Errorf("failed to install packages: %w", err)
	}
	return changed("installed %s", strings.Join(missing, " ")), nil
}

// InstalledPackages lists the packages dpkg reports as fully installed.
func InstalledPackages(ctx context.Context, cmd shell.Commander) (mapset.Set[string], error) {
	out, err := cmd.Output(ctx, shell.Cmd{
		Name: "dpkg-query",
		Args: []string{"-W", "-f", "${Package} ${Status}\n"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list installed packages: %w", err)
	}
	return parseDpkgStatus(out), nil
}

func parseDpkgStatus(out []byte) mapset.Set[string] {
	installed := mapset.NewSet[string]()
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// ${Package} install ok installed
		if len(fields) < 2 || fields[len(fields)-1] != "installed" {
			continue
		}
		installed.Add(fields[0])
	}
	return installed
}

// Venv creates the isolated Python runtime inside the project.
type Venv struct {
	env *Env
}

func (s *Venv) Name() string { return StepVenv }

func (s *Venv) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg
	python := cfg.VenvBin("python")

	exists, err := util.Exists(python)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return unchanged("virtual environment present at %s", cfg.VenvPath()), nil
	}

	err = s.env.Cmd.Run(ctx, shell.Cmd{
		Name: cfg.Python,
		Args: []string{"-m", "venv", cfg.VenvPath()},
		Dir:  cfg.ProjectDir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create virtual environment: %w", err)
	}
	return changed("created virtual environment at %s", cfg.VenvPath()), nil
}

// PythonDeps installs the application's Python packages into the venv, from
// the requirements manifest when the project ships one.
type PythonDeps struct {
	env *Env
}

func (s *PythonDeps) Name() string { return StepPythonDeps }

func (s *PythonDeps) pip(ctx context.Context, args ...string) error {
	cfg := s.env.Cfg
	return s.env.Cmd.Run(ctx, shell.Cmd{
		Name: cfg.VenvBin("python"),
		Args: append([]string{"-m", "pip", "install"}, args...),
		Dir:  cfg.ProjectDir,
	})
}

func (s *PythonDeps) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg

	if err := s.pip(ctx, "--upgrade", "pip"); err != nil {
		return Result{}, fmt.Errorf("failed to upgrade pip: %w", err)
	}

	manifest := cfg.RequirementsPath()
	hasManifest, err := util.Exists(manifest)
	if err != nil {
		return Result{}, err
	}
	if hasManifest {
		if err := s.pip(ctx, "-r", manifest); err != nil {
			return Result{}, fmt.Errorf("failed to install %s: %w", cfg.RequirementsFile, err)
		}
		return changed("installed dependencies from %s", cfg.RequirementsFile), nil
	}

	if len(cfg.PythonPackages) == 0 {
		return unchanged("no requirements manifest and no python packages configured"), nil
	}
	slog.Info("no requirements manifest, installing configured packages", "manifest", manifest)
	if err := s.pip(ctx, cfg.PythonPackages...); err != nil {
		return Result{}, fmt.Errorf("failed to install python packages: %w", err)
	}
	return changed("installed %s", strings.Join(cfg.PythonPackages, " ")), nil
}
