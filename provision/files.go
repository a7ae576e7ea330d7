package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aouyang1/pimmich/auth"
	"github.com/aouyang1/pimmich/autostart"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/util"
	mapset "github.com/deckarep/golang-set/v2"
)

// Scaffold creates the working directories the application expects.
type Scaffold struct {
	env *Env
}

func (s *Scaffold) Name() string { return StepScaffold }

func (s *Scaffold) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg

	want := append([]string{}, cfg.WorkDirs...)
	if cfg.LogDir != "" {
		want = append(want, cfg.LogDir)
	}

	present := mapset.NewSet[string]()
	for _, d := range want {
		ok, err := util.Exists(cfg.Resolve(d))
		if err != nil {
			return Result{}, err
		}
		if ok {
			present.Add(d)
		}
	}

	missing := util.Missing(want, present)
	for _, d := range missing {
		if err := s.env.Writer.MkdirAll(ctx, cfg.Resolve(d), 0o755); err != nil {
			return Result{}, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	// source, venv and python-deps ran before this step, so the whole tree is in place
	if err := s.env.handOver(ctx, s.ownedPaths()...); err != nil {
		return Result{}, err
	}

	if len(missing) == 0 {
		return unchanged("all %d directories present", present.Cardinality()), nil
	}
	return changed("created %s", strings.Join(missing, ", ")), nil
}

func (s *Scaffold) ownedPaths() []string {
	cfg := s.env.Cfg
	paths := []string{cfg.ProjectDir}
	if cfg.LogDir != "" && !s.env.inProject(cfg.LogPath()) {
		paths = append(paths, cfg.LogPath())
	}
	return paths
}

// Launcher makes the project's start script executable.
type Launcher struct {
	env *Env
}

func (s *Launcher) Name() string { return StepLauncher }

func (s *Launcher) Run(ctx context.Context) (Result, error) {
	path := s.env.Cfg.LaunchScriptPath()

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.env.DryRun {
			return changed("would make %s executable once the project is in place", path), nil
		}
		return Result{}, fmt.Errorf("launch script %s is missing, the project checkout is incomplete", path)
	}
	if err != nil {
		return Result{}, err
	}
	if info.Mode().Perm() == 0o755 {
		return unchanged("%s already executable", path), nil
	}

	if err := s.env.Writer.Chmod(ctx, path, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to make %s executable: %w", path, err)
	}
	return changed("made %s executable", path), nil
}

// Credentials seeds the Immich credentials file on the boot partition.
type Credentials struct {
	env *Env
}

func (s *Credentials) Name() string { return StepCredentials }

func (s *Credentials) Run(ctx context.Context) (Result, error) {
	seeder := &credentials.Seeder{
		Path:     s.env.Cfg.CredentialsPath,
		Writer:   s.env.Writer,
		Template: s.env.Template,
	}
	created, err := seeder.Seed(ctx)
	if err != nil {
		return Result{}, err
	}
	if !created {
		return unchanged("%s already present", seeder.Path), nil
	}
	return changed("created %s", seeder.Path), nil
}

// Admin creates the web UI administrator and shows the password once.
type Admin struct {
	env *Env
}

func (s *Admin) Name() string { return StepAdmin }

func (s *Admin) Run(ctx context.Context) (Result, error) {
	cfg := s.env.Cfg
	seeder := &auth.Seeder{
		Path:     cfg.AdminFilePath(),
		Username: cfg.AdminUser,
		Writer:   s.env.Writer,
	}
	password, err := seeder.Seed(ctx)
	if err != nil {
		return Result{}, err
	}
	if password == "" {
		return unchanged("admin account already present"), nil
	}

	path := cfg.AdminFilePath()
	owned := []string{path}
	if dir := filepath.Dir(path); s.env.inProject(dir) && dir != filepath.Clean(cfg.ProjectDir) {
		owned = []string{dir}
	}
	if err := s.env.handOver(ctx, owned...); err != nil {
		return Result{}, err
	}

	if !s.env.DryRun {
		fmt.Fprintf(s.env.Out, "admin account %q created with password: %s\n", cfg.AdminUser, password)
		fmt.Fprintln(s.env.Out, "note it now, it will not be shown again")
	}
	return changed("created admin account %q", cfg.AdminUser), nil
}

// Autostart registers the frame to start at boot.
type Autostart struct {
	env *Env
}

func (s *Autostart) Name() string { return StepAutostart }

func (s *Autostart) Run(ctx context.Context) (Result, error) {
	r, err := autostart.New(s.env.Cfg, s.env.Writer, s.env.Manager)
	if err != nil {
		return Result{}, err
	}
	wrote, err := r.Register(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to register %s autostart: %w", r.Target(), err)
	}
	if !wrote {
		return unchanged("%s autostart already registered at %s", r.Target(), r.Path()), nil
	}
	return changed("registered %s autostart at %s", r.Target(), r.Path()), nil
}
