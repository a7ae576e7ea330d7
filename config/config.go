// Package config holds the installer settings: every path, URL, and package
// list the bootstrap uses, with defaults matching a stock Raspberry Pi OS host.
//
// Settings are read from a TOML file on top of the compiled-in defaults and
// then overridden by PIMMICH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "/etc/pimmich/setup.toml"

type Settings struct {
	ProjectDir    string `toml:"project_dir"`
	RepoURL       string `toml:"repo_url"`
	Branch        string `toml:"branch"`
	SourceDir     string `toml:"source_dir"`
	CloneAttempts int    `toml:"clone_attempts"`

	Python           string   `toml:"python"`
	VenvDir          string   `toml:"venv_dir"`
	RequirementsFile string   `toml:"requirements_file"`
	PythonPackages   []string `toml:"python_packages"`

	Packages []string `toml:"packages"`
	Upgrade  bool     `toml:"upgrade"`

	WorkDirs     []string `toml:"work_dirs"`
	LaunchScript string   `toml:"launch_script"`
	LogDir       string   `toml:"log_dir"`

	CredentialsPath string `toml:"credentials_path"`
	AdminPath       string `toml:"admin_path"`
	AdminUser       string `toml:"admin_user"`

	User         string `toml:"user"`
	AutostartDir string `toml:"autostart_dir"`
	DesktopFile  string `toml:"desktop_file"`
	ServiceName  string `toml:"service_name"`
	UnitDir      string `toml:"unit_dir"`

	StateDB string `toml:"state_db"`
	Sudo    bool   `toml:"sudo"`
	Listen  string `toml:"listen"`

	Seed SeedSettings `toml:"seed"`
}

// SeedSettings points at an optional credentials template kept in S3.
type SeedSettings struct {
	S3Bucket   string `toml:"s3_bucket"`
	S3Key      string `toml:"s3_key"`
	AWSProfile string `toml:"aws_profile"`
}

func (s SeedSettings) Enabled() bool { return s.S3Bucket != "" }

func Default() *Settings {
	return &Settings{
		ProjectDir:    "/home/pi/pimmich",
		RepoURL:       "https://github.com/gotenash/pimmich.git",
		CloneAttempts: 3,

		Python:           "python3",
		VenvDir:          "venv",
		RequirementsFile: "requirements.txt",
		PythonPackages: []string{
			"flask",
			"requests",
			"pillow",
			"python-dotenv",
			"werkzeug",
			"pygame",
		},

		Packages: []string{
			"python3",
			"python3-venv",
			"python3-dev",
			"python3-pip",
			"libjpeg-dev",
			"zlib1g-dev",
			"libopenjp2-7-dev",
			"libtiff5-dev",
			"libatlas-base-dev",
			"git",
			"unzip",
		},
		Upgrade: true,

		WorkDirs: []string{
			"static/uploads",
			"static/usb",
			"static/photos",
			"config",
			"logs",
			"templates",
		},
		LaunchScript: "start_pimmich.sh",
		LogDir:       "logs",

		CredentialsPath: "/boot/firmware/credentials.json",
		AdminPath:       "config/admin.json",
		AdminUser:       "admin",

		User:         "pi",
		AutostartDir: "/home/pi/.config/autostart",
		DesktopFile:  "pimmich.desktop",
		ServiceName:  "pimmich.service",
		UnitDir:      "/etc/systemd/system",

		StateDB: "/var/lib/pimmich/setup.db",
		Sudo:    os.Geteuid() != 0,
		Listen:  "0.0.0.0:8081",

		Seed: SeedSettings{
			S3Key: "credentials.json",
		},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file is only an error when path is not DefaultPath.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		_, err := toml.DecodeFile(path, s)
		switch {
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := s.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"PIMMICH_PROJECT_DIR":      &s.ProjectDir,
		"PIMMICH_REPO_URL":         &s.RepoURL,
		"PIMMICH_BRANCH":           &s.Branch,
		"PIMMICH_SOURCE_DIR":       &s.SourceDir,
		"PIMMICH_PYTHON":           &s.Python,
		"PIMMICH_CREDENTIALS_PATH": &s.CredentialsPath,
		"PIMMICH_USER":             &s.User,
		"PIMMICH_AUTOSTART_DIR":    &s.AutostartDir,
		"PIMMICH_UNIT_DIR":         &s.UnitDir,
		"PIMMICH_STATE_DB":         &s.StateDB,
		"PIMMICH_LISTEN":           &s.Listen,
		"PIMMICH_SEED_BUCKET":      &s.Seed.S3Bucket,
		"PIMMICH_SEED_KEY":         &s.Seed.S3Key,
		"PIMMICH_AWS_PROFILE":      &s.Seed.AWSProfile,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("PIMMICH_SUDO"); v != "" {
		sudo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PIMMICH_SUDO %q: %w", v, err)
		}
		s.Sudo = sudo
	}
	return nil
}

func (s *Settings) Validate() error {
	var errs []error
	if s.ProjectDir == "" {
		errs = append(errs, errors.New("project_dir is required"))
	} else if !filepath.IsAbs(s.ProjectDir) {
		errs = append(errs, fmt.Errorf("project_dir must be absolute, got %s", s.ProjectDir))
	}
	if s.RepoURL == "" && s.SourceDir == "" {
		errs = append(errs, errors.New("one of repo_url or source_dir is required"))
	}
	if s.CloneAttempts < 1 {
		errs = append(errs, fmt.Errorf("clone_attempts must be at least 1, got %d", s.CloneAttempts))
	}
	if s.Python == "" {
		errs = append(errs, errors.New("python is required"))
	}
	if s.LaunchScript == "" {
		errs = append(errs, errors.New("launch_script is required"))
	}
	for name, p := range map[string]string{
		"credentials_path": s.CredentialsPath,
		"autostart_dir":    s.AutostartDir,
		"unit_dir":         s.UnitDir,
		"state_db":         s.StateDB,
	} {
		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, p))
		}
	}
	for _, d := range s.WorkDirs {
		if filepath.IsAbs(d) || strings.HasPrefix(filepath.Clean(d), "..") {
			errs = append(errs, fmt.Errorf("work dir %q must be relative to project_dir", d))
		}
	}
	for name, v := range map[string]string{
		"service_name": s.ServiceName,
		"desktop_file": s.DesktopFile,
	} {
		switch {
		case v == "":
			errs = append(errs, fmt.Errorf("%s is required", name))
		case v != filepath.Base(v):
			errs = append(errs, fmt.Errorf("%s must be a file name, got %s", name, v))
		}
	}
	if s.ServiceName != "" && !strings.HasSuffix(s.ServiceName, ".service") {
		errs = append(errs, fmt.Errorf("service_name must end in .service, got %s", s.ServiceName))
	}
	if s.AdminPath == "" || filepath.Clean(s.AdminFilePath()) == filepath.Clean(s.ProjectDir) {
		errs = append(errs, errors.New("admin_path must name a file"))
	}
	if s.AdminUser == "" {
		errs = append(errs, errors.New("admin_user is required"))
	}
	return errors.Join(errs...)
}

// Resolve makes p absolute against the project directory.
func (s *Settings) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.ProjectDir, p)
}

func (s *Settings) VenvPath() string { return s.Resolve(s.VenvDir) }

func (s *Settings) VenvBin(name string) string {
	return filepath.Join(s.VenvPath(), "bin", name)
}

func (s *Settings) RequirementsPath() string { return s.Resolve(s.RequirementsFile) }
func (s *Settings) LaunchScriptPath() string { return s.Resolve(s.LaunchScript) }
func (s *Settings) AdminFilePath() string    { return s.Resolve(s.AdminPath) }
func (s *Settings) LogPath() string          { return s.Resolve(s.LogDir) }
func (s *Settings) UnitPath() string         { return filepath.Join(s.UnitDir, s.ServiceName) }
func (s *Settings) DesktopPath() string      { return filepath.Join(s.AutostartDir, s.DesktopFile) }

// Dump writes the effective settings as TOML.
func (s *Settings) Dump(w io.Writer) error {
	return toml.NewEncoder(w).Encode(s)
}
