package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/provision"
	"github.com/aouyang1/pimmich/remote"
	"github.com/aouyang1/pimmich/shell"
	"github.com/aouyang1/pimmich/store"
	"github.com/aouyang1/pimmich/systemd"
	"github.com/aouyang1/pimmich/util"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	verbose    bool

	cfg *config.Settings
	out io.Writer

	// cmd replaces the host commander in tests
	cmd shell.Commander
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pimmich-setup",
		Short:         "Provision a Raspberry Pi as a Pimmich photo frame",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			a.out = cmd.OutOrStdout()
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "settings file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newInstallCmd(a),
		newStepCmd(a, provision.StepCredentials, "seed", "Write the credentials file if it is missing"),
		newStepCmd(a, provision.StepAutostart, "autostart", "Register the frame to start at boot"),
		newStepCmd(a, provision.StepAdmin, "admin", "Create the web UI administrator if missing"),
		newDoctorCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) commander() shell.Commander {
	if a.cmd != nil {
		return a.cmd
	}
	return shell.NewExec(a.cfg.Sudo)
}

// env wires the host effects for a run, swapping in reporting fakes for dry runs.
func (a *app) env(ctx context.Context, dryRun bool) (*provision.Env, error) {
	cmd := a.commander()
	root := os.Geteuid() == 0
	env := &provision.Env{
		Cfg:     a.cfg,
		Cmd:     cmd,
		Writer:  util.NewAuto(cmd),
		Manager: systemd.NewManager(cmd, root),
		Out:     a.out,
		DryRun:  dryRun,
	}
	if root {
		env.Owner = a.cfg.User
	}
	if dryRun {
		env.Cmd = &shell.DryRun{Next: cmd, Out: a.out}
		env.Writer = util.DryRun{Out: a.out}
		env.Manager = systemd.DryRun{Out: a.out}
	}

	if a.cfg.Seed.Enabled() {
		src, err := remote.NewS3Source(ctx, a.cfg.Seed.AWSProfile, a.cfg.Seed.S3Bucket, a.cfg.Seed.S3Key)
		if err != nil {
			return nil, err
		}
		slog.Info("credentials will be seeded from template", "source", src.String())
		env.Template = src
	}
	return env, nil
}

// openLedger returns nil when the ledger cannot be opened. Dry runs only
// record into a ledger that already exists.
func (a *app) openLedger(dryRun bool) *store.Database {
	if dryRun {
		if ok, _ := util.Exists(a.cfg.StateDB); !ok {
			return nil
		}
	}
	db, err := store.NewDatabase(a.cfg.StateDB)
	if err != nil {
		slog.Warn("install ledger unavailable, run will not be recorded", "path", a.cfg.StateDB, "error", err)
		return nil
	}
	return db
}

func (a *app) run(ctx context.Context, dryRun bool, only, skip []string) (*provision.Report, error) {
	env, err := a.env(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	steps, err := provision.Filter(provision.Plan(env), only, skip)
	if err != nil {
		return nil, err
	}

	runner := &provision.Runner{Steps: steps, DryRun: dryRun, Out: a.out}
	if db := a.openLedger(dryRun); db != nil {
		defer db.Close()
		runner.Ledger = db
	}
	return runner.Run(ctx)
}

func newInstallCmd(a *app) *cobra.Command {
	var dryRun bool
	var only, skip []string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run the full provisioning procedure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.run(cmd.Context(), dryRun, only, skip)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(a.out, "\ndry run complete, %d step(s) would change the host\n", report.Changed())
				return nil
			}
			fmt.Fprintf(a.out, "\npimmich installed (%d step(s) changed).\n", report.Changed())
			fmt.Fprintf(a.out, "next: edit %s with your Immich url, token and albums, then reboot or run %s\n",
				a.cfg.CredentialsPath, a.cfg.LaunchScriptPath())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print what would change without changing it")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these steps")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "skip these steps")
	return cmd
}

func newStepCmd(a *app, step, use, short string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.run(cmd.Context(), dryRun, []string{step}, nil)
			return err
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print what would change without changing it")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cfg.Dump(a.out)
		},
	}
}

var errNotReady = errors.New("frame is not ready")

// placeholderHint is printed by status when the operator still has to edit credentials.
func placeholderHint(w io.Writer, path string) {
	c, err := credentials.Load(path)
	if err != nil || !c.HasPlaceholderToken() {
		return
	}
	fmt.Fprintf(w, "\n%s still holds the placeholder token, edit it before rebooting\n", path)
}
