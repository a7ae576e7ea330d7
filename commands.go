package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/aouyang1/pimmich/api"
	"github.com/aouyang1/pimmich/doctor"
	"github.com/aouyang1/pimmich/store"
	"github.com/aouyang1/pimmich/util"
	"github.com/spf13/cobra"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the frame is ready to run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := doctor.New(a.cfg, a.commander()).Run(cmd.Context())
			if err := doctor.Print(a.out, checks); err != nil {
				return err
			}
			if doctor.Failed(checks) {
				return errNotReady
			}
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest install run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := util.Exists(a.cfg.StateDB)
			if err != nil {
				return err
			}
			if !exists {
				fmt.Fprintln(a.out, "no install has run on this frame yet")
				return nil
			}

			db, err := store.NewDatabase(a.cfg.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.LatestRun()
			if errors.Is(err, store.ErrNoRuns) {
				fmt.Fprintln(a.out, "no install has run on this frame yet")
				return nil
			}
			if err != nil {
				return err
			}
			steps, err := db.GetSteps(run.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "run %s started %s: %s", run.ID, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Status)
			if run.DryRun {
				fmt.Fprint(a.out, " (dry run)")
			}
			fmt.Fprintln(a.out)
			if run.Error != "" {
				fmt.Fprintln(a.out, run.Error)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, s := range steps {
				detail := s.Message
				if s.Error != "" {
					detail = s.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Outcome, s.Duration, detail)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			placeholderHint(a.out, a.cfg.CredentialsPath)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the setup web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewDatabase(a.cfg.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			ws := api.NewWebServer(db, a.cfg, util.NewAuto(a.commander()))
			return ws.Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on, overrides the settings file")
	return cmd
}
