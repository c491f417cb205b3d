package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/deicer-io/deicer/internal/decommission"
	"github.com/deicer-io/deicer/internal/report"
	"github.com/deicer-io/deicer/internal/state"
)

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the status of every recorded vault",
		Long: `Show the status of every recorded vault without contacting the service.

The state is only read. Credentials are not needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return setupFailure(a.bootstrapLogger(), "cannot load configuration", err)
			}
			if err := cfg.ValidateSettings(); err != nil {
				return setupFailure(a.bootstrapLogger(), "invalid configuration", err)
			}
			log := a.bootstrapLogger()

			recs := state.Records{}
			// Opening a SQLite path would create the database.
			if _, err := os.Stat(cfg.State.Path); err == nil {
				store, err := state.Open(cfg.State.Path, log)
				if err != nil {
					return setupFailure(log, "cannot open state", err)
				}
				defer store.Close()

				recs, err = decommission.NewOrchestrator(nil, store, decommission.Options{Logger: log}).Inspect(ctx)
				if err != nil {
					return setupFailure(log, "cannot read state", err)
				}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return setupFailure(log, "cannot read state", err)
			}

			r := report.Build(recs, a.clock.Now(), cfg.Retention.Window)
			if asJSON {
				return report.WriteJSON(a.stdout, r)
			}
			return report.WriteTable(a.stdout, r)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
