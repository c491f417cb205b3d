package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/deicer-io/deicer/internal/auditlog"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the runs recorded in the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return setupFailure(a.bootstrapLogger(), "cannot load configuration", err)
			}
			log := a.bootstrapLogger()
			if err := cfg.Validate(); err != nil {
				return setupFailure(log, "invalid configuration", err)
			}
			if cfg.Audit.Bucket == "" {
				return setupFailure(log, "audit log not configured", errors.New("set audit.bucket or DEICER_AUDIT_BUCKET"))
			}

			sink, err := a.newAuditSink(ctx, cfg)
			if err != nil {
				return setupFailure(log, "cannot create audit log client", err)
			}
			entries, err := auditlog.NewPublisher(sink, cfg.Audit.Prefix, log).History(ctx, limit)
			if err != nil {
				return runFailure(log, err)
			}

			if len(entries) == 0 {
				_, err := fmt.Fprintln(a.stdout, "No runs recorded.")
				return err
			}

			now := a.clock.Now()
			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("FINISHED", "RUN", "MODE", "OUTCOME", "REGISTERED", "DELETED", "FAILED")
			for _, e := range entries {
				table.AddRow(
					humanize.RelTime(e.FinishedAt, now, "ago", "from now"),
					e.RunID,
					e.Mode,
					e.Outcome,
					len(e.Registered),
					len(e.Deleted),
					len(e.Failed),
				)
			}
			_, err = fmt.Fprintln(a.stdout, table)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list; 0 lists all")
	return cmd
}
