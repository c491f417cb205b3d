package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/deicer-io/deicer/internal/auditlog"
	"github.com/deicer-io/deicer/internal/config"
	"github.com/deicer-io/deicer/internal/decommission"
	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/report"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

const (
	pushTimeout  = 10 * time.Second
	auditTimeout = 30 * time.Second
)

type runFlags struct {
	scan           bool
	yes            bool
	report         bool
	retention      time.Duration
	deleteAttempts int
	deleteDelay    time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance the decommission campaign by one step",
		Long: `Advance the decommission campaign by one step.

Without --scan the run checks running inventory jobs and destroys vaults whose
inventory is older than the retention window. With --scan it first discovers
new vaults and submits inventory jobs for them.

Destruction is permanent. It needs --yes, or an interactive confirmation
when stdin is a terminal; otherwise eligible vaults are reported and kept.`,
		Example: `  deicer run --scan --state campaign.json
  deicer run --state campaign.json --yes --report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.scan, "scan", false, "discover vaults and submit inventory jobs")
	fl.BoolVarP(&f.yes, "yes", "y", false, "confirm destruction of eligible vaults")
	fl.BoolVar(&f.report, "report", false, "print the status report after the run")
	fl.DurationVar(&f.retention, "retention", decommission.DefaultRetentionWindow, "minimum age of a completed inventory before destruction")
	fl.IntVar(&f.deleteAttempts, "delete-attempts", decommission.DefaultDeleteAttempts, "vault deletion attempts")
	fl.DurationVar(&f.deleteDelay, "delete-delay", decommission.DefaultDeleteDelay, "wait before the first vault deletion attempt and backoff unit")
	return cmd
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return setupFailure(a.bootstrapLogger(), "cannot load configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("retention") {
		cfg.Retention.Window = f.retention
	}
	if flags.Changed("delete-attempts") {
		cfg.Deletion.Attempts = f.deleteAttempts
	}
	if flags.Changed("delete-delay") {
		cfg.Deletion.Delay = f.deleteDelay
	}
	if err := cfg.Validate(); err != nil {
		return setupFailure(a.bootstrapLogger(), "invalid configuration", err)
	}

	runID := uuid.NewString()
	log := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat, a.stderr).WithRunID(runID)
	logging.SetGlobal(log)
	ctx = logging.WithLoggerCtx(ctx, log)
	log.Debugf("credentials resolved", cfg.CredentialPresence())

	records, err := state.Open(cfg.State.Path, log)
	if err != nil {
		return setupFailure(log, "cannot open state", err)
	}
	defer records.Close()
	if _, err := records.Load(ctx); err != nil {
		return setupFailure(log, "cannot read state", err)
	}

	remote, err := a.newRemote(ctx, cfg)
	if err != nil {
		return setupFailure(log, "cannot create vault service client", err)
	}

	set := metrics.NewSet()
	opts := decommission.Options{
		Logger:          log,
		Metrics:         set.Decommission,
		Clock:           a.clock,
		RetentionWindow: cfg.Retention.Window,
		DeleteAttempts:  cfg.Deletion.Attempts,
		DeleteDelay:     cfg.Deletion.Delay,
		ConfirmDestroy:  f.yes,
	}
	if !f.yes && a.interactive() {
		opts.Confirm = a.confirmDestroy
	}

	mode := decommission.ModePoll
	if f.scan {
		mode = decommission.ModeScan
	}
	orch := decommission.NewOrchestrator(vaultstore.NewInstrumentedStore(remote, set.VaultStore), records, opts)
	start := a.clock.Now()
	summary, runErr := orch.Run(ctx, mode)
	end := a.clock.Now()

	if summary.DestroySkipped {
		log.Warnf("eligible vaults kept; rerun with --yes to destroy them", map[string]any{"vaults": summary.Eligible})
	}

	a.exportMetrics(ctx, cfg, set, log)

	if f.report || cfg.Audit.Bucket != "" {
		// Also read after an interrupted run.
		final, err := records.Load(context.WithoutCancel(ctx))
		if err != nil {
			log.Warnf("state not readable after run", map[string]any{"error": err.Error()})
		} else {
			if cfg.Audit.Bucket != "" {
				a.publishAudit(ctx, cfg, log, auditlog.NewEntry(runID, summary, final, start, end, runErr))
			}
			if f.report {
				if err := report.WriteTable(a.stdout, report.Build(final, a.clock.Now(), cfg.Retention.Window)); err != nil {
					log.Warnf("report not printed", map[string]any{"error": err.Error()})
				}
			}
		}
	}

	if runErr != nil {
		return runFailure(log, runErr)
	}
	return nil
}

// exportMetrics writes the run's metrics to the configured sinks. Export
// failures never fail the run.
func (a *app) exportMetrics(ctx context.Context, cfg *config.Config, set *metrics.Set, log *logging.Logger) {
	obs := cfg.Observability
	if obs.MetricsTextfile != "" {
		if err := set.WriteTextfile(obs.MetricsTextfile); err != nil {
			log.Warnf("metrics textfile not written", map[string]any{"error": err.Error()})
		}
	}
	if obs.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		grouping := map[string]string{"campaign": filepath.Base(cfg.State.Path)}
		if err := set.Push(pushCtx, obs.PushgatewayURL, obs.PushJob, grouping); err != nil {
			log.Warnf("metrics not pushed", map[string]any{"error": err.Error()})
		}
	}
}

// publishAudit records the run in the audit log. Failures are logged only.
func (a *app) publishAudit(ctx context.Context, cfg *config.Config, log *logging.Logger, entry auditlog.Entry) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	sink, err := a.newAuditSink(auditCtx, cfg)
	if err != nil {
		log.Warnf("audit log unavailable", map[string]any{"error": err.Error()})
		return
	}
	if _, err := auditlog.NewPublisher(sink, cfg.Audit.Prefix, log).Publish(auditCtx, entry); err != nil {
		log.Warnf("run not recorded in audit log", map[string]any{"error": err.Error()})
	}
}
