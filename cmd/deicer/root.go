package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deicer-io/deicer/internal/auditlog"
	"github.com/deicer-io/deicer/internal/auditlog/s3"
	"github.com/deicer-io/deicer/internal/config"
	"github.com/deicer-io/deicer/internal/decommission"
	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
	"github.com/deicer-io/deicer/internal/vaultstore/glacier"
)

// Exit codes.
const (
	exitOK    = 0
	exitSetup = 1
	exitRun   = 2
)

// exitError carries the process exit code for a failure that was already
// reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// app holds the process-level dependencies of the commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// newRemote connects to the vault service.
	newRemote func(ctx context.Context, cfg *config.Config) (vaultstore.Store, error)

	// newAuditSink connects to the audit log bucket.
	newAuditSink func(ctx context.Context, cfg *config.Config) (auditlog.Sink, error)

	// interactive reports whether a confirmation prompt can be shown.
	interactive func() bool

	clock clock.Clock

	// Persistent flags.
	configPath string
	statePath  string
	logLevel   string
	logFormat  string
}

func newApp() *app {
	return &app{
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		newRemote:    connectGlacier,
		newAuditSink: connectAuditBucket,
		interactive:  func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		clock:        clock.WallClock,
	}
}

func connectGlacier(ctx context.Context, cfg *config.Config) (vaultstore.Store, error) {
	store, err := glacier.New(ctx, glacier.Config{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
		AccountID:       cfg.AWS.AccountID,
		MaxAttempts:     cfg.AWS.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func connectAuditBucket(ctx context.Context, cfg *config.Config) (auditlog.Sink, error) {
	sink, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Audit.Bucket,
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.Audit.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
		UsePathStyle:    cfg.Audit.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "deicer",
		Short: "Empty and delete Glacier vaults",
		Long: `deicer decommissions every Glacier vault of an account.

Each invocation advances the campaign recorded in the state file by one step
and exits. Schedule "deicer run --scan" once, then "deicer run" until every
vault is DELETED. Inventory jobs take hours; vaults are destroyed only after
their inventory is older than the retention window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to YAML configuration file (default $"+config.ConfigPathEnv+")")
	pf.StringVar(&a.statePath, "state", "", "path to the state file; .db or .sqlite selects SQLite")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRunCmd(a), newInspectCmd(a), newHistoryCmd(a), newVersionCmd(a))
	return root
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Usage errors from flag parsing.
	fmt.Fprintf(a.stderr, "Error: %v\nRun 'deicer --help' for usage.\n", err)
	return exitSetup
}

// loadConfig loads the configuration and applies the persistent flags.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("state") {
		cfg.State.Path = a.statePath
	}
	if flags.Changed("log-level") {
		cfg.Observability.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Observability.LogFormat = a.logFormat
	}
	return cfg, nil
}

// bootstrapLogger is used before the configuration is known.
func (a *app) bootstrapLogger() *logging.Logger {
	level, format := a.logLevel, a.logFormat
	if level == "" {
		level = "info"
	}
	return logging.Configure(level, format, a.stderr)
}

// setupFailure reports a failure that happened before any stage ran.
// Setup errors are short and actionable, so the message is shown as is.
func setupFailure(log *logging.Logger, msg string, err error) error {
	log.Errorf(msg, map[string]any{"error": err.Error()})
	return &exitError{code: exitSetup, err: err}
}

// runFailure reports a failed run. The full error chain is only logged at
// debug level.
func runFailure(log *logging.Logger, err error) error {
	log.Errorf("run failed", map[string]any{"reason": reason(err)})
	log.Debugf("error chain", map[string]any{"error": err.Error()})
	return &exitError{code: exitRun, err: err}
}

func reason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.Is(err, decommission.ErrDestroyFailed):
		return "one or more vaults could not be destroyed; they will be retried on the next run"
	case errors.Is(err, vaultstore.ErrAccessDenied):
		return "access denied by the vault service"
	case errors.Is(err, vaultstore.ErrThrottled):
		return "throttled by the vault service"
	case errors.Is(err, state.ErrMalformed):
		return "state records are inconsistent"
	default:
		return "unexpected error; rerun with --log-level debug for details"
	}
}
