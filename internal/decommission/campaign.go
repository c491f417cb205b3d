package decommission

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/state"
)

// Defaults for Options.
const (
	DefaultRetentionWindow = 24 * time.Hour
	DefaultDeleteAttempts  = 5
	DefaultDeleteDelay     = 300 * time.Second
)

// Metrics receives stage outcomes. *metrics.DecommissionMetrics implements it.
type Metrics interface {
	RecordStage(stage, outcome string)
	RecordArchiveDeletion(err error)
	RecordVaultDeleteAttempt(err error)
	RecordStatusCounts(counts map[string]int)
	RecordRun(start, end time.Time, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordStage(string, string)            {}
func (nopMetrics) RecordArchiveDeletion(error)           {}
func (nopMetrics) RecordVaultDeleteAttempt(error)        {}
func (nopMetrics) RecordStatusCounts(map[string]int)     {}
func (nopMetrics) RecordRun(time.Time, time.Time, error) {}

// Options configures the stages of a run.
type Options struct {
	Logger  *logging.Logger
	Metrics Metrics
	Clock   clock.Clock

	// RetentionWindow is how long a COMPLETE inventory must age before the
	// vault is destroyed. Default: 24h
	RetentionWindow time.Duration

	// DeleteAttempts bounds the vault deletion attempts. Default: 5
	DeleteAttempts int

	// DeleteDelay is the wait before the first vault deletion attempt and the
	// unit of the linear backoff between attempts. Default: 300s
	DeleteDelay time.Duration

	// ConfirmDestroy must be set for any archive or vault to be deleted.
	ConfirmDestroy bool

	// Confirm, if set, is asked once per run when ConfirmDestroy is false
	// and at least one vault is eligible. Returning true confirms.
	Confirm func(ctx context.Context, vaults []string) (bool, error)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Global()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = DefaultRetentionWindow
	}
	if o.DeleteAttempts <= 0 {
		o.DeleteAttempts = DefaultDeleteAttempts
	}
	if o.DeleteDelay <= 0 {
		o.DeleteDelay = DefaultDeleteDelay
	}
	return o
}

// Campaign is the in-memory copy of the record store shared by the stages
// of one run. Every mutation is followed by Save.
type Campaign struct {
	store   state.Store
	records state.Records
}

// LoadCampaign reads the records from store.
func LoadCampaign(ctx context.Context, store state.Store) (*Campaign, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if records == nil {
		records = state.Records{}
	}
	return &Campaign{store: store, records: records}, nil
}

// Records returns the live mapping. Callers must not mutate it.
func (c *Campaign) Records() state.Records {
	return c.records
}

// Save persists the current mapping.
func (c *Campaign) Save(ctx context.Context) error {
	if err := c.store.Save(ctx, c.records); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

func statusCounts(rs state.Records) map[string]int {
	counts := rs.CountByStatus()
	out := make(map[string]int, len(counts))
	for s, n := range counts {
		out[string(s)] = n
	}
	return out
}
