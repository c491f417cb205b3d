package decommission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

// ErrDestroyFailed is returned by Run when at least one vault could not be
// destroyed. The other vaults were still processed.
var ErrDestroyFailed = errors.New("vault destruction failed")

// Mode selects which stages a run performs.
type Mode int

const (
	// ModePoll checks running jobs and destroys eligible vaults.
	ModePoll Mode = iota
	// ModeScan additionally discovers vaults and submits inventory jobs.
	ModeScan
)

func (m Mode) String() string {
	switch m {
	case ModeScan:
		return "scan"
	case ModePoll:
		return "poll"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Summary describes what a run did.
type Summary struct {
	Mode Mode

	// Registered lists vaults discovered for the first time.
	Registered []string

	// Eligible lists vaults that passed the retention gate or were resumed
	// from PENDING_DELETION.
	Eligible []string

	// Deleted and Failed partition the eligible vaults when destruction
	// was confirmed.
	Deleted []string
	Failed  []string

	// DestroySkipped is set when eligible vaults were left alone because
	// destruction was not confirmed.
	DestroySkipped bool

	// Counts is the number of records per status at the end of the run.
	Counts map[state.Status]int
}

// Orchestrator sequences the stages of a run.
type Orchestrator struct {
	remote  vaultstore.Store
	records state.Store
	opts    Options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(remote vaultstore.Store, records state.Store, opts Options) *Orchestrator {
	return &Orchestrator{remote: remote, records: records, opts: opts.withDefaults()}
}

// Run performs one invocation. Scan mode runs discovery, initiation,
// polling, gating and destruction; poll mode skips the first two.
//
// Per-vault failures are recorded in the vault's status and do not stop the
// run. Listing failures, record store failures and cancellation do.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (summary Summary, err error) {
	start := o.opts.Clock.Now()
	summary.Mode = mode
	log := o.opts.Logger.With(map[string]any{"mode": mode.String()})

	campaign, err := LoadCampaign(ctx, o.records)
	if err != nil {
		return summary, err
	}
	defer func() {
		summary.Counts = campaign.Records().CountByStatus()
		o.opts.Metrics.RecordStatusCounts(statusCounts(campaign.Records()))
		o.opts.Metrics.RecordRun(start, o.opts.Clock.Now(), err)
	}()

	log.Infof("run started", map[string]any{"records": len(campaign.Records())})

	if mode == ModeScan {
		before := campaign.Records().IDs()
		known, err := NewScanner(campaign, o.remote, o.opts).Scan(ctx)
		if err != nil {
			return summary, err
		}
		summary.Registered = difference(known, before)

		if err := NewInitiator(campaign, o.remote, o.opts).Initiate(ctx); err != nil {
			return summary, err
		}
	}

	if err := NewPoller(campaign, o.remote, o.opts).Poll(ctx); err != nil {
		return summary, err
	}

	summary.Eligible = o.eligible(campaign.Records())
	for range summary.Eligible {
		o.opts.Metrics.RecordStage(metrics.StageGate, metrics.OutcomeSelected)
	}

	confirmed := o.opts.ConfirmDestroy
	if len(summary.Eligible) > 0 && !confirmed && o.opts.Confirm != nil {
		if confirmed, err = o.opts.Confirm(ctx, summary.Eligible); err != nil {
			return summary, fmt.Errorf("confirm destruction: %w", err)
		}
	}

	if len(summary.Eligible) > 0 && !confirmed {
		summary.DestroySkipped = true
		for _, id := range summary.Eligible {
			o.opts.Logger.WithVault(id).Warn("vault eligible for destruction, skipped without confirmation")
		}
	} else {
		destroyer := NewDestroyer(campaign, o.remote, o.opts)
		for _, id := range summary.Eligible {
			if err := destroyer.Destroy(ctx, id); err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				summary.Failed = append(summary.Failed, id)
				continue
			}
			summary.Deleted = append(summary.Deleted, id)
		}
	}

	log.Infof("run finished", map[string]any{
		"registered": len(summary.Registered),
		"eligible":   len(summary.Eligible),
		"deleted":    len(summary.Deleted),
		"failed":     len(summary.Failed),
	})

	if len(summary.Failed) > 0 {
		return summary, fmt.Errorf("%w: %s", ErrDestroyFailed, strings.Join(summary.Failed, ", "))
	}
	return summary, nil
}

// eligible returns the vaults the retention gate selects plus those whose
// deletion was interrupted by an earlier run.
func (o *Orchestrator) eligible(records state.Records) []string {
	gate := NewRetentionGate(o.opts.RetentionWindow)
	ids := gate.Select(records, o.opts.Clock.Now())
	ids = append(ids, records.WithStatus(state.StatusPendingDeletion)...)
	sort.Strings(ids)
	return ids
}

// Inspect returns the persisted records without contacting the service or
// modifying anything.
func (o *Orchestrator) Inspect(ctx context.Context) (state.Records, error) {
	records, err := o.records.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}

// difference returns the elements of a (sorted) not present in b.
func difference(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
