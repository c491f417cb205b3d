package decommission

import (
	"context"
	"errors"
	"fmt"

	"github.com/deicer-io/deicer/internal/inventory"
	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

// errJobFailed is reported when the service finished a job unsuccessfully.
var errJobFailed = errors.New("inventory job failed")

// Poller checks running inventory jobs and stores finished inventories.
type Poller struct {
	campaign *Campaign
	remote   vaultstore.Store
	opts     Options
}

// NewPoller creates a Poller.
func NewPoller(campaign *Campaign, remote vaultstore.Store, opts Options) *Poller {
	return &Poller{campaign: campaign, remote: remote, opts: opts.withDefaults()}
}

// Poll visits every IN_PROGRESS vault. A running job refreshes the record's
// timestamp; a finished job has its manifest fetched and the vault moves to
// COMPLETE. Remote failures, failed jobs and malformed manifests move the
// vault to ERROR so the next scan resubmits it. None of these abort the poll.
func (p *Poller) Poll(ctx context.Context) error {
	records := p.campaign.Records()
	for _, id := range records.WithStatus(state.StatusInProgress) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := records[id]
		log := p.opts.Logger.WithVault(id)

		archives, done, err := p.check(ctx, id, rec)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		now := p.opts.Clock.Now()
		switch {
		case err != nil:
			if ferr := rec.Fail(now); ferr != nil {
				return ferr
			}
			p.opts.Metrics.RecordStage(metrics.StagePoll, metrics.OutcomeFailed)
			log.Warnf("inventory retrieval failed", map[string]any{"error": err})
		case !done:
			if terr := rec.Touch(now); terr != nil {
				return terr
			}
			p.opts.Metrics.RecordStage(metrics.StagePoll, metrics.OutcomeWaiting)
			log.Infof("inventory job still running", map[string]any{"jobId": *rec.JobID})
		default:
			if cerr := rec.Complete(archives, now); cerr != nil {
				return cerr
			}
			p.opts.Metrics.RecordStage(metrics.StagePoll, metrics.OutcomeCompleted)
			log.Infof("inventory retrieved", map[string]any{
				"jobId":     *rec.JobID,
				"archives":  len(rec.Archives),
				"sizeBytes": rec.TotalSize(),
			})
		}

		if err := p.campaign.Save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// check reports whether the vault's job is done and, if so, its archives.
func (p *Poller) check(ctx context.Context, vault string, rec *state.VaultRecord) ([]state.ArchiveRef, bool, error) {
	if rec.JobID == nil {
		return nil, false, fmt.Errorf("%w: in progress without a job id", state.ErrMalformed)
	}
	jobID := *rec.JobID

	desc, err := p.remote.DescribeJob(ctx, vault, jobID)
	if err != nil {
		return nil, false, err
	}
	switch desc.Status {
	case vaultstore.JobInProgress:
		return nil, false, nil
	case vaultstore.JobFailed:
		return nil, false, fmt.Errorf("%w: %s", errJobFailed, desc.Message)
	}

	data, err := p.remote.GetJobOutput(ctx, vault, jobID)
	if err != nil {
		return nil, false, err
	}
	archives, err := inventory.Parse(data)
	if err != nil {
		return nil, false, err
	}
	return archives, true, nil
}
