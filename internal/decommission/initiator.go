package decommission

import (
	"context"

	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

// Initiator submits inventory jobs for vaults that have none.
type Initiator struct {
	campaign *Campaign
	remote   vaultstore.Store
	opts     Options
}

// NewInitiator creates an Initiator.
func NewInitiator(campaign *Campaign, remote vaultstore.Store, opts Options) *Initiator {
	return &Initiator{campaign: campaign, remote: remote, opts: opts.withDefaults()}
}

// Initiate starts an inventory job for every NOT_STARTED or ERROR vault.
// An inventory job already running on the vault is adopted instead of
// submitting a new one. A vault whose submission fails is marked ERROR and
// the remaining vaults are still processed.
func (i *Initiator) Initiate(ctx context.Context) error {
	records := i.campaign.Records()
	for _, id := range records.WithStatus(state.StatusNotStarted, state.StatusError) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := records[id]
		log := i.opts.Logger.WithVault(id)

		outcome := metrics.OutcomeAdopted
		jobID := i.runningInventory(ctx, id, log)
		if jobID == "" {
			outcome = metrics.OutcomeStarted
			var err error
			jobID, err = i.remote.InitiateJob(ctx, id, vaultstore.JobKindInventory)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if ferr := rec.Fail(i.opts.Clock.Now()); ferr != nil {
					return ferr
				}
				if err := i.campaign.Save(ctx); err != nil {
					return err
				}
				i.opts.Metrics.RecordStage(metrics.StageInitiate, metrics.OutcomeFailed)
				log.Warnf("inventory job submission failed", map[string]any{"error": err})
				continue
			}
		}

		if err := rec.StartJob(jobID, i.opts.Clock.Now()); err != nil {
			return err
		}
		if err := i.campaign.Save(ctx); err != nil {
			return err
		}
		i.opts.Metrics.RecordStage(metrics.StageInitiate, outcome)
		log.Infof("inventory job "+outcome, map[string]any{"jobId": jobID})
	}
	return nil
}

// runningInventory returns the id of an inventory job already in flight on
// the vault, or "" if there is none or the lookup fails.
func (i *Initiator) runningInventory(ctx context.Context, vault string, log *logging.Logger) string {
	jobs, err := i.remote.ListJobs(ctx, vault, vaultstore.JobFilterInProgress)
	if err != nil {
		log.Debugf("listing running jobs failed, submitting a new one", map[string]any{"error": err})
		return ""
	}
	for _, j := range jobs {
		if j.Kind == vaultstore.JobKindInventory && j.ID != "" {
			return j.ID
		}
	}
	return ""
}
