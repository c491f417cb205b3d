package decommission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/retry"

	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

var (
	// ErrNotEligible is returned when Destroy is asked to act on a vault
	// that is neither COMPLETE nor PENDING_DELETION.
	ErrNotEligible = errors.New("vault not eligible for destruction")

	// ErrDeleteExhausted is returned when the vault still reported archives
	// after every deletion attempt.
	ErrDeleteExhausted = errors.New("vault deletion attempts exhausted")
)

// Destroyer deletes a vault's archives and then the vault itself.
type Destroyer struct {
	campaign *Campaign
	remote   vaultstore.Store
	opts     Options
}

// NewDestroyer creates a Destroyer.
func NewDestroyer(campaign *Campaign, remote vaultstore.Store, opts Options) *Destroyer {
	return &Destroyer{campaign: campaign, remote: remote, opts: opts.withDefaults()}
}

// Destroy deletes every archive listed in the vault's inventory, marks the
// vault PENDING_DELETION, then deletes the vault.
//
// The service keeps reporting a vault as non-empty for a while after its
// last archive is gone, so vault deletion first waits DeleteDelay and then
// retries up to DeleteAttempts times, waiting attempt*DeleteDelay after each
// not-empty rejection. Any other error stops the retries. On exhaustion the
// record stays PENDING_DELETION and the next run repeats the sequence.
//
// A DELETED vault is left alone.
func (d *Destroyer) Destroy(ctx context.Context, vault string) error {
	rec, ok := d.campaign.Records()[vault]
	if !ok {
		return fmt.Errorf("%w: %s has no record", ErrNotEligible, vault)
	}
	switch rec.Status {
	case state.StatusDeleted:
		return nil
	case state.StatusComplete, state.StatusPendingDeletion:
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotEligible, vault, rec.Status)
	}
	log := d.opts.Logger.WithVault(vault)

	if err := d.deleteArchives(ctx, vault, rec); err != nil {
		return err
	}

	if err := rec.MarkPendingDeletion(); err != nil {
		return err
	}
	if err := d.campaign.Save(ctx); err != nil {
		return err
	}
	log.Infof("archives deleted, vault pending deletion", map[string]any{
		"archives": len(rec.Archives),
		"delay":    d.opts.DeleteDelay.String(),
	})

	if err := d.deleteVault(ctx, vault); err != nil {
		d.opts.Metrics.RecordStage(metrics.StageDestroy, metrics.OutcomeFailed)
		log.Errorf("vault deletion failed", map[string]any{"error": err})
		return err
	}

	if err := rec.MarkDeleted(); err != nil {
		return err
	}
	if err := d.campaign.Save(ctx); err != nil {
		return err
	}
	d.opts.Metrics.RecordStage(metrics.StageDestroy, metrics.OutcomeDeleted)
	log.Info("vault deleted")
	return nil
}

// deleteArchives removes each archive in turn. A failed archive is logged
// and skipped; an archive that no longer exists counts as deleted.
func (d *Destroyer) deleteArchives(ctx context.Context, vault string, rec *state.VaultRecord) error {
	log := d.opts.Logger.WithVault(vault)
	for _, a := range rec.Archives {
		err := d.remote.DeleteArchive(ctx, vault, a.ID)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		d.opts.Metrics.RecordArchiveDeletion(err)

		switch {
		case err == nil:
			log.Infof("archive deleted", map[string]any{"archiveId": a.ID, "sizeBytes": a.Size})
		case errors.Is(err, vaultstore.ErrNotFound):
			log.Debugf("archive already deleted", map[string]any{"archiveId": a.ID})
		default:
			log.Warnf("archive deletion failed", map[string]any{"archiveId": a.ID, "error": err})
		}
	}
	return nil
}

// deleteVault waits the initial delay and then runs the bounded retry loop.
func (d *Destroyer) deleteVault(ctx context.Context, vault string) error {
	log := d.opts.Logger.WithVault(vault)
	unit := d.opts.DeleteDelay

	select {
	case <-d.opts.Clock.After(unit):
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			err := d.remote.DeleteVault(ctx, vault)
			d.opts.Metrics.RecordVaultDeleteAttempt(err)
			if errors.Is(err, vaultstore.ErrNotFound) {
				log.Info("vault already gone")
				return nil
			}
			lastErr = err
			return err
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, vaultstore.ErrVaultNotEmpty)
		},
		NotifyFunc: func(err error, attempt int) {
			log.Warnf("vault not empty yet", map[string]any{
				"attempt":  attempt,
				"attempts": d.opts.DeleteAttempts,
			})
		},
		Attempts: d.opts.DeleteAttempts,
		Delay:    unit,
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return time.Duration(attempt) * unit
		},
		Clock: d.opts.Clock,
		Stop:  ctx.Done(),
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case retry.IsAttemptsExceeded(err):
		return fmt.Errorf("%w after %d attempts: %w", ErrDeleteExhausted, d.opts.DeleteAttempts, lastErr)
	case lastErr != nil:
		return fmt.Errorf("delete vault: %w", lastErr)
	default:
		return fmt.Errorf("delete vault: %v", err)
	}
}
