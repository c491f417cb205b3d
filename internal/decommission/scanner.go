package decommission

import (
	"context"
	"fmt"

	"github.com/deicer-io/deicer/internal/metrics"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

// Scanner registers every vault of the account in the campaign.
type Scanner struct {
	campaign *Campaign
	remote   vaultstore.Store
	opts     Options
}

// NewScanner creates a Scanner.
func NewScanner(campaign *Campaign, remote vaultstore.Store, opts Options) *Scanner {
	return &Scanner{campaign: campaign, remote: remote, opts: opts.withDefaults()}
}

// Scan lists all vaults and registers the ones not seen before as
// NOT_STARTED. Existing records are never reset or removed. It returns the
// sorted names of every known vault.
//
// A listing failure aborts the scan without touching the records.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	vaults, err := s.remote.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}

	records := s.campaign.Records()
	for _, v := range vaults {
		if !records.Register(v.Name) {
			continue
		}
		if err := s.campaign.Save(ctx); err != nil {
			return nil, err
		}
		s.opts.Metrics.RecordStage(metrics.StageScan, metrics.OutcomeRegistered)
		s.opts.Logger.WithVault(v.Name).Infof("registered vault", map[string]any{
			"archives":  v.NumberOfArchives,
			"sizeBytes": v.SizeBytes,
		})
	}

	s.opts.Logger.Infof("scan complete", map[string]any{
		"listed": len(vaults),
		"known":  len(records),
	})
	return records.IDs(), nil
}
