package decommission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	remote   *vaultstore.MockStore
	store    *state.MemoryStore
	clock    *testclock.Clock
	campaign *Campaign
	opts     Options
}

func newFixture(t *testing.T, records state.Records) *fixture {
	t.Helper()
	clk := testclock.NewClock(epoch)
	remote := vaultstore.NewMockStore()
	remote.Now = clk.Now
	store := state.NewMemoryStore(records)

	campaign, err := LoadCampaign(context.Background(), store)
	if err != nil {
		t.Fatalf("LoadCampaign: %v", err)
	}
	return &fixture{
		remote:   remote,
		store:    store,
		clock:    clk,
		campaign: campaign,
		opts: Options{
			Logger:         logging.Discard(),
			Clock:          clk,
			DeleteAttempts: 3,
			DeleteDelay:    10 * time.Second,
			ConfirmDestroy: true,
		},
	}
}

// saved returns the record as last persisted.
func (f *fixture) saved(t *testing.T, id string) *state.VaultRecord {
	t.Helper()
	rec, ok := f.store.Snapshot()[id]
	if !ok {
		t.Fatalf("no persisted record for %q", id)
	}
	return rec
}

func completeRecord(jobID string, updated time.Time, archives ...state.ArchiveRef) *state.VaultRecord {
	rec := state.NewRecord()
	if err := rec.StartJob(jobID, updated); err != nil {
		panic(err)
	}
	if err := rec.Complete(archives, updated); err != nil {
		panic(err)
	}
	return rec
}

// fakeMetrics counts recorded events.
type fakeMetrics struct {
	mu             sync.Mutex
	stages         map[string]int
	archives       int
	deleteAttempts int
	counts         map[string]int
	runs           int
	lastRunErr     error
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{stages: map[string]int{}}
}

func (m *fakeMetrics) RecordStage(stage, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage+"/"+outcome]++
}

func (m *fakeMetrics) RecordArchiveDeletion(error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives++
}

func (m *fakeMetrics) RecordVaultDeleteAttempt(error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAttempts++
}

func (m *fakeMetrics) RecordStatusCounts(counts map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = counts
}

func (m *fakeMetrics) RecordRun(start, end time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.lastRunErr = err
}

func (m *fakeMetrics) stage(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[key]
}

// timedStore records the clock time of every DeleteVault call.
type timedStore struct {
	vaultstore.Store
	clock *testclock.Clock

	mu    sync.Mutex
	times []time.Time
}

func (s *timedStore) DeleteVault(ctx context.Context, vault string) error {
	s.mu.Lock()
	s.times = append(s.times, s.clock.Now())
	s.mu.Unlock()
	return s.Store.DeleteVault(ctx, vault)
}

func (s *timedStore) deleteTimes() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.times))
	for i, at := range s.times {
		out[i] = at.Sub(epoch)
	}
	return out
}

// waitErr receives from errc or fails the test after a real-time timeout.
func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the call to return")
		return nil
	}
}
