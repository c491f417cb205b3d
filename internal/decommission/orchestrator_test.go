package decommission

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/deicer-io/deicer/internal/state"
	"github.com/deicer-io/deicer/internal/vaultstore"
)

func newTestOrchestrator(f *fixture) *Orchestrator {
	return NewOrchestrator(f.remote, f.store, f.opts)
}

// runAsync runs the orchestrator in the background so tests can drive the clock.
func runAsync(o *Orchestrator, mode Mode) <-chan struct {
	summary Summary
	err     error
} {
	out := make(chan struct {
		summary Summary
		err     error
	}, 1)
	go func() {
		s, err := o.Run(context.Background(), mode)
		out <- struct {
			summary Summary
			err     error
		}{s, err}
	}()
	return out
}

func TestScenarioArchiveVault1(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.remote.AddVault("archive-vault-1",
		vaultstore.MockArchive{ID: "a1", Description: "first", Size: 100},
		vaultstore.MockArchive{ID: "a2", Description: "second", Size: 200},
	)
	f.remote.NextJobID = "job-abc"
	o := newTestOrchestrator(f)

	// Discovery and initiation. The immediate poll sees the job still running.
	summary, err := o.Run(ctx, ModeScan)
	if err != nil {
		t.Fatalf("scan run failed: %v", err)
	}
	if !reflect.DeepEqual(summary.Registered, []string{"archive-vault-1"}) {
		t.Errorf("Registered = %v", summary.Registered)
	}
	rec := f.saved(t, "archive-vault-1")
	if rec.Status != state.StatusInProgress || rec.JobID == nil || *rec.JobID != "job-abc" {
		t.Fatalf("after initiation: %+v", rec)
	}

	// Job not yet done: status unchanged, job_updated refreshed.
	f.clock.Advance(time.Hour)
	if _, err := o.Run(ctx, ModePoll); err != nil {
		t.Fatal(err)
	}
	rec = f.saved(t, "archive-vault-1")
	if rec.Status != state.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", rec.Status)
	}
	if want := epoch.Add(time.Hour); !rec.JobUpdated.Equal(want) {
		t.Errorf("job_updated = %v, want %v", rec.JobUpdated, want)
	}

	// Job done: the manifest's two archives are stored.
	f.remote.CompleteJob("job-abc")
	f.clock.Advance(time.Hour)
	completedAt := f.clock.Now()
	summary, err = o.Run(ctx, ModePoll)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Eligible) != 0 {
		t.Errorf("fresh inventory must not be eligible, got %v", summary.Eligible)
	}
	rec = f.saved(t, "archive-vault-1")
	if rec.Status != state.StatusComplete {
		t.Fatalf("status = %s, want COMPLETE", rec.Status)
	}
	wantArchives := []state.ArchiveRef{
		{ID: "a1", Description: "first", Size: 100},
		{ID: "a2", Description: "second", Size: 200},
	}
	if !reflect.DeepEqual(rec.Archives, wantArchives) {
		t.Errorf("archives = %+v", rec.Archives)
	}

	// 25 hours later the gate selects it and the vault is destroyed on the
	// first deletion attempt.
	f.clock.Advance(25 * time.Hour)
	res := runAsync(o, ModePoll)
	if err := f.clock.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatal(err)
	}
	var out struct {
		summary Summary
		err     error
	}
	select {
	case out = <-res:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if out.err != nil {
		t.Fatalf("destroy run failed: %v", out.err)
	}
	if !reflect.DeepEqual(out.summary.Deleted, []string{"archive-vault-1"}) {
		t.Errorf("Deleted = %v", out.summary.Deleted)
	}

	rec = f.saved(t, "archive-vault-1")
	if rec.Status != state.StatusDeleted || rec.JobID != nil {
		t.Errorf("final record = %+v, want DELETED without job id", rec)
	}
	if !rec.JobUpdated.Equal(completedAt) {
		t.Errorf("job_updated = %v, want %v", rec.JobUpdated, completedAt)
	}
	if got := f.remote.CallCount("DeleteArchive"); got != 2 {
		t.Errorf("DeleteArchive calls = %d, want 2", got)
	}
	if got := f.remote.CallCount("DeleteVault"); got != 1 {
		t.Errorf("DeleteVault calls = %d, want 1", got)
	}
	if f.remote.HasVault("archive-vault-1") {
		t.Error("vault should be gone")
	}
	if out.summary.Counts[state.StatusDeleted] != 1 {
		t.Errorf("Counts = %v", out.summary.Counts)
	}

	// Later runs leave the DELETED record alone.
	before := len(f.remote.Calls())
	if _, err := o.Run(ctx, ModePoll); err != nil {
		t.Fatal(err)
	}
	if after := len(f.remote.Calls()); after != before {
		t.Errorf("DELETED vault triggered %d remote calls", after-before)
	}
}

func TestRunPollModeSkipsDiscovery(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.AddVault("v1")

	if _, err := newTestOrchestrator(f).Run(context.Background(), ModePoll); err != nil {
		t.Fatal(err)
	}
	if f.remote.CallCount("ListVaults") != 0 || f.remote.CallCount("InitiateJob") != 0 {
		t.Errorf("poll mode should not scan or initiate: %v", f.remote.Calls())
	}
}

func TestRunWithoutConfirmationSkipsDestruction(t *testing.T) {
	f := newFixture(t, state.Records{"v1": completeRecord("j", epoch.Add(-48*time.Hour), state.ArchiveRef{ID: "a1"})})
	f.remote.AddVault("v1", vaultstore.MockArchive{ID: "a1"})
	f.opts.ConfirmDestroy = false

	summary, err := newTestOrchestrator(f).Run(context.Background(), ModePoll)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.DestroySkipped || !reflect.DeepEqual(summary.Eligible, []string{"v1"}) {
		t.Errorf("summary = %+v", summary)
	}
	if f.remote.CallCount("DeleteArchive") != 0 || f.remote.CallCount("DeleteVault") != 0 {
		t.Error("nothing may be deleted without confirmation")
	}
	if got := f.store.Snapshot()["v1"].Status; got != state.StatusComplete {
		t.Errorf("status = %s, want COMPLETE", got)
	}
}

func TestRunConfirmHook(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, state.Records{"v1": completeRecord("j", epoch.Add(-48*time.Hour))})
		f.remote.AddVault("v1")
		f.opts.ConfirmDestroy = false
		var asked []string
		f.opts.Confirm = func(_ context.Context, vaults []string) (bool, error) {
			asked = vaults
			return false, nil
		}

		summary, err := newTestOrchestrator(f).Run(context.Background(), ModePoll)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(asked, []string{"v1"}) || !summary.DestroySkipped {
			t.Errorf("asked = %v, summary = %+v", asked, summary)
		}
		if f.remote.CallCount("DeleteVault") != 0 {
			t.Error("declined confirmation must not delete")
		}
	})

	t.Run("not asked without eligible vaults", func(t *testing.T) {
		f := newFixture(t, state.Records{"v1": completeRecord("j", epoch.Add(-time.Hour))})
		f.opts.ConfirmDestroy = false
		f.opts.Confirm = func(context.Context, []string) (bool, error) {
			t.Error("Confirm called with nothing eligible")
			return false, nil
		}
		if _, err := newTestOrchestrator(f).Run(context.Background(), ModePoll); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("error", func(t *testing.T) {
		f := newFixture(t, state.Records{"v1": completeRecord("j", epoch.Add(-48*time.Hour))})
		f.opts.ConfirmDestroy = false
		boom := errors.New("stdin closed")
		f.opts.Confirm = func(context.Context, []string) (bool, error) { return false, boom }

		if _, err := newTestOrchestrator(f).Run(context.Background(), ModePoll); !errors.Is(err, boom) {
			t.Errorf("expected confirm error, got %v", err)
		}
	})
}

func TestRunContinuesAfterDestroyFailure(t *testing.T) {
	old := epoch.Add(-48 * time.Hour)
	f := newFixture(t, state.Records{
		"a": completeRecord("j1", old),
		"b": completeRecord("j2", old),
	})
	f.remote.AddVault("a")
	f.remote.AddVault("b")
	f.remote.SetError("DeleteVault", "a", vaultstore.ErrAccessDenied)
	m := newFakeMetrics()
	f.opts.Metrics = m

	res := runAsync(newTestOrchestrator(f), ModePoll)
	// One initial delay per vault.
	for i := 0; i < 2; i++ {
		if err := f.clock.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
			t.Fatal(err)
		}
	}
	out := <-res

	if !errors.Is(out.err, ErrDestroyFailed) {
		t.Fatalf("expected ErrDestroyFailed, got %v", out.err)
	}
	if !reflect.DeepEqual(out.summary.Failed, []string{"a"}) || !reflect.DeepEqual(out.summary.Deleted, []string{"b"}) {
		t.Errorf("summary = %+v", out.summary)
	}
	if got := f.store.Snapshot()["a"].Status; got != state.StatusPendingDeletion {
		t.Errorf("a = %s, want PENDING_DELETION", got)
	}
	if m.runs != 1 || m.lastRunErr == nil {
		t.Errorf("run metrics: runs=%d err=%v", m.runs, m.lastRunErr)
	}
	if m.counts["DELETED"] != 1 {
		t.Errorf("status counts = %v", m.counts)
	}
}

func TestRunResumesPendingDeletion(t *testing.T) {
	rec := completeRecord("j", epoch)
	_ = rec.MarkPendingDeletion()
	f := newFixture(t, state.Records{"v1": rec})
	f.remote.AddVault("v1")

	res := runAsync(newTestOrchestrator(f), ModePoll)
	if err := f.clock.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatal(err)
	}
	out := <-res
	if out.err != nil {
		t.Fatal(out.err)
	}
	if got := f.store.Snapshot()["v1"].Status; got != state.StatusDeleted {
		t.Errorf("status = %s, want DELETED", got)
	}
}

func TestRunListingFailureIsReturned(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.SetError("ListVaults", "", vaultstore.ErrAccessDenied)

	_, err := newTestOrchestrator(f).Run(context.Background(), ModeScan)
	if !errors.Is(err, vaultstore.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestRunSaveFailureIsReturned(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.AddVault("v1")
	f.store.SaveErr = errors.New("disk full")

	if _, err := newTestOrchestrator(f).Run(context.Background(), ModeScan); err == nil {
		t.Error("expected the save failure to abort the run")
	}
}

func TestInspectDoesNotMutate(t *testing.T) {
	f := newFixture(t, state.Records{"v1": completeRecord("j", epoch.Add(-48*time.Hour))})
	f.remote.AddVault("v1")

	records, err := newTestOrchestrator(f).Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records["v1"].Status != state.StatusComplete {
		t.Errorf("records = %+v", records)
	}
	if f.store.Saves() != 0 {
		t.Error("Inspect must not save")
	}
	if calls := f.remote.Calls(); len(calls) != 0 {
		t.Errorf("Inspect must not call the service, got %v", calls)
	}
}

func TestModeString(t *testing.T) {
	if ModeScan.String() != "scan" || ModePoll.String() != "poll" {
		t.Error("unexpected mode names")
	}
}
