package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"

	"github.com/deicer-io/deicer/internal/vaultstore"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *io_prometheus_client.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func findMetric(mf *io_prometheus_client.MetricFamily, labels map[string]string) *io_prometheus_client.Metric {
	for _, m := range mf.Metric {
		if matchLabels(m.Label, labels) {
			return m
		}
	}
	return nil
}

func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestVaultStoreMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVaultStoreMetricsWithRegistry(reg)

	notEmpty := &vaultstore.OpError{Op: "DeleteVault", Vault: "v1", Err: vaultstore.ErrVaultNotEmpty}
	m.RecordOperation(vaultstore.OpDeleteVault, 0.2, notEmpty)
	m.RecordOperation(vaultstore.OpDeleteVault, 0.1, notEmpty)
	m.RecordOperation(vaultstore.OpDeleteVault, 0.1, nil)
	m.RecordOperation(vaultstore.OpListVaults, 0.05, errors.New("boom"))

	requests := gather(t, reg, "deicer_vaultstore_operations_total")
	tests := []struct {
		op, status string
		want       float64
	}{
		{vaultstore.OpDeleteVault, StatusNotEmpty, 2},
		{vaultstore.OpDeleteVault, StatusSuccess, 1},
		{vaultstore.OpListVaults, StatusFailure, 1},
	}
	for _, tc := range tests {
		metric := findMetric(requests, map[string]string{"operation": tc.op, "status": tc.status})
		if metric == nil {
			t.Errorf("no series for %s/%s", tc.op, tc.status)
			continue
		}
		if got := metric.GetCounter().GetValue(); got != tc.want {
			t.Errorf("%s/%s = %v, want %v", tc.op, tc.status, got, tc.want)
		}
	}

	latency := gather(t, reg, "deicer_vaultstore_operation_latency_seconds")
	metric := findMetric(latency, map[string]string{"operation": vaultstore.OpDeleteVault, "status": StatusNotEmpty})
	if metric.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("expected 2 latency samples, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestVaultStoreMetrics_JobOutputBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVaultStoreMetricsWithRegistry(reg)

	m.RecordJobOutputBytes(100)
	m.RecordJobOutputBytes(0)
	m.RecordJobOutputBytes(50)

	mf := gather(t, reg, "deicer_vaultstore_job_output_bytes_total")
	if got := mf.Metric[0].GetCounter().GetValue(); got != 150 {
		t.Errorf("job output bytes = %v, want 150", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, StatusSuccess},
		{fmt.Errorf("wrapped: %w", vaultstore.ErrNotFound), StatusNotFound},
		{vaultstore.ErrThrottled, StatusThrottled},
		{vaultstore.ErrAccessDenied, StatusDenied},
		{vaultstore.ErrVaultNotEmpty, StatusNotEmpty},
		{errors.New("other"), StatusFailure},
	}
	for _, tc := range tests {
		if got := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestDecommissionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDecommissionMetricsWithRegistry(reg)

	m.RecordStatusCounts(map[string]int{"COMPLETE": 3, "DELETED": 1})
	m.RecordStage(StageScan, OutcomeRegistered)
	m.RecordStage(StageScan, OutcomeRegistered)
	m.RecordArchiveDeletion(nil)
	m.RecordArchiveDeletion(vaultstore.ErrNotFound)
	m.RecordVaultDeleteAttempt(vaultstore.ErrVaultNotEmpty)

	start := time.Unix(1_700_000_000, 0)
	m.RecordRun(start, start.Add(90*time.Second), nil)

	vaults := gather(t, reg, "deicer_campaign_vaults")
	if got := findMetric(vaults, map[string]string{"status": "COMPLETE"}).GetGauge().GetValue(); got != 3 {
		t.Errorf("COMPLETE gauge = %v, want 3", got)
	}

	stages := gather(t, reg, "deicer_campaign_stage_outcomes_total")
	if got := findMetric(stages, map[string]string{"stage": StageScan, "outcome": OutcomeRegistered}).GetCounter().GetValue(); got != 2 {
		t.Errorf("scan/registered = %v, want 2", got)
	}

	archives := gather(t, reg, "deicer_campaign_archive_deletions_total")
	if findMetric(archives, map[string]string{"status": StatusNotFound}) == nil {
		t.Error("expected a not_found archive deletion series")
	}

	duration := gather(t, reg, "deicer_campaign_run_duration_seconds")
	if got := duration.Metric[0].GetGauge().GetValue(); got != 90 {
		t.Errorf("run duration = %v, want 90", got)
	}
	last := gather(t, reg, "deicer_campaign_last_success_timestamp_seconds")
	if got := last.Metric[0].GetGauge().GetValue(); got != float64(start.Add(90*time.Second).Unix()) {
		t.Errorf("last success = %v", got)
	}
}

func TestRecordRunFailureKeepsLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDecommissionMetricsWithRegistry(reg)

	start := time.Unix(1_700_000_000, 0)
	m.RecordRun(start, start.Add(time.Second), errors.New("failed"))

	last := gather(t, reg, "deicer_campaign_last_success_timestamp_seconds")
	if got := last.Metric[0].GetGauge().GetValue(); got != 0 {
		t.Errorf("failed run should not set last success, got %v", got)
	}
}

func TestSetWriteTextfile(t *testing.T) {
	set := NewSet()
	set.Decommission.RecordStage(StageDestroy, OutcomeDeleted)

	path := filepath.Join(t.TempDir(), "deicer.prom")
	if err := set.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `deicer_campaign_stage_outcomes_total{outcome="deleted",stage="destroy"} 1`) {
		t.Errorf("textfile missing stage series:\n%s", data)
	}
}

func TestSetPush(t *testing.T) {
	var gotPath, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	set := NewSet()
	set.Decommission.RecordStage(StagePoll, OutcomeCompleted)

	err := set.Push(context.Background(), srv.URL, "deicer", map[string]string{"campaign": "prod"})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/metrics/job/deicer/campaign/prod" {
		t.Errorf("path = %s", gotPath)
	}
	if len(gotBody) == 0 {
		t.Error("expected a non-empty push body")
	}
}

func TestSetPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewSet().Push(context.Background(), srv.URL, "deicer", nil); err == nil {
		t.Error("expected an error from a failing gateway")
	}
}
