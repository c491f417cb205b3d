package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values.
const (
	StageScan     = "scan"
	StageInitiate = "initiate"
	StagePoll     = "poll"
	StageGate     = "gate"
	StageDestroy  = "destroy"
)

// Outcome label values for stage transitions.
const (
	OutcomeRegistered = "registered"
	OutcomeStarted    = "started"
	OutcomeAdopted    = "adopted"
	OutcomeWaiting    = "waiting"
	OutcomeCompleted  = "completed"
	OutcomeSelected   = "selected"
	OutcomeDeleted    = "deleted"
	OutcomeFailed     = "failed"
)

// DecommissionMetrics holds metrics for a decommission campaign.
type DecommissionMetrics struct {
	// VaultsByStatus tracks the number of vault records in each status
	// at the end of a run.
	VaultsByStatus *prometheus.GaugeVec

	// StageOutcomesTotal counts per-vault outcomes of each stage.
	// Labels: stage (scan, initiate, poll, gate, destroy), outcome
	StageOutcomesTotal *prometheus.CounterVec

	// ArchiveDeletionsTotal counts archive deletions by status.
	ArchiveDeletionsTotal *prometheus.CounterVec

	// VaultDeleteAttemptsTotal counts vault deletion attempts by status.
	// A high not_empty count means the retry delay is too short.
	VaultDeleteAttemptsTotal *prometheus.CounterVec

	// RunDurationSeconds is the wall time of the last run.
	RunDurationSeconds prometheus.Gauge

	// LastSuccessTimestamp is the unix time of the last run without errors.
	LastSuccessTimestamp prometheus.Gauge
}

var (
	vaultsByStatusOpts = prometheus.GaugeOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "vaults",
		Help:      "Number of vault records in each status.",
	}
	stageOutcomesOpts = prometheus.CounterOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "stage_outcomes_total",
		Help:      "Per-vault outcomes of each stage.",
	}
	archiveDeletionsOpts = prometheus.CounterOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "archive_deletions_total",
		Help:      "Archive deletions by status.",
	}
	vaultDeleteAttemptsOpts = prometheus.CounterOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "vault_delete_attempts_total",
		Help:      "Vault deletion attempts by status.",
	}
	runDurationOpts = prometheus.GaugeOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run in seconds.",
	}
	lastSuccessOpts = prometheus.GaugeOpts{
		Namespace: "deicer",
		Subsystem: "campaign",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that finished without errors.",
	}
)

// NewDecommissionMetrics creates and registers campaign metrics.
// Uses promauto for automatic registration with the default registry.
func NewDecommissionMetrics() *DecommissionMetrics {
	return &DecommissionMetrics{
		VaultsByStatus:           promauto.NewGaugeVec(vaultsByStatusOpts, []string{"status"}),
		StageOutcomesTotal:       promauto.NewCounterVec(stageOutcomesOpts, []string{"stage", "outcome"}),
		ArchiveDeletionsTotal:    promauto.NewCounterVec(archiveDeletionsOpts, []string{"status"}),
		VaultDeleteAttemptsTotal: promauto.NewCounterVec(vaultDeleteAttemptsOpts, []string{"status"}),
		RunDurationSeconds:       promauto.NewGauge(runDurationOpts),
		LastSuccessTimestamp:     promauto.NewGauge(lastSuccessOpts),
	}
}

// NewDecommissionMetricsWithRegistry creates campaign metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewDecommissionMetricsWithRegistry(reg prometheus.Registerer) *DecommissionMetrics {
	m := &DecommissionMetrics{
		VaultsByStatus:           prometheus.NewGaugeVec(vaultsByStatusOpts, []string{"status"}),
		StageOutcomesTotal:       prometheus.NewCounterVec(stageOutcomesOpts, []string{"stage", "outcome"}),
		ArchiveDeletionsTotal:    prometheus.NewCounterVec(archiveDeletionsOpts, []string{"status"}),
		VaultDeleteAttemptsTotal: prometheus.NewCounterVec(vaultDeleteAttemptsOpts, []string{"status"}),
		RunDurationSeconds:       prometheus.NewGauge(runDurationOpts),
		LastSuccessTimestamp:     prometheus.NewGauge(lastSuccessOpts),
	}

	reg.MustRegister(m.VaultsByStatus)
	reg.MustRegister(m.StageOutcomesTotal)
	reg.MustRegister(m.ArchiveDeletionsTotal)
	reg.MustRegister(m.VaultDeleteAttemptsTotal)
	reg.MustRegister(m.RunDurationSeconds)
	reg.MustRegister(m.LastSuccessTimestamp)

	return m
}

// RecordStatusCounts sets the per-status gauge.
func (m *DecommissionMetrics) RecordStatusCounts(counts map[string]int) {
	for status, n := range counts {
		m.VaultsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordStage counts one vault outcome of a stage.
func (m *DecommissionMetrics) RecordStage(stage, outcome string) {
	m.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordArchiveDeletion counts one archive deletion.
func (m *DecommissionMetrics) RecordArchiveDeletion(err error) {
	m.ArchiveDeletionsTotal.WithLabelValues(errorStatus(err)).Inc()
}

// RecordVaultDeleteAttempt counts one vault deletion attempt.
func (m *DecommissionMetrics) RecordVaultDeleteAttempt(err error) {
	m.VaultDeleteAttemptsTotal.WithLabelValues(errorStatus(err)).Inc()
}

// RecordRun records the duration of a run and, if it succeeded, its end time.
func (m *DecommissionMetrics) RecordRun(start, end time.Time, err error) {
	m.RunDurationSeconds.Set(end.Sub(start).Seconds())
	if err == nil {
		m.LastSuccessTimestamp.Set(float64(end.Unix()))
	}
}
