package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deicer-io/deicer/internal/vaultstore"
)

// Status label values.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusNotFound  = "not_found"
	StatusNotEmpty  = "not_empty"
	StatusThrottled = "throttled"
	StatusDenied    = "denied"
)

// VaultStoreMetrics holds metrics for remote vault operations.
type VaultStoreMetrics struct {
	// LatencyHistogram tracks remote call latency broken down by operation and status.
	// Labels: operation (list_vaults, initiate_job, ...), status
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks remote calls by operation and status.
	RequestsTotal *prometheus.CounterVec

	// JobOutputBytesTotal tracks bytes downloaded from job outputs.
	JobOutputBytesTotal prometheus.Counter
}

// DefaultVaultStoreLatencyBuckets cover Glacier control-plane calls, which
// usually finish in tens of milliseconds but can take seconds under throttling.
var DefaultVaultStoreLatencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
}

var (
	vaultStoreLatencyOpts = prometheus.HistogramOpts{
		Namespace: "deicer",
		Subsystem: "vaultstore",
		Name:      "operation_latency_seconds",
		Help:      "Remote vault operation latency in seconds, broken down by operation and status.",
		Buckets:   DefaultVaultStoreLatencyBuckets,
	}
	vaultStoreRequestsOpts = prometheus.CounterOpts{
		Namespace: "deicer",
		Subsystem: "vaultstore",
		Name:      "operations_total",
		Help:      "Total number of remote vault operations, broken down by operation and status.",
	}
	vaultStoreBytesOpts = prometheus.CounterOpts{
		Namespace: "deicer",
		Subsystem: "vaultstore",
		Name:      "job_output_bytes_total",
		Help:      "Total bytes of job output downloaded.",
	}
)

// NewVaultStoreMetrics creates and registers vault store metrics.
// Uses promauto for automatic registration with the default registry.
func NewVaultStoreMetrics() *VaultStoreMetrics {
	return &VaultStoreMetrics{
		LatencyHistogram:    promauto.NewHistogramVec(vaultStoreLatencyOpts, []string{"operation", "status"}),
		RequestsTotal:       promauto.NewCounterVec(vaultStoreRequestsOpts, []string{"operation", "status"}),
		JobOutputBytesTotal: promauto.NewCounter(vaultStoreBytesOpts),
	}
}

// NewVaultStoreMetricsWithRegistry creates vault store metrics registered with a custom registry.
func NewVaultStoreMetricsWithRegistry(reg prometheus.Registerer) *VaultStoreMetrics {
	latency := prometheus.NewHistogramVec(vaultStoreLatencyOpts, []string{"operation", "status"})
	requests := prometheus.NewCounterVec(vaultStoreRequestsOpts, []string{"operation", "status"})
	bytes := prometheus.NewCounter(vaultStoreBytesOpts)

	reg.MustRegister(latency)
	reg.MustRegister(requests)
	reg.MustRegister(bytes)

	return &VaultStoreMetrics{
		LatencyHistogram:    latency,
		RequestsTotal:       requests,
		JobOutputBytesTotal: bytes,
	}
}

// RecordOperation implements vaultstore.MetricsRecorder.
func (m *VaultStoreMetrics) RecordOperation(op string, durationSeconds float64, err error) {
	status := errorStatus(err)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}

// RecordJobOutputBytes implements vaultstore.MetricsRecorder.
func (m *VaultStoreMetrics) RecordJobOutputBytes(n int) {
	if n > 0 {
		m.JobOutputBytesTotal.Add(float64(n))
	}
}

// errorStatus maps an operation result to a status label.
func errorStatus(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, vaultstore.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, vaultstore.ErrVaultNotEmpty):
		return StatusNotEmpty
	case errors.Is(err, vaultstore.ErrThrottled):
		return StatusThrottled
	case errors.Is(err, vaultstore.ErrAccessDenied):
		return StatusDenied
	default:
		return StatusFailure
	}
}

var _ vaultstore.MetricsRecorder = (*VaultStoreMetrics)(nil)
