package vaultstore

import (
	"context"
	"time"
)

// Operation label values used by InstrumentedStore.
const (
	OpListVaults    = "list_vaults"
	OpInitiateJob   = "initiate_job"
	OpListJobs      = "list_jobs"
	OpDescribeJob   = "describe_job"
	OpGetJobOutput  = "get_job_output"
	OpDeleteArchive = "delete_archive"
	OpDeleteVault   = "delete_vault"
)

// MetricsRecorder records the outcome of remote operations. It keeps this
// package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordOperation(op string, durationSeconds float64, err error)
	RecordJobOutputBytes(n int)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start).Seconds(), err)
	}
}

// ListVaults lists all vaults.
func (s *InstrumentedStore) ListVaults(ctx context.Context) ([]VaultInfo, error) {
	start := time.Now()
	vaults, err := s.store.ListVaults(ctx)
	s.observe(OpListVaults, start, err)
	return vaults, err
}

// InitiateJob submits a job.
func (s *InstrumentedStore) InitiateJob(ctx context.Context, vault string, kind JobKind) (string, error) {
	start := time.Now()
	id, err := s.store.InitiateJob(ctx, vault, kind)
	s.observe(OpInitiateJob, start, err)
	return id, err
}

// ListJobs lists a vault's jobs.
func (s *InstrumentedStore) ListJobs(ctx context.Context, vault string, filter JobFilter) ([]JobDescription, error) {
	start := time.Now()
	jobs, err := s.store.ListJobs(ctx, vault, filter)
	s.observe(OpListJobs, start, err)
	return jobs, err
}

// DescribeJob returns a job's state.
func (s *InstrumentedStore) DescribeJob(ctx context.Context, vault, jobID string) (JobDescription, error) {
	start := time.Now()
	desc, err := s.store.DescribeJob(ctx, vault, jobID)
	s.observe(OpDescribeJob, start, err)
	return desc, err
}

// GetJobOutput fetches a job's output and records its size.
func (s *InstrumentedStore) GetJobOutput(ctx context.Context, vault, jobID string) ([]byte, error) {
	start := time.Now()
	data, err := s.store.GetJobOutput(ctx, vault, jobID)
	s.observe(OpGetJobOutput, start, err)
	if err == nil && s.metrics != nil {
		s.metrics.RecordJobOutputBytes(len(data))
	}
	return data, err
}

// DeleteArchive removes an archive.
func (s *InstrumentedStore) DeleteArchive(ctx context.Context, vault, archiveID string) error {
	start := time.Now()
	err := s.store.DeleteArchive(ctx, vault, archiveID)
	s.observe(OpDeleteArchive, start, err)
	return err
}

// DeleteVault removes a vault.
func (s *InstrumentedStore) DeleteVault(ctx context.Context, vault string) error {
	start := time.Now()
	err := s.store.DeleteVault(ctx, vault)
	s.observe(OpDeleteVault, start, err)
	return err
}

var _ Store = (*InstrumentedStore)(nil)
