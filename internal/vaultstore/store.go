// Package vaultstore defines the Store interface for archival vault storage.
//
// A vault is a named container of immutable archives. Its contents can only
// be enumerated through an asynchronous inventory job, and the vault itself
// can only be deleted once empty. Implementations wrap a concrete service
// (see the glacier subpackage) and translate its failures into the sentinel
// errors below so callers never depend on SDK error types.
//
// # Usage
//
//	store, err := glacier.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//
//	jobID, err := store.InitiateJob(ctx, "photos-2014", vaultstore.JobKindInventory)
//	...
//	if err := store.DeleteVault(ctx, "photos-2014"); errors.Is(err, vaultstore.ErrVaultNotEmpty) {
//	    // retry later, the service has not caught up with the archive deletions
//	}
package vaultstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the vault, archive or job does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrVaultNotEmpty is returned by DeleteVault while the vault still reports
	// archives, including the window after the last archive was deleted.
	ErrVaultNotEmpty = errors.New("vault not empty")

	// ErrThrottled is returned when the service rejects a request due to rate
	// or concurrency limits.
	ErrThrottled = errors.New("request throttled")

	// ErrInvalidRequest is returned for requests the service refuses as malformed.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsTransient reports whether err is expected to clear up on its own.
func IsTransient(err error) bool {
	return errors.Is(err, ErrVaultNotEmpty) || errors.Is(err, ErrThrottled)
}

// OpError wraps an error with the operation and vault it concerns.
type OpError struct {
	Op    string // Operation that failed (e.g., "InitiateJob", "DeleteVault")
	Vault string // Vault name, empty for account-wide operations
	Err   error  // Underlying error
}

func (e *OpError) Error() string {
	if e.Vault == "" {
		return fmt.Sprintf("vaultstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vaultstore: %s %q: %v", e.Op, e.Vault, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// JobKind is the closed set of job types a vault accepts.
type JobKind int

const (
	// JobKindInventory produces a manifest of the vault's archives.
	JobKindInventory JobKind = iota + 1
	// JobKindArchive stages a single archive for download.
	JobKindArchive
)

// String returns the service's wire name for the kind.
func (k JobKind) String() string {
	switch k {
	case JobKindInventory:
		return "inventory-retrieval"
	case JobKindArchive:
		return "archive-retrieval"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// ParseJobKind maps the service's action names ("InventoryRetrieval",
// "ArchiveRetrieval") and wire names back to a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	switch s {
	case "InventoryRetrieval", "inventory-retrieval":
		return JobKindInventory, nil
	case "ArchiveRetrieval", "archive-retrieval":
		return JobKindArchive, nil
	default:
		return 0, fmt.Errorf("unknown job kind %q", s)
	}
}

// JobFilter selects which jobs ListJobs returns.
type JobFilter int

const (
	JobFilterAll JobFilter = iota
	JobFilterInProgress
	JobFilterCompleted
	JobFilterSucceeded
	JobFilterFailed
)

func (f JobFilter) String() string {
	switch f {
	case JobFilterAll:
		return "all"
	case JobFilterInProgress:
		return "in_progress"
	case JobFilterCompleted:
		return "completed"
	case JobFilterSucceeded:
		return "succeeded"
	case JobFilterFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobFilter(%d)", int(f))
	}
}

// JobStatus is the service-reported state of a job.
type JobStatus int

const (
	JobInProgress JobStatus = iota
	JobSucceeded
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobInProgress:
		return "InProgress"
	case JobSucceeded:
		return "Succeeded"
	case JobFailed:
		return "Failed"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// Matches reports whether a job in this status passes filter f.
func (s JobStatus) Matches(f JobFilter) bool {
	switch f {
	case JobFilterAll:
		return true
	case JobFilterInProgress:
		return s == JobInProgress
	case JobFilterCompleted:
		return s == JobSucceeded || s == JobFailed
	case JobFilterSucceeded:
		return s == JobSucceeded
	case JobFilterFailed:
		return s == JobFailed
	default:
		return false
	}
}

// VaultInfo describes a vault as returned by ListVaults.
type VaultInfo struct {
	Name string

	// NumberOfArchives and SizeBytes come from the service's last inventory,
	// which may be a day old.
	NumberOfArchives int64
	SizeBytes        int64

	CreatedAt time.Time
}

// JobDescription is the service's view of a single job.
type JobDescription struct {
	ID        string
	Vault     string
	Kind      JobKind
	Status    JobStatus
	Message   string
	CreatedAt time.Time
}

// Completed reports whether the job has finished, successfully or not.
func (j JobDescription) Completed() bool {
	return j.Status != JobInProgress
}

// Store is the interface for archival vault operations.
//
// Every method is a single blocking call that may fail. Implementations
// return *OpError values wrapping the sentinel errors of this package.
type Store interface {
	// ListVaults returns every vault visible to the account, exhausting all
	// pages of the service listing.
	ListVaults(ctx context.Context) ([]VaultInfo, error)

	// InitiateJob submits a job of the given kind and returns its id.
	InitiateJob(ctx context.Context, vault string, kind JobKind) (string, error)

	// ListJobs returns the vault's jobs matching filter.
	ListJobs(ctx context.Context, vault string, filter JobFilter) ([]JobDescription, error)

	// DescribeJob returns the current state of a job.
	DescribeJob(ctx context.Context, vault, jobID string) (JobDescription, error)

	// GetJobOutput returns the full output of a completed job.
	GetJobOutput(ctx context.Context, vault, jobID string) ([]byte, error)

	// DeleteArchive removes an archive from a vault.
	DeleteArchive(ctx context.Context, vault, archiveID string) error

	// DeleteVault removes an empty vault.
	//
	// Returns ErrVaultNotEmpty while the service still counts archives in it.
	DeleteVault(ctx context.Context, vault string) error
}
