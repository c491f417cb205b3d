// Package state holds the durable per-vault progress records of a
// decommission campaign and the stores that persist them.
//
// A record only changes through the transition methods on *VaultRecord, which
// keep the job id, status and timestamp consistent with each other:
//
//	NOT_STARTED --StartJob--> IN_PROGRESS --Complete--> COMPLETE
//	     |                      |    ^                      |
//	     +-------Fail-------> ERROR  +--Touch               MarkPendingDeletion
//	                            |                           v
//	                            +--StartJob--> ...    PENDING_DELETION --MarkDeleted--> DELETED
package state

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle position of a vault.
type Status string

const (
	StatusNotStarted      Status = "NOT_STARTED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusComplete        Status = "COMPLETE"
	StatusError           Status = "ERROR"
	StatusPendingDeletion Status = "PENDING_DELETION"
	StatusDeleted         Status = "DELETED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusComplete,
	StatusError,
	StatusPendingDeletion,
	StatusDeleted,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus converts a persisted string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrMalformed, s)
	}
	return st, nil
}

var (
	// ErrInvalidTransition is returned when a transition is not allowed from
	// the record's current status.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMalformed marks persisted data that cannot be decoded into records.
	ErrMalformed = errors.New("malformed state")
)

// ArchiveRef identifies one archive found in a vault's inventory.
type ArchiveRef struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
}

// VaultRecord is the persisted progress of one vault.
type VaultRecord struct {
	JobID      *string      `json:"job_id"`
	Status     Status       `json:"status"`
	JobUpdated *time.Time   `json:"job_updated"`
	Archives   []ArchiveRef `json:"archives"`
}

// NewRecord returns a record for a newly discovered vault.
func NewRecord() *VaultRecord {
	return &VaultRecord{Status: StatusNotStarted, Archives: []ArchiveRef{}}
}

func (r *VaultRecord) transitionError(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
}

// stamp advances JobUpdated to now unless it already holds a later time.
func (r *VaultRecord) stamp(now time.Time) {
	now = now.UTC()
	if r.JobUpdated != nil && !now.After(*r.JobUpdated) {
		return
	}
	r.JobUpdated = &now
}

// StartJob records a submitted inventory job. Allowed from NOT_STARTED and ERROR.
func (r *VaultRecord) StartJob(jobID string, now time.Time) error {
	if r.Status != StatusNotStarted && r.Status != StatusError {
		return r.transitionError(StatusInProgress)
	}
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", ErrInvalidTransition)
	}
	id := jobID
	r.JobID = &id
	r.Status = StatusInProgress
	r.stamp(now)
	return nil
}

// Touch refreshes the timestamp of a job that is still running.
func (r *VaultRecord) Touch(now time.Time) error {
	if r.Status != StatusInProgress {
		return r.transitionError(StatusInProgress)
	}
	r.stamp(now)
	return nil
}

// Complete stores the inventory of a finished job. The archive list is only
// written the first time; a record that already holds archives keeps them.
func (r *VaultRecord) Complete(archives []ArchiveRef, now time.Time) error {
	if r.Status != StatusInProgress {
		return r.transitionError(StatusComplete)
	}
	if len(r.Archives) == 0 {
		r.Archives = make([]ArchiveRef, len(archives))
		copy(r.Archives, archives)
	}
	r.Status = StatusComplete
	r.stamp(now)
	return nil
}

// Fail moves the record to ERROR and forgets its job.
func (r *VaultRecord) Fail(now time.Time) error {
	switch r.Status {
	case StatusNotStarted, StatusInProgress, StatusError:
	default:
		return r.transitionError(StatusError)
	}
	r.JobID = nil
	r.Status = StatusError
	r.stamp(now)
	return nil
}

// MarkPendingDeletion records that the vault's archives have been removed and
// vault deletion is underway. Re-marking a pending record is a no-op.
func (r *VaultRecord) MarkPendingDeletion() error {
	if r.Status != StatusComplete && r.Status != StatusPendingDeletion {
		return r.transitionError(StatusPendingDeletion)
	}
	r.JobID = nil
	r.Status = StatusPendingDeletion
	return nil
}

// MarkDeleted records that the vault no longer exists. DELETED is terminal.
func (r *VaultRecord) MarkDeleted() error {
	if r.Status != StatusPendingDeletion {
		return r.transitionError(StatusDeleted)
	}
	r.JobID = nil
	r.Status = StatusDeleted
	return nil
}

// TotalSize sums the sizes of the record's archives.
func (r *VaultRecord) TotalSize() int64 {
	var n int64
	for _, a := range r.Archives {
		n += a.Size
	}
	return n
}

// validate checks the persisted form of a record.
func (r *VaultRecord) validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, r.Status)
	}
	return nil
}

func (r *VaultRecord) clone() *VaultRecord {
	c := &VaultRecord{Status: r.Status}
	if r.JobID != nil {
		id := *r.JobID
		c.JobID = &id
	}
	if r.JobUpdated != nil {
		t := *r.JobUpdated
		c.JobUpdated = &t
	}
	c.Archives = make([]ArchiveRef, len(r.Archives))
	copy(c.Archives, r.Archives)
	return c
}

// Records maps vault names to their records.
type Records map[string]*VaultRecord

// Register adds a NOT_STARTED record for id unless one exists. It reports
// whether a record was added.
func (rs Records) Register(id string) bool {
	if _, ok := rs[id]; ok {
		return false
	}
	rs[id] = NewRecord()
	return true
}

// IDs returns all vault names in sorted order.
func (rs Records) IDs() []string {
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithStatus returns the sorted names of records in any of the given statuses.
func (rs Records) WithStatus(statuses ...Status) []string {
	var ids []string
	for id, r := range rs {
		for _, s := range statuses {
			if r.Status == s {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// CountByStatus returns the number of records per status. Every known
// status is present in the result.
func (rs Records) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, r := range rs {
		counts[r.Status]++
	}
	return counts
}

// Clone returns a deep copy.
func (rs Records) Clone() Records {
	out := make(Records, len(rs))
	for id, r := range rs {
		out[id] = r.clone()
	}
	return out
}

func (rs Records) validate() error {
	for id, r := range rs {
		if r == nil {
			return fmt.Errorf("%w: null record for %q", ErrMalformed, id)
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("vault %q: %w", id, err)
		}
		if r.Archives == nil {
			r.Archives = []ArchiveRef{}
		}
	}
	return nil
}
