package vaultstore

import (
	"errors"
	"testing"
)

func TestOpErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *OpError
		expected string
	}{
		{
			name:     "delete vault not empty",
			err:      &OpError{Op: "DeleteVault", Vault: "photos-2014", Err: ErrVaultNotEmpty},
			expected: `vaultstore: DeleteVault "photos-2014": vault not empty`,
		},
		{
			name:     "list vaults denied",
			err:      &OpError{Op: "ListVaults", Err: ErrAccessDenied},
			expected: `vaultstore: ListVaults: access denied`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OpError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	err := &OpError{Op: "DeleteArchive", Vault: "v", Err: ErrNotFound}

	if !errors.Is(err, ErrNotFound) {
		t.Error("OpError should unwrap to ErrNotFound")
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Error("OpError should not unwrap to ErrAccessDenied")
	}
}

func TestErrorSentinelsDistinct(t *testing.T) {
	errs := []error{ErrNotFound, ErrAccessDenied, ErrVaultNotEmpty, ErrThrottled, ErrInvalidRequest}
	for i, e1 := range errs {
		for j, e2 := range errs {
			if i != j && errors.Is(e1, e2) {
				t.Errorf("error %v should not match %v", e1, e2)
			}
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&OpError{Op: "DeleteVault", Err: ErrVaultNotEmpty}, true},
		{&OpError{Op: "InitiateJob", Err: ErrThrottled}, true},
		{&OpError{Op: "DeleteVault", Err: ErrAccessDenied}, false},
		{&OpError{Op: "DeleteVault", Err: ErrNotFound}, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestJobKindRoundTrip(t *testing.T) {
	tests := []struct {
		input string
		want  JobKind
	}{
		{"InventoryRetrieval", JobKindInventory},
		{"inventory-retrieval", JobKindInventory},
		{"ArchiveRetrieval", JobKindArchive},
		{"archive-retrieval", JobKindArchive},
	}
	for _, tt := range tests {
		got, err := ParseJobKind(tt.input)
		if err != nil {
			t.Fatalf("ParseJobKind(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseJobKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseJobKind("select"); err == nil {
		t.Error("expected error for unknown job kind")
	}
	if JobKindInventory.String() != "inventory-retrieval" {
		t.Errorf("JobKindInventory.String() = %q", JobKindInventory.String())
	}
}

func TestJobStatusMatches(t *testing.T) {
	tests := []struct {
		status JobStatus
		filter JobFilter
		want   bool
	}{
		{JobInProgress, JobFilterAll, true},
		{JobInProgress, JobFilterInProgress, true},
		{JobInProgress, JobFilterCompleted, false},
		{JobSucceeded, JobFilterCompleted, true},
		{JobFailed, JobFilterCompleted, true},
		{JobSucceeded, JobFilterSucceeded, true},
		{JobFailed, JobFilterSucceeded, false},
		{JobFailed, JobFilterFailed, true},
		{JobSucceeded, JobFilter(42), false},
	}
	for _, tt := range tests {
		if got := tt.status.Matches(tt.filter); got != tt.want {
			t.Errorf("%v.Matches(%v) = %v, want %v", tt.status, tt.filter, got, tt.want)
		}
	}
}
