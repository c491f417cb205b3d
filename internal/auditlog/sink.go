// Package auditlog keeps a durable record of every run outside the state
// file.
//
// Once vaults are deleted the state file is the only evidence of what was
// destroyed. After each run the Publisher writes an immutable entry holding
// the run summary and a snapshot of every record to a [Sink], normally an S3
// bucket:
//
//	<prefix>/runs/2026/03/01/20260301T120000Z-<run id>.json   (create-only)
//	<prefix>/latest.json                                      (overwritten)
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by Sink implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrExists is returned by a create-only Put when the key is taken.
	ErrExists = errors.New("object already exists")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")
)

// ObjectError wraps an error with the object key.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("auditlog: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Object describes a stored object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// PutOptions configures a Put.
type PutOptions struct {
	// Metadata is stored with the object.
	Metadata map[string]string

	// CreateOnly makes Put fail with ErrExists instead of overwriting.
	CreateOnly bool
}

// Sink stores audit objects. Implementations must be safe for concurrent use.
type Sink interface {
	// Put stores body at key.
	Put(ctx context.Context, key string, body []byte, contentType string, opts PutOptions) error

	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]Object, error)
}
