package auditlog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemorySink is an in-memory Sink for tests.
type MemorySink struct {
	mu      sync.Mutex
	objects map[string]memoryObject

	// Now stamps LastModified. Defaults to time.Now.
	Now func() time.Time

	// PutErr, if set, is returned by every Put.
	PutErr error
}

type memoryObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string]memoryObject), Now: time.Now}
}

func (s *MemorySink) Put(ctx context.Context, key string, body []byte, contentType string, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PutErr != nil {
		return &ObjectError{Op: "Put", Key: key, Err: s.PutErr}
	}
	if _, ok := s.objects[key]; ok && opts.CreateOnly {
		return &ObjectError{Op: "Put", Key: key, Err: ErrExists}
	}
	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	s.objects[key] = memoryObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		metadata:    meta,
		modified:    s.Now(),
	}
	return nil
}

func (s *MemorySink) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, &ObjectError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return append([]byte(nil), obj.body...), nil
}

func (s *MemorySink) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Size: int64(len(obj.body)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Keys returns every stored key, sorted.
func (s *MemorySink) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metadata returns the metadata stored with key.
func (s *MemorySink) Metadata(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key].metadata
}

var _ Sink = (*MemorySink)(nil)
