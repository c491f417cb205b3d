package vaultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockArchive is an archive held by a MockStore vault.
type MockArchive struct {
	ID          string
	Description string
	Size        int64
}

// MockStore is an in-memory implementation of Store for testing.
//
// Jobs never complete on their own; tests drive them with CompleteJob and
// FailJob. DeleteVault can be told to report ErrVaultNotEmpty for a number
// of calls after the vault is empty, mimicking the service's consistency lag.
type MockStore struct {
	mu     sync.Mutex
	vaults map[string]*mockVault
	jobs   map[string]*mockJob
	errs   map[string]error
	calls  []string
	nextID int

	// NextJobID, when set, names the next job returned by InitiateJob.
	NextJobID string

	// Now stamps job creation times. Defaults to time.Now.
	Now func() time.Time
}

type mockVault struct {
	archives       []MockArchive
	createdAt      time.Time
	notEmptyBudget int
}

type mockJob struct {
	desc   JobDescription
	output []byte
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		vaults: make(map[string]*mockVault),
		jobs:   make(map[string]*mockJob),
		errs:   make(map[string]error),
		Now:    time.Now,
	}
}

// AddVault creates a vault holding the given archives.
func (s *MockStore) AddVault(name string, archives ...MockArchive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[name] = &mockVault{archives: archives, createdAt: s.Now().UTC()}
}

// HasVault reports whether the vault still exists.
func (s *MockStore) HasVault(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vaults[name]
	return ok
}

// Archives returns the ids of the archives left in a vault.
func (s *MockStore) Archives(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(v.archives))
	for _, a := range v.archives {
		ids = append(ids, a.ID)
	}
	return ids
}

// SetNotEmptyFor makes the next n DeleteVault calls on an emptied vault fail
// with ErrVaultNotEmpty.
func (s *MockStore) SetNotEmptyFor(vault string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vaults[vault]; ok {
		v.notEmptyBudget = n
	}
}

// SetError makes every call of op against vault fail with err. An empty
// vault matches account-wide operations (ListVaults) or every vault when
// used with a per-vault op. Passing a nil err clears the injection.
func (s *MockStore) SetError(op, vault string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op + "/" + vault
	if err == nil {
		delete(s.errs, key)
		return
	}
	s.errs[key] = err
}

// CompleteJob marks a job succeeded. Inventory jobs get a manifest built from
// the vault's current archives unless SetJobOutput already provided one.
func (s *MockStore) CompleteJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	j.desc.Status = JobSucceeded
	if j.output == nil && j.desc.Kind == JobKindInventory {
		j.output = s.manifestLocked(j.desc.Vault)
	}
}

// FailJob marks a job failed with the given message.
func (s *MockStore) FailJob(jobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.desc.Status = JobFailed
		j.desc.Message = message
	}
}

// SetJobOutput overrides the payload GetJobOutput returns for a job.
func (s *MockStore) SetJobOutput(jobID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.output = payload
	}
}

// Calls returns the operations performed so far, formatted "Op vault [id]".
func (s *MockStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times op was called.
func (s *MockStore) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if len(c) >= len(op) && c[:len(op)] == op && (len(c) == len(op) || c[len(op)] == ' ') {
			n++
		}
	}
	return n
}

func (s *MockStore) record(op, vault string, extra ...string) error {
	call := op
	if vault != "" {
		call += " " + vault
	}
	for _, e := range extra {
		call += " " + e
	}
	s.calls = append(s.calls, call)

	if err, ok := s.errs[op+"/"+vault]; ok {
		return &OpError{Op: op, Vault: vault, Err: err}
	}
	if err, ok := s.errs[op+"/"]; ok {
		return &OpError{Op: op, Vault: vault, Err: err}
	}
	return nil
}

func (s *MockStore) manifestLocked(vault string) []byte {
	type archive struct {
		ArchiveID          string `json:"ArchiveId"`
		ArchiveDescription string `json:"ArchiveDescription"`
		Size               int64  `json:"Size"`
	}
	doc := struct {
		VaultARN      string    `json:"VaultARN"`
		InventoryDate string    `json:"InventoryDate"`
		ArchiveList   []archive `json:"ArchiveList"`
	}{
		VaultARN:      "arn:aws:glacier:us-east-1:000000000000:vaults/" + vault,
		InventoryDate: s.Now().UTC().Format(time.RFC3339),
		ArchiveList:   []archive{},
	}
	if v, ok := s.vaults[vault]; ok {
		for _, a := range v.archives {
			doc.ArchiveList = append(doc.ArchiveList, archive{a.ID, a.Description, a.Size})
		}
	}
	data, _ := json.Marshal(doc)
	return data
}

func (s *MockStore) ListVaults(ctx context.Context) ([]VaultInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListVaults", ""); err != nil {
		return nil, err
	}

	out := make([]VaultInfo, 0, len(s.vaults))
	for name, v := range s.vaults {
		var size int64
		for _, a := range v.archives {
			size += a.Size
		}
		out = append(out, VaultInfo{
			Name:             name,
			NumberOfArchives: int64(len(v.archives)),
			SizeBytes:        size,
			CreatedAt:        v.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MockStore) InitiateJob(ctx context.Context, vault string, kind JobKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("InitiateJob", vault, kind.String()); err != nil {
		return "", err
	}
	if _, ok := s.vaults[vault]; !ok {
		return "", &OpError{Op: "InitiateJob", Vault: vault, Err: ErrNotFound}
	}

	id := s.NextJobID
	s.NextJobID = ""
	if id == "" {
		s.nextID++
		id = fmt.Sprintf("job-%d", s.nextID)
	}
	s.jobs[id] = &mockJob{desc: JobDescription{
		ID:        id,
		Vault:     vault,
		Kind:      kind,
		Status:    JobInProgress,
		CreatedAt: s.Now().UTC(),
	}}
	return id, nil
}

func (s *MockStore) ListJobs(ctx context.Context, vault string, filter JobFilter) ([]JobDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ListJobs", vault, filter.String()); err != nil {
		return nil, err
	}

	var out []JobDescription
	for _, j := range s.jobs {
		if j.desc.Vault == vault && j.desc.Status.Matches(filter) {
			out = append(out, j.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MockStore) DescribeJob(ctx context.Context, vault, jobID string) (JobDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DescribeJob", vault, jobID); err != nil {
		return JobDescription{}, err
	}
	j, ok := s.jobs[jobID]
	if !ok || j.desc.Vault != vault {
		return JobDescription{}, &OpError{Op: "DescribeJob", Vault: vault, Err: ErrNotFound}
	}
	return j.desc, nil
}

func (s *MockStore) GetJobOutput(ctx context.Context, vault, jobID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("GetJobOutput", vault, jobID); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok || j.desc.Vault != vault {
		return nil, &OpError{Op: "GetJobOutput", Vault: vault, Err: ErrNotFound}
	}
	if j.desc.Status != JobSucceeded {
		return nil, &OpError{Op: "GetJobOutput", Vault: vault, Err: ErrInvalidRequest}
	}
	out := make([]byte, len(j.output))
	copy(out, j.output)
	return out, nil
}

func (s *MockStore) DeleteArchive(ctx context.Context, vault, archiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteArchive", vault, archiveID); err != nil {
		return err
	}
	v, ok := s.vaults[vault]
	if !ok {
		return &OpError{Op: "DeleteArchive", Vault: vault, Err: ErrNotFound}
	}
	for i, a := range v.archives {
		if a.ID == archiveID {
			v.archives = append(v.archives[:i], v.archives[i+1:]...)
			return nil
		}
	}
	return &OpError{Op: "DeleteArchive", Vault: vault, Err: ErrNotFound}
}

func (s *MockStore) DeleteVault(ctx context.Context, vault string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteVault", vault); err != nil {
		return err
	}
	v, ok := s.vaults[vault]
	if !ok {
		return &OpError{Op: "DeleteVault", Vault: vault, Err: ErrNotFound}
	}
	if len(v.archives) > 0 {
		return &OpError{Op: "DeleteVault", Vault: vault, Err: ErrVaultNotEmpty}
	}
	if v.notEmptyBudget > 0 {
		v.notEmptyBudget--
		return &OpError{Op: "DeleteVault", Vault: vault, Err: ErrVaultNotEmpty}
	}
	delete(s.vaults, vault)
	return nil
}

var _ Store = (*MockStore)(nil)
