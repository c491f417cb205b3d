// Package inventory parses the output of a vault inventory-retrieval job.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deicer-io/deicer/internal/state"
)

// ErrMalformed is returned for output that is not a usable inventory.
var ErrMalformed = errors.New("malformed inventory")

// Manifest is the JSON document produced by an inventory job.
type Manifest struct {
	VaultARN      string     `json:"VaultARN"`
	InventoryDate string     `json:"InventoryDate"`
	ArchiveList   *[]Archive `json:"ArchiveList"`
}

// Archive is one entry of a manifest's archive list.
type Archive struct {
	ArchiveID          string `json:"ArchiveId"`
	ArchiveDescription string `json:"ArchiveDescription"`
	CreationDate       string `json:"CreationDate"`
	Size               int64  `json:"Size"`
	SHA256TreeHash     string `json:"SHA256TreeHash"`
}

// Date returns the inventory date, or the zero time if it is absent or
// unparseable.
func (m *Manifest) Date() time.Time {
	t, err := time.Parse(time.RFC3339, m.InventoryDate)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Decode reads a manifest. The archive list must be present; an empty list is
// a valid inventory of an empty vault.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.ArchiveList == nil {
		return nil, fmt.Errorf("%w: missing ArchiveList", ErrMalformed)
	}
	for i, a := range *m.ArchiveList {
		if a.ArchiveID == "" {
			return nil, fmt.Errorf("%w: archive %d has no ArchiveId", ErrMalformed, i)
		}
		if a.Size < 0 {
			return nil, fmt.Errorf("%w: archive %s has negative size", ErrMalformed, a.ArchiveID)
		}
	}
	return &m, nil
}

// Parse decodes a manifest into archive references, preserving manifest order.
func Parse(data []byte) ([]state.ArchiveRef, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	refs := make([]state.ArchiveRef, 0, len(*m.ArchiveList))
	for _, a := range *m.ArchiveList {
		refs = append(refs, state.ArchiveRef{
			ID:          a.ArchiveID,
			Description: a.ArchiveDescription,
			Size:        a.Size,
		})
	}
	return refs, nil
}
