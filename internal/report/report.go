// Package report renders the decommission status of every known vault.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/deicer-io/deicer/internal/state"
)

// Row is the status of one vault.
type Row struct {
	Vault      string     `json:"vault"`
	Status     string     `json:"status"`
	JobID      string     `json:"jobId,omitempty"`
	Updated    *time.Time `json:"updated,omitempty"`
	Archives   int        `json:"archives"`
	SizeBytes  int64      `json:"sizeBytes"`
	EligibleAt *time.Time `json:"eligibleAt,omitempty"`
}

// Report is a snapshot of the campaign.
type Report struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Rows        []Row          `json:"vaults"`
	Counts      map[string]int `json:"counts"`
	TotalBytes  int64          `json:"totalBytes"`
}

// Build creates a report from records. EligibleAt is set for COMPLETE
// vaults: the time their inventory clears the retention window.
func Build(records state.Records, now time.Time, window time.Duration) Report {
	r := Report{GeneratedAt: now.UTC(), Counts: map[string]int{}}
	for s, n := range records.CountByStatus() {
		r.Counts[string(s)] = n
	}

	for _, id := range records.IDs() {
		rec := records[id]
		row := Row{
			Vault:     id,
			Status:    string(rec.Status),
			Updated:   rec.JobUpdated,
			Archives:  len(rec.Archives),
			SizeBytes: rec.TotalSize(),
		}
		if rec.JobID != nil {
			row.JobID = *rec.JobID
		}
		if rec.Status == state.StatusComplete && rec.JobUpdated != nil {
			at := rec.JobUpdated.Add(window)
			row.EligibleAt = &at
		}
		if rec.Status != state.StatusDeleted {
			r.TotalBytes += row.SizeBytes
		}
		r.Rows = append(r.Rows, row)
	}
	return r
}

// WriteTable writes the report as an aligned text table.
func WriteTable(w io.Writer, r Report) error {
	if len(r.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No vaults recorded. Run with --scan to discover vaults.")
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 50
	table.Wrap = true
	for _, col := range []int{5, 6} {
		table.RightAlign(col)
	}

	table.AddRow("VAULT", "STATUS", "JOB", "UPDATED", "ARCHIVES", "SIZE", "DESTROY")
	for _, row := range r.Rows {
		table.AddRow(
			row.Vault,
			row.Status,
			dash(shortID(row.JobID)),
			relative(row.Updated, r.GeneratedAt),
			row.Archives,
			humanize.IBytes(uint64(row.SizeBytes)),
			destroyColumn(row, r.GeneratedAt),
		)
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d vaults: %d not started, %d in progress, %d complete, %d error, %d pending deletion, %d deleted. %s still stored.\n",
		len(r.Rows),
		r.Counts[string(state.StatusNotStarted)],
		r.Counts[string(state.StatusInProgress)],
		r.Counts[string(state.StatusComplete)],
		r.Counts[string(state.StatusError)],
		r.Counts[string(state.StatusPendingDeletion)],
		r.Counts[string(state.StatusDeleted)],
		humanize.IBytes(uint64(r.TotalBytes)),
	)
	return err
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func destroyColumn(row Row, now time.Time) string {
	switch row.Status {
	case string(state.StatusPendingDeletion):
		return "retrying"
	case string(state.StatusDeleted):
		return "done"
	}
	if row.EligibleAt == nil {
		return "-"
	}
	if !now.Before(*row.EligibleAt) {
		return "eligible"
	}
	return humanize.RelTime(*row.EligibleAt, now, "ago", "from now")
}

func relative(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

// shortID trims long service job ids for display.
func shortID(id string) string {
	if len(id) > 16 {
		return id[:13] + "..."
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
