package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/deicer-io/deicer/internal/decommission"
	"github.com/deicer-io/deicer/internal/logging"
	"github.com/deicer-io/deicer/internal/state"
)

const (
	contentTypeJSON = "application/json"
	latestName      = "latest.json"
	runsDir         = "runs"
	keyTimeLayout   = "2006/01/02/20060102T150405Z"
)

// Outcomes of a run.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Entry is the audit record of one run.
type Entry struct {
	RunID      string    `json:"runId"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`

	Registered     []string       `json:"registered,omitempty"`
	Eligible       []string       `json:"eligible,omitempty"`
	Deleted        []string       `json:"deleted,omitempty"`
	Failed         []string       `json:"failed,omitempty"`
	DestroySkipped bool           `json:"destroySkipped,omitempty"`
	Counts         map[string]int `json:"counts"`

	// Records is the state after the run.
	Records state.Records `json:"records"`
}

// NewEntry builds the audit entry of a finished run.
func NewEntry(runID string, summary decommission.Summary, records state.Records, start, end time.Time, runErr error) Entry {
	e := Entry{
		RunID:          runID,
		Mode:           summary.Mode.String(),
		StartedAt:      start.UTC(),
		FinishedAt:     end.UTC(),
		Outcome:        OutcomeOK,
		Registered:     summary.Registered,
		Eligible:       summary.Eligible,
		Deleted:        summary.Deleted,
		Failed:         summary.Failed,
		DestroySkipped: summary.DestroySkipped,
		Counts:         map[string]int{},
		Records:        records,
	}
	if runErr != nil {
		e.Outcome = OutcomeFailed
		e.Error = runErr.Error()
	}
	for s, n := range records.CountByStatus() {
		e.Counts[string(s)] = n
	}
	return e
}

// Publisher writes entries to a Sink under a key prefix.
type Publisher struct {
	sink   Sink
	prefix string
	logger *logging.Logger
}

// NewPublisher creates a Publisher. prefix may be empty.
func NewPublisher(sink Sink, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Global()
	}
	return &Publisher{sink: sink, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Publish stores e as a new immutable run object and as the latest entry.
// It returns the run object's key.
func (p *Publisher) Publish(ctx context.Context, e Entry) (string, error) {
	if e.RunID == "" {
		return "", errors.New("auditlog: entry has no run id")
	}
	body, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("auditlog: encode entry: %w", err)
	}

	opts := PutOptions{
		Metadata: map[string]string{
			"run-id":  e.RunID,
			"mode":    e.Mode,
			"outcome": e.Outcome,
		},
	}

	key := p.runKey(e)
	runOpts := opts
	runOpts.CreateOnly = true
	if err := p.sink.Put(ctx, key, body, contentTypeJSON, runOpts); err != nil {
		return "", err
	}
	if err := p.sink.Put(ctx, p.join(latestName), body, contentTypeJSON, opts); err != nil {
		return key, err
	}

	p.logger.Infof("run recorded in audit log", map[string]any{"key": key, "bytes": len(body)})
	return key, nil
}

// Latest returns the most recently published entry.
func (p *Publisher) Latest(ctx context.Context) (Entry, error) {
	return p.read(ctx, p.join(latestName))
}

// History returns up to limit entries, newest first. A limit <= 0 returns
// every entry. Unreadable entries are skipped with a warning.
func (p *Publisher) History(ctx context.Context, limit int) ([]Entry, error) {
	objects, err := p.sink.List(ctx, p.join(runsDir)+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		e, err := p.read(ctx, obj.Key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warnf("skipping unreadable audit entry", map[string]any{"key": obj.Key, "error": err})
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Publisher) read(ctx context.Context, key string) (Entry, error) {
	body, err := p.sink.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return Entry{}, fmt.Errorf("auditlog: decode %s: %w", key, err)
	}
	return e, nil
}

func (p *Publisher) runKey(e Entry) string {
	return p.join(runsDir, e.FinishedAt.UTC().Format(keyTimeLayout)+"-"+e.RunID+".json")
}

func (p *Publisher) join(elem ...string) string {
	if p.prefix == "" {
		return path.Join(elem...)
	}
	return path.Join(append([]string{p.prefix}, elem...)...)
}
