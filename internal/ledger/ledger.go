// Package ledger records which scans have been queued for manual QC and the
// decisions collected for them, so repeated runs only export new sessions.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"imagingqc/pkg/miqa"
)

// Entry is the ledger row for one scan.
type Entry struct {
	ExperimentID string        `json:"experiment_id"`
	ScanID       string        `json:"scan_id"`
	ScanType     string        `json:"scan_type"`
	NiftiFolder  string        `json:"nifti_folder"`
	Site         string        `json:"site,omitempty"`
	Decision     miqa.Decision `json:"decision"`
	Reviewer     string        `json:"reviewer,omitempty"`
	BatchID      string        `json:"batch_id"`
	QueuedAt     time.Time     `json:"queued_at"`
	DecidedAt    *time.Time    `json:"decided_at,omitempty"`
}

// Key matches miqa.ScanRecord.Key.
func (e Entry) Key() string { return e.ExperimentID + "/" + e.ScanID }

// Batch groups the entries queued by one run.
type Batch struct {
	ID       string    `json:"id"`
	Source   string    `json:"source,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
	Count    int       `json:"count"`
}

// Snapshot is the full ledger state, keyed by entry key and batch id.
type Snapshot struct {
	Entries map[string]Entry `json:"entries"`
	Batches map[string]Batch `json:"batches"`
}

// View is read-only access to ledger state.
type View interface {
	Entry(key string) (Entry, bool)
	// Entries returns every entry sorted by key.
	Entries() []Entry
	// Batches returns every batch sorted by queue time then id.
	Batches() []Batch
}

// Tx mutates ledger state inside RunInTransaction. Nothing is visible to
// other callers until fn returns nil.
type Tx interface {
	View
	PutEntry(e Entry) error
	PutBatch(b Batch) error
	Now() time.Time
}

// Store is implemented by the memory, sqlite and postgres backends.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(View) error) error
	Close() error
}

var (
	// ErrInvalidEntry reports an entry without experiment or scan id.
	ErrInvalidEntry = errors.New("ledger: entry needs experiment and scan id")
	// ErrInvalidBatch reports a batch without id.
	ErrInvalidBatch = errors.New("ledger: batch needs an id")
)

// ValidateEntry checks the fields a backend relies on.
func ValidateEntry(e Entry) error {
	if e.ExperimentID == "" || e.ScanID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, e.Key())
	}
	if !e.Decision.Valid() {
		return fmt.Errorf("%w: %d", miqa.ErrUnknownDecision, int(e.Decision))
	}
	return nil
}

// ValidateBatch checks a batch before it is stored.
func ValidateBatch(b Batch) error {
	if b.ID == "" {
		return ErrInvalidBatch
	}
	return nil
}

// Bucket names used by the snapshotting backends.
const (
	BucketEntries = "entries"
	BucketBatches = "batches"
)

// Buckets lists the snapshot buckets in write order.
func Buckets() []string { return []string{BucketEntries, BucketBatches} }

// EncodeBuckets renders each snapshot bucket as JSON.
func EncodeBuckets(s Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, 2)
	for _, bucket := range Buckets() {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketEntries:
			data, err = json.Marshal(nonNil(s.Entries))
		case BucketBatches:
			data, err = json.Marshal(nonNil(s.Batches))
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket merges one stored bucket into s. Unknown buckets are ignored
// so older databases with extra rows still load.
func DecodeBucket(s *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketEntries:
		target = &s.Entries
	case BucketBatches:
		target = &s.Batches
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// SortEntries orders entries by key.
func SortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key() < es[j].Key() })
}

// SortBatches orders batches by queue time then id.
func SortBatches(bs []Batch) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].QueuedAt.Equal(bs[j].QueuedAt) {
			return bs[i].QueuedAt.Before(bs[j].QueuedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}
