package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"imagingqc/pkg/miqa"
)

// newBatchID is swapped in tests.
var newBatchID = func() string { return uuid.NewString() }

// Pending returns the part of f whose scans are not yet in the ledger.
func Pending(ctx context.Context, store Store, f miqa.ImportFile) (miqa.ImportFile, error) {
	var out miqa.ImportFile
	err := store.View(ctx, func(v View) error {
		out = f.Filter(func(r miqa.ScanRecord) bool {
			_, seen := v.Entry(r.Key())
			return !seen
		})
		return nil
	})
	if err != nil {
		return miqa.Empty(), err
	}
	return out, nil
}

// Queued is the outcome of Enqueue.
type Queued struct {
	Batch   Batch
	Entries []Entry
}

// Enqueue records every scan of f not already in the ledger under a new
// batch. When nothing is new no batch is created and Batch.ID is empty.
func Enqueue(ctx context.Context, store Store, f miqa.ImportFile, source string) (Queued, error) {
	var out Queued
	err := store.RunInTransaction(ctx, func(tx Tx) error {
		now := tx.Now()
		batch := Batch{ID: newBatchID(), Source: source, QueuedAt: now}
		var added []Entry
		for _, rec := range f.Records() {
			if _, seen := tx.Entry(rec.Key()); seen {
				continue
			}
			e := Entry{
				ExperimentID: rec.ExperimentID,
				ScanID:       rec.ScanID,
				ScanType:     rec.ScanType,
				NiftiFolder:  rec.NiftiFolder,
				Site:         miqa.SiteFromFolder(rec.NiftiFolder),
				Decision:     rec.Decision,
				Reviewer:     reviewer(rec),
				BatchID:      batch.ID,
				QueuedAt:     now,
			}
			if e.Decision != miqa.DecisionUndecided {
				e.DecidedAt = &now
			}
			if err := tx.PutEntry(e); err != nil {
				return err
			}
			added = append(added, e)
		}
		if len(added) == 0 {
			return nil
		}
		batch.Count = len(added)
		if err := tx.PutBatch(batch); err != nil {
			return err
		}
		out = Queued{Batch: batch, Entries: added}
		return nil
	})
	if err != nil {
		return Queued{}, fmt.Errorf("enqueue: %w", err)
	}
	return out, nil
}

// DecisionSummary counts what RecordDecisions did.
type DecisionSummary struct {
	Updated   int
	Unchanged int
	Skipped   int
}

// RecordDecisions copies decisions and reviewers from a reviewed import file
// onto known entries. Scans missing from the ledger are skipped.
func RecordDecisions(ctx context.Context, store Store, f miqa.ImportFile) (DecisionSummary, error) {
	var sum DecisionSummary
	err := store.RunInTransaction(ctx, func(tx Tx) error {
		sum = DecisionSummary{}
		now := tx.Now()
		for _, rec := range f.Records() {
			e, ok := tx.Entry(rec.Key())
			if !ok {
				sum.Skipped++
				continue
			}
			who := reviewer(rec)
			if e.Decision == rec.Decision && (who == "" || e.Reviewer == who) {
				sum.Unchanged++
				continue
			}
			e.Decision = rec.Decision
			if who != "" {
				e.Reviewer = who
			}
			e.DecidedAt = nil
			if rec.Decision != miqa.DecisionUndecided {
				e.DecidedAt = &now
			}
			if err := tx.PutEntry(e); err != nil {
				return err
			}
			sum.Updated++
		}
		return nil
	})
	if err != nil {
		return DecisionSummary{}, fmt.Errorf("record decisions: %w", err)
	}
	return sum, nil
}

// Entries lists the ledger sorted by key.
func Entries(ctx context.Context, store Store) ([]Entry, error) {
	var out []Entry
	err := store.View(ctx, func(v View) error {
		out = v.Entries()
		return nil
	})
	return out, err
}

// reviewer takes the initials of the latest tagged comment, preferring the
// scan note over the experiment note.
func reviewer(r miqa.ScanRecord) string {
	if who := miqa.LatestReviewer(r.ScanNote); who != "" {
		return who
	}
	return miqa.LatestReviewer(r.ExperimentNote)
}
