package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"imagingqc/internal/ledger"
	"imagingqc/pkg/miqa"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2022, 9, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestRunInTransactionCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewStore(WithClock(fixedClock()))
	err := store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		if err := tx.PutEntry(ledger.Entry{ExperimentID: "NCANDA_E1", ScanID: "2", QueuedAt: tx.Now()}); err != nil {
			return err
		}
		if _, ok := tx.Entry("NCANDA_E1/2"); !ok {
			t.Fatalf("transaction must read its own writes")
		}
		return tx.PutBatch(ledger.Batch{ID: "b1", QueuedAt: tx.Now(), Count: 1})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	err = store.View(ctx, func(v ledger.View) error {
		if len(v.Entries()) != 1 || len(v.Batches()) != 1 {
			t.Fatalf("expected committed state")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRunInTransactionDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		_ = tx.PutEntry(ledger.Entry{ExperimentID: "NCANDA_E1", ScanID: "2"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if snap := store.ExportState(); len(snap.Entries) != 0 {
		t.Fatalf("failed transaction leaked %d entries", len(snap.Entries))
	}
}

func TestPutValidates(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx ledger.Tx) error {
		if err := tx.PutEntry(ledger.Entry{ExperimentID: "NCANDA_E1"}); !errors.Is(err, ledger.ErrInvalidEntry) {
			t.Fatalf("expected invalid entry, got %v", err)
		}
		if err := tx.PutEntry(ledger.Entry{ExperimentID: "NCANDA_E1", ScanID: "1", Decision: 7}); !errors.Is(err, miqa.ErrUnknownDecision) {
			t.Fatalf("expected unknown decision, got %v", err)
		}
		if err := tx.PutBatch(ledger.Batch{}); !errors.Is(err, ledger.ErrInvalidBatch) {
			t.Fatalf("expected invalid batch, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestExportImportIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	decided := time.Date(2022, 10, 20, 0, 0, 0, 0, time.UTC)
	_ = store.RunInTransaction(ctx, func(tx ledger.Tx) error {
		return tx.PutEntry(ledger.Entry{ExperimentID: "NCANDA_E1", ScanID: "2", Decision: miqa.DecisionApproved, DecidedAt: &decided})
	})
	snap := store.ExportState()
	*snap.Entries["NCANDA_E1/2"].DecidedAt = time.Time{}
	if e := store.ExportState().Entries["NCANDA_E1/2"]; !e.DecidedAt.Equal(decided) {
		t.Fatalf("export must deep copy, got %v", e.DecidedAt)
	}
	store.ImportState(ledger.Snapshot{})
	if len(store.ExportState().Entries) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(ledger.Snapshot{Entries: map[string]ledger.Entry{"NCANDA_E1/2": {ExperimentID: "NCANDA_E1", ScanID: "2"}}})
	if len(store.ExportState().Entries) != 1 {
		t.Fatalf("expected restored state")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewStore()
	if err := store.RunInTransaction(ctx, func(ledger.Tx) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if err := store.View(ctx, func(ledger.View) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
