package convert

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imagingqc/pkg/miqa"
)

func TestJSONAndLegacyProjectionsAreEquivalent(t *testing.T) {
	for _, prefix := range []string{"sessions", "sessions_2"} {
		t.Run(prefix, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join("testdata", prefix+".json"))
			if err != nil {
				t.Fatalf("read json: %v", err)
			}
			f, err := miqa.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			jsonTable := ImportFileToTable(f)
			csvTable := readLegacyFixture(t, prefix+".csv")

			diffs, err := Compare(csvTable, jsonTable, csvTable.Columns...)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if len(diffs) != 0 {
				t.Fatalf("projections differ: %v", diffs)
			}
			if !Equivalent(jsonTable, csvTable) {
				t.Fatalf("expected equivalence")
			}
		})
	}
}

func TestCompareReportsCellDifferences(t *testing.T) {
	cols := []string{"a", "b"}
	left := miqa.Table{Columns: cols, Rows: [][]string{{"1", "x"}, {"2", "y"}}}
	right := miqa.Table{Columns: []string{"b", "a"}, Rows: [][]string{{"z", "2"}, {"x", "1"}}}
	diffs, err := Compare(left, right, "a")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Column != "b" || diffs[0].Left != "y" || diffs[0].Right != "z" {
		t.Fatalf("unexpected diffs %v", diffs)
	}
	if diffs[0].String() == "" {
		t.Fatalf("expected printable difference")
	}
}

func TestCompareRowCountAndColumnMismatch(t *testing.T) {
	cols := []string{"a"}
	left := miqa.Table{Columns: cols, Rows: [][]string{{"1"}, {"2"}}}
	right := miqa.Table{Columns: cols, Rows: [][]string{{"1"}}}
	diffs, err := Compare(left, right)
	if err != nil || len(diffs) != 1 || diffs[0].Column != "*" || diffs[0].Left != "2" {
		t.Fatalf("unexpected diffs %v %v", diffs, err)
	}
	diffs, err = Compare(right, left)
	if err != nil || len(diffs) != 1 || diffs[0].Right != "2" {
		t.Fatalf("unexpected diffs %v %v", diffs, err)
	}
	if _, err := Compare(left, miqa.Table{Columns: []string{"b"}}); !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected column mismatch, got %v", err)
	}
	if _, err := Compare(left, right, "missing"); !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected sort key error, got %v", err)
	}
	if Equivalent(left, right) {
		t.Fatalf("tables should not be equivalent")
	}
}

func TestSortTableIsStableAndCopies(t *testing.T) {
	tbl := miqa.Table{Columns: []string{"k", "v"}, Rows: [][]string{{"b", "1"}, {"a", "2"}, {"b", "0"}}}
	sorted, err := SortTable(tbl, []string{"k"})
	if err != nil {
		t.Fatalf("SortTable: %v", err)
	}
	if sorted.Rows[0][0] != "a" || sorted.Rows[1][1] != "1" || sorted.Rows[2][1] != "0" {
		t.Fatalf("unexpected order %v", sorted.Rows)
	}
	if tbl.Rows[0][0] != "b" {
		t.Fatalf("SortTable must not reorder its input")
	}
}

func TestCompareRejectsDuplicateColumns(t *testing.T) {
	dup := miqa.Table{Columns: []string{"a", "a"}, Rows: [][]string{{"1", "1"}}}
	distinct := miqa.Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "1"}}}
	for _, pair := range [][2]miqa.Table{{dup, distinct}, {distinct, dup}, {dup, dup}} {
		if _, err := Compare(pair[0], pair[1]); !errors.Is(err, ErrColumnMismatch) {
			t.Fatalf("Compare(%v, %v) = %v, want column mismatch", pair[0].Columns, pair[1].Columns, err)
		}
		if Equivalent(pair[0], pair[1]) {
			t.Fatalf("%v and %v must not be equivalent", pair[0].Columns, pair[1].Columns)
		}
	}
}
