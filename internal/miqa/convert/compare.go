package convert

import (
	"fmt"
	"slices"
	"strings"

	"imagingqc/pkg/miqa"
)

// Difference is one cell that disagrees between two sorted projections.
// Row-count mismatches are reported with Column set to "*".
type Difference struct {
	Row    int
	Column string
	Left   string
	Right  string
}

func (d Difference) String() string {
	return fmt.Sprintf("row %d %s: %q != %q", d.Row, d.Column, d.Left, d.Right)
}

// SortTable returns a copy of t sorted by keys, in order. Ties keep their
// input order.
func SortTable(t miqa.Table, keys []string) (miqa.Table, error) {
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = t.Index(k)
		if idx[i] < 0 {
			return miqa.Table{}, fmt.Errorf("%w: sort key %q", ErrColumnMismatch, k)
		}
	}
	out := t.Clone()
	slices.SortStableFunc(out.Rows, func(a, b []string) int {
		for _, i := range idx {
			if c := strings.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return out, nil
}

// Compare sorts both tables by keys (all of left's columns when none are
// given) and returns every cell that differs. The tables must have the same
// column set; right is reordered to left's column order first.
func Compare(left, right miqa.Table, keys ...string) ([]Difference, error) {
	if !right.HasColumnSet(left.Columns) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrColumnMismatch, left.Columns, right.Columns)
	}
	if len(keys) == 0 {
		keys = left.Columns
	}
	right = right.Project(left.Columns)
	l, err := SortTable(left, keys)
	if err != nil {
		return nil, err
	}
	r, err := SortTable(right, keys)
	if err != nil {
		return nil, err
	}
	var diffs []Difference
	n := max(len(l.Rows), len(r.Rows))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(l.Rows):
			diffs = append(diffs, Difference{Row: i, Column: "*", Right: strings.Join(r.Rows[i], ",")})
			continue
		case i >= len(r.Rows):
			diffs = append(diffs, Difference{Row: i, Column: "*", Left: strings.Join(l.Rows[i], ",")})
			continue
		}
		for j, col := range l.Columns {
			if l.Rows[i][j] != r.Rows[i][j] {
				diffs = append(diffs, Difference{Row: i, Column: col, Left: l.Rows[i][j], Right: r.Rows[i][j]})
			}
		}
	}
	return diffs, nil
}

// Equivalent reports whether the two tables hold the same rows regardless
// of order.
func Equivalent(left, right miqa.Table) bool {
	diffs, err := Compare(left, right)
	return err == nil && len(diffs) == 0
}
