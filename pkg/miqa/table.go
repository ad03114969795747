package miqa

// Legacy column names, in the order the check_new_sessions export writes them.
const (
	ColExperimentID   = "xnat_experiment_id"
	ColNiftiFolder    = "nifti_folder"
	ColScanID         = "scan_id"
	ColScanType       = "scan_type"
	ColExperimentNote = "experiment_note"
	ColDecision       = "decision"
	ColScanNote       = "scan_note"
)

// LegacyColumns returns the fixed seven-column legacy header.
func LegacyColumns() []string {
	return []string{ColExperimentID, ColNiftiFolder, ColScanID, ColScanType, ColExperimentNote, ColDecision, ColScanNote}
}

// Table is an in-memory tabular structure: a header and string rows.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of column name, or -1.
func (t Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// HasColumnSet reports whether t has exactly the named columns in any order.
// A duplicate on either side never matches.
func (t Table) HasColumnSet(names []string) bool {
	if len(t.Columns) != len(names) {
		return false
	}
	seen := make(map[string]int, len(names))
	for _, c := range t.Columns {
		seen[c]++
	}
	for _, n := range names {
		if seen[n] != 1 {
			return false
		}
		seen[n]--
	}
	return true
}

// Clone deep-copies the table.
func (t Table) Clone() Table {
	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// Project returns a copy of t with columns reordered to names. Missing
// columns yield empty cells.
func (t Table) Project(names []string) Table {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Index(n)
	}
	out := Table{Columns: append([]string(nil), names...), Rows: make([][]string, 0, len(t.Rows))}
	for _, r := range t.Rows {
		row := make([]string, len(names))
		for i, j := range idx {
			if j >= 0 && j < len(r) {
				row[i] = r[j]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}
