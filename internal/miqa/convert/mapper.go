package convert

import (
	"fmt"
	"strings"

	"imagingqc/pkg/miqa"
)

// ConvertTable normalises a legacy table into the layout the import mapper
// expects: header names and cells are stripped of the line terminators and
// quote pairs that naive comma splitting leaves behind, columns are put in
// legacy order, and decisions become integer codes.
func ConvertTable(t miqa.Table) (miqa.Table, error) {
	return convertTable(t, true)
}

func convertTable(t miqa.Table, unquote bool) (miqa.Table, error) {
	clean := func(s string) string { return s }
	if unquote {
		clean = cleanCell
	}
	in := miqa.Table{Columns: make([]string, len(t.Columns)), Rows: make([][]string, 0, len(t.Rows))}
	for i, c := range t.Columns {
		in.Columns[i] = clean(c)
	}
	if !in.HasColumnSet(miqa.LegacyColumns()) {
		return miqa.Table{}, fmt.Errorf("%w: got %v", ErrColumnMismatch, in.Columns)
	}
	for i, row := range t.Rows {
		if len(row) != len(in.Columns) {
			return miqa.Table{}, fmt.Errorf("%w: row %d", ErrRaggedRow, i+1)
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = clean(cell)
		}
		in.Rows = append(in.Rows, cells)
	}
	out := in.Project(miqa.LegacyColumns())
	if err := normaliseDecisions(out); err != nil {
		return miqa.Table{}, err
	}
	return out, nil
}

func cleanCell(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

// TableToImportFile groups a converted table by experiment id. Identifier
// patterns are not checked here so conversion is total over any
// well-formed table; validation is a separate step.
func TableToImportFile(t miqa.Table) (miqa.ImportFile, error) {
	if !t.HasColumnSet(miqa.LegacyColumns()) {
		return miqa.Empty(), fmt.Errorf("%w: got %v", ErrColumnMismatch, t.Columns)
	}
	idx := make(map[string]int, len(t.Columns))
	for _, c := range miqa.LegacyColumns() {
		idx[c] = t.Index(c)
	}
	records := make([]miqa.ScanRecord, 0, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return miqa.Empty(), fmt.Errorf("%w: row %d", ErrRaggedRow, i+1)
		}
		d, err := miqa.ParseDecision(row[idx[miqa.ColDecision]])
		if err != nil {
			return miqa.Empty(), fmt.Errorf("row %d: %w", i+1, err)
		}
		records = append(records, miqa.ScanRecord{
			ExperimentID:   row[idx[miqa.ColExperimentID]],
			NiftiFolder:    row[idx[miqa.ColNiftiFolder]],
			ScanID:         row[idx[miqa.ColScanID]],
			ScanType:       row[idx[miqa.ColScanType]],
			ExperimentNote: row[idx[miqa.ColExperimentNote]],
			Decision:       d,
			ScanNote:       row[idx[miqa.ColScanNote]],
		})
	}
	return miqa.GroupRecords(records), nil
}

// RowsToImportFile runs raw legacy lines through CSV parsing, conversion
// and grouping. Cells are already unquoted by the parser, so no further
// quote stripping is applied.
func RowsToImportFile(rows miqa.RawRows) (miqa.ImportFile, error) {
	t, err := ParseRawRows(rows)
	if err != nil {
		return miqa.Empty(), err
	}
	t, err = convertTable(t, false)
	if err != nil {
		return miqa.Empty(), err
	}
	return TableToImportFile(t)
}

// ImportFileToTable flattens an import file into the legacy column layout,
// one row per scan.
func ImportFileToTable(f miqa.ImportFile) miqa.Table {
	t := miqa.Table{Columns: miqa.LegacyColumns()}
	for _, r := range f.Records() {
		t.Rows = append(t.Rows, []string{
			r.ExperimentID,
			r.NiftiFolder,
			r.ScanID,
			r.ScanType,
			r.ExperimentNote,
			r.Decision.String(),
			r.ScanNote,
		})
	}
	return t
}
