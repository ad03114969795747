package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"imagingqc/pkg/miqa"
)

var (
	// ErrColumnMismatch reports a table whose header is not the expected column set.
	ErrColumnMismatch = errors.New("convert: column mismatch")
	// ErrEmptyInput reports input without a header row.
	ErrEmptyInput = errors.New("convert: no header row")
	// ErrRaggedRow reports a row with a different cell count than the header.
	ErrRaggedRow = errors.New("convert: row width differs from header")
)

// ParseRawRows parses unconverted legacy lines (header first) using CSV
// quoting rules. Cell text is kept verbatim, including entity escapes.
func ParseRawRows(rows miqa.RawRows) (miqa.Table, error) {
	var b strings.Builder
	for _, line := range rows {
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return readTable(strings.NewReader(b.String()))
}

// ReadLegacyCSV reads a legacy flat file. The header must be exactly the
// seven legacy columns; the result is ordered as LegacyColumns and its
// decision cells are normalised to their integer code.
func ReadLegacyCSV(r io.Reader) (miqa.Table, error) {
	t, err := readTable(r)
	if err != nil {
		return miqa.Table{}, err
	}
	if !t.HasColumnSet(miqa.LegacyColumns()) {
		return miqa.Table{}, fmt.Errorf("%w: got %v", ErrColumnMismatch, t.Columns)
	}
	t = t.Project(miqa.LegacyColumns())
	if err := normaliseDecisions(t); err != nil {
		return miqa.Table{}, err
	}
	return t, nil
}

func readTable(r io.Reader) (miqa.Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			return miqa.Table{}, fmt.Errorf("%w: line %d", ErrRaggedRow, perr.Line)
		}
		return miqa.Table{}, fmt.Errorf("read legacy csv: %w", err)
	}
	if len(records) == 0 {
		return miqa.Table{}, ErrEmptyInput
	}
	for i, rec := range records {
		for j, cell := range rec {
			if !utf8.ValidString(cell) {
				return miqa.Table{}, fmt.Errorf("%w: line %d column %d", miqa.ErrInvalidText, i+1, j+1)
			}
		}
	}
	return miqa.Table{Columns: records[0], Rows: records[1:]}, nil
}

func normaliseDecisions(t miqa.Table) error {
	col := t.Index(miqa.ColDecision)
	for i, row := range t.Rows {
		d, err := miqa.ParseDecision(row[col])
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		row[col] = d.String()
	}
	return nil
}

var alwaysQuoted = map[string]bool{miqa.ColExperimentNote: true, miqa.ColScanNote: true}

// WriteLegacyCSV writes t in the legacy layout. Note columns are always
// quoted, matching the files the session checker produced.
func WriteLegacyCSV(w io.Writer, t miqa.Table) error {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, ","))
	b.WriteByte('\n')
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d", ErrRaggedRow, i+1)
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			if alwaysQuoted[t.Columns[j]] || needsQuotes(cell) {
				b.WriteString(quote(cell))
			} else {
				b.WriteString(cell)
			}
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func needsQuotes(s string) bool {
	return s != "" && (strings.ContainsAny(s, ",\"\r\n") || s[0] == ' ' || s[0] == '\t')
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
