package convert

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imagingqc/pkg/miqa"
)

func readLegacyFixture(t *testing.T, name string) miqa.Table {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer func() { _ = f.Close() }()
	tbl, err := ReadLegacyCSV(f)
	if err != nil {
		t.Fatalf("ReadLegacyCSV %s: %v", name, err)
	}
	return tbl
}

func TestReadLegacyCSVNormalisesDecisions(t *testing.T) {
	tbl := readLegacyFixture(t, "sessions_2.csv")
	if tbl.Len() != 4 {
		t.Fatalf("rows = %d", tbl.Len())
	}
	col := tbl.Index(miqa.ColDecision)
	got := []string{tbl.Rows[0][col], tbl.Rows[1][col], tbl.Rows[2][col], tbl.Rows[3][col]}
	want := []string{"0", "1", "-1", "1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("decision row %d = %q, want %q", i, got[i], want[i])
		}
	}
	note := tbl.Rows[1][tbl.Index(miqa.ColScanNote)]
	if note != `KP(2022-10-20): looks fine, "clean" acquisition` {
		t.Fatalf("embedded quotes not preserved: %q", note)
	}
}

func TestReadLegacyCSVReordersColumns(t *testing.T) {
	in := "scan_note,decision,experiment_note,scan_type,scan_id,nifti_folder,xnat_experiment_id\n" +
		"\"n\",,\"\",t1,3,/x,NCANDA_E1\n"
	tbl, err := ReadLegacyCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadLegacyCSV: %v", err)
	}
	if tbl.Columns[0] != miqa.ColExperimentID || tbl.Rows[0][0] != "NCANDA_E1" || tbl.Rows[0][5] != "0" {
		t.Fatalf("unexpected table %+v", tbl)
	}
}

func TestReadLegacyCSVErrors(t *testing.T) {
	cases := map[string]struct {
		in   string
		want error
	}{
		"empty":    {in: "", want: ErrEmptyInput},
		"columns":  {in: "a,b\n1,2\n", want: ErrColumnMismatch},
		"ragged":   {in: strings.Join(miqa.LegacyColumns(), ",") + "\nNCANDA_E1,/x\n", want: ErrRaggedRow},
		"decision": {in: strings.Join(miqa.LegacyColumns(), ",") + "\nNCANDA_E1,/x,1,t1,\"\",maybe,\"\"\n", want: miqa.ErrUnknownDecision},
		"latin-1":  {in: strings.Join(miqa.LegacyColumns(), ",") + "\nNCANDA_E1,/x,1,t1,\"\",1,\"KP(2022-10-20): caf\xe9 break\"\n", want: miqa.ErrInvalidText},
	}
	for name, tc := range cases {
		if _, err := ReadLegacyCSV(strings.NewReader(tc.in)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestWriteLegacyCSVReproducesFile(t *testing.T) {
	orig, err := os.ReadFile(filepath.Join("testdata", "sessions.csv"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	tbl, err := ReadLegacyCSV(bytes.NewReader(orig))
	if err != nil {
		t.Fatalf("ReadLegacyCSV: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteLegacyCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteLegacyCSV: %v", err)
	}
	if buf.String() != string(orig) {
		t.Fatalf("legacy csv round trip mismatch:\n%s", buf.String())
	}
}

func TestWriteLegacyCSVQuoting(t *testing.T) {
	tbl := miqa.Table{Columns: miqa.LegacyColumns(), Rows: [][]string{{"NCANDA_E1", "/a,b", "1", " t1", "", "0", `say "hi"`}}}
	var buf bytes.Buffer
	if err := WriteLegacyCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteLegacyCSV: %v", err)
	}
	want := strings.Join(miqa.LegacyColumns(), ",") + "\n" + `NCANDA_E1,"/a,b",1," t1","",0,"say ""hi"""` + "\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
	bad := miqa.Table{Columns: miqa.LegacyColumns(), Rows: [][]string{{"x"}}}
	if err := WriteLegacyCSV(&buf, bad); !errors.Is(err, ErrRaggedRow) {
		t.Fatalf("expected ragged row error, got %v", err)
	}
}

func TestRowsWithInvalidUTF8AreRejected(t *testing.T) {
	rows := miqa.RawRows{
		strings.Join(miqa.LegacyColumns(), ","),
		"NCANDA_E1,/x,1,t1,\"caf\xe9\",0,\"\"",
	}
	if _, err := ParseRawRows(rows); !errors.Is(err, miqa.ErrInvalidText) || !strings.Contains(err.Error(), "line 2 column 5") {
		t.Fatalf("ParseRawRows: expected invalid text at line 2 column 5, got %v", err)
	}
	if f, err := RowsToImportFile(rows); !errors.Is(err, miqa.ErrInvalidText) || !f.IsEmpty() {
		t.Fatalf("RowsToImportFile: expected invalid text, got %v", err)
	}
}
