package importfile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"imagingqc/internal/blob"
	"imagingqc/internal/miqa/convert"
	"imagingqc/pkg/miqa"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return b
}

// stage copies fixtures into a fresh directory and returns it.
func stage(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), fixture(t, n), 0o644); err != nil {
			t.Fatalf("stage %s: %v", n, err)
		}
	}
	return dir
}

func rawRows(t *testing.T, name string) miqa.RawRows {
	t.Helper()
	return miqa.RawRows(strings.Split(strings.TrimRight(string(fixture(t, name)), "\n"), "\n"))
}

func TestReadWriteRoundTripIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"sessions.json", "sessions_2.json"} {
		t.Run(name, func(t *testing.T) {
			dir := stage(t, name)
			files := New(LocalResolver{})
			f, err := files.Read(ctx, name, dir)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if f.IsEmpty() {
				t.Fatalf("expected populated import file")
			}
			ok, err := files.Write(ctx, miqa.Converted{File: f}, "copy.json", dir)
			if err != nil || !ok {
				t.Fatalf("write: %v %v", ok, err)
			}
			got, err := os.ReadFile(filepath.Join(dir, "copy.json"))
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if diff := cmp.Diff(string(fixture(t, name)), string(got)); diff != "" {
				t.Fatalf("round trip changed bytes (-want +got):\n%s", diff)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 2 {
				t.Fatalf("expected only the two json files, got %d entries", len(entries))
			}
		})
	}
}

func TestReadAbsorbsDataFailures(t *testing.T) {
	ctx := context.Background()
	dir := stage(t, "sessions_bad.json")
	invalid := `{"NCANDA_11640": [{"nifti_folder": "", "scan_id": "2", "scan_type": "", "experiment_note": "", "decision": 0, "scan_note": ""}]}`
	if err := os.WriteFile(filepath.Join(dir, "bad_id.json"), []byte(invalid), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "list.json"), []byte(`[1, 2]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	files := New(LocalResolver{}, WithLogger(zap.New(core)))
	cases := []struct{ file, dir string }{
		{"sessions_bad.json", dir},
		{"bad_id.json", dir},
		{"list.json", dir},
		{"missing.json", dir},
		{"sessions.json", filepath.Join(dir, "no-such-dir")},
	}
	for _, c := range cases {
		f, err := files.Read(ctx, c.file, c.dir)
		if err != nil {
			t.Fatalf("%s: expected absorbed failure, got %v", c.file, err)
		}
		if !f.IsEmpty() || f.Len() != 0 {
			t.Fatalf("%s: expected empty import file", c.file)
		}
	}
	if logs.Len() != len(cases) {
		t.Fatalf("expected one warning per failure, got %d", logs.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "no-such-dir")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read must not create directories")
	}
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string, string) (blob.Store, string, error) {
	return nil, "", r.err
}

func (r failingResolver) Prefix(context.Context, string) (blob.Store, string, error) {
	return nil, "", r.err
}

func TestOperationalErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("transport down")
	files := New(failingResolver{err: boom})
	if f, err := files.Read(ctx, "sessions.json", "x"); !errors.Is(err, boom) || !f.IsEmpty() {
		t.Fatalf("expected resolver error, got %v", err)
	}
	f := miqa.NewImportFile([]miqa.Experiment{{ID: "NCANDA_E1", Scans: []miqa.ScanRecord{{ScanID: "1"}}}})
	if ok, err := files.Write(ctx, miqa.Converted{File: f}, "out.json", "x"); ok || !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v %v", ok, err)
	}
	if _, err := New(LocalResolver{}).Read(ctx, "", t.TempDir()); err == nil {
		t.Fatalf("expected empty file name error")
	}
}

func TestWriteRejectsRawRows(t *testing.T) {
	ctx := context.Background()
	dir := stage(t, "sessions.json")
	files := New(nil)
	rows := rawRows(t, "sessions.csv")

	ok, err := files.Write(ctx, rows, "new.json", dir)
	if err != nil || ok {
		t.Fatalf("expected false without error, got %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("raw rows must not create a file")
	}
	ok, err = files.Write(ctx, rows, "sessions.json", dir)
	if err != nil || ok {
		t.Fatalf("expected false over existing file, got %v %v", ok, err)
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "sessions.json")); !bytes.Equal(got, fixture(t, "sessions.json")) {
		t.Fatalf("existing file must be untouched")
	}
	if ok, _ := files.Write(ctx, nil, "nil.json", dir); ok {
		t.Fatalf("nil payload must not be written")
	}
}

func TestWriteRejectsInvalidImportFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bad := miqa.GroupRecords([]miqa.ScanRecord{{ExperimentID: "not-an-experiment", ScanID: "1"}})
	ok, err := New(LocalResolver{}).Write(ctx, miqa.Converted{File: bad}, "bad.json", dir)
	if err != nil || ok {
		t.Fatalf("expected false, got %v %v", ok, err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("nothing should be written")
	}
}

func TestWriteConvertedRowsReadsBackEqual(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := New(LocalResolver{})
	converted, err := convert.RowsToImportFile(rawRows(t, "sessions.csv"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	ok, err := files.Write(ctx, miqa.Converted{File: converted}, "sessions.json", dir)
	if err != nil || !ok {
		t.Fatalf("write: %v %v", ok, err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, "sessions.json"))
	back, err := files.Read(ctx, "sessions.json", dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(converted.Experiments(), back.Experiments()); diff != "" {
		t.Fatalf("read back differs (-want +got):\n%s", diff)
	}
	// overwrite with the same input
	if ok, err := files.Write(ctx, miqa.Converted{File: back}, "sessions.json", dir); err != nil || !ok {
		t.Fatalf("rewrite: %v %v", ok, err)
	}
	second, _ := os.ReadFile(filepath.Join(dir, "sessions.json"))
	if !bytes.Equal(first, second) {
		t.Fatalf("same input must give identical bytes")
	}
	if !convert.Equivalent(convert.ImportFileToTable(back), mustLegacy(t, "sessions.csv")) {
		t.Fatalf("written file not equivalent to the legacy csv")
	}
}

func mustLegacy(t *testing.T, name string) miqa.Table {
	t.Helper()
	tbl, err := convert.ReadLegacyCSV(bytes.NewReader(fixture(t, name)))
	if err != nil {
		t.Fatalf("legacy %s: %v", name, err)
	}
	return tbl
}

func TestWriteEmptyImportFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := New(LocalResolver{})
	ok, err := files.Write(ctx, miqa.Converted{File: miqa.Empty()}, "empty.json", dir)
	if err != nil || !ok {
		t.Fatalf("write: %v %v", ok, err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "empty.json"))
	if string(got) != "{}\n" {
		t.Fatalf("unexpected empty encoding %q", got)
	}
	f, err := files.Read(ctx, "empty.json", dir)
	if err != nil || !f.IsEmpty() {
		t.Fatalf("expected empty read back: %v", err)
	}
}

func TestStoreResolverAcrossDrivers(t *testing.T) {
	ctx := context.Background()
	stores := map[string]blob.Store{
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests("qc"),
	}
	want := fixture(t, "sessions_2.json")
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			files := New(StoreResolver{Store: st})
			src, err := miqa.Decode(want)
			if err != nil {
				t.Fatalf("decode fixture: %v", err)
			}
			for i := 0; i < 2; i++ {
				if ok, err := files.Write(ctx, miqa.Converted{File: src}, "sessions.json", "/ucsd/2022"); err != nil || !ok {
					t.Fatalf("write %d: %v %v", i, ok, err)
				}
			}
			info, rc, err := st.Get(ctx, "ucsd/2022/sessions.json")
			if err != nil {
				t.Fatalf("get raw: %v", err)
			}
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(rc)
			_ = rc.Close()
			if !bytes.Equal(buf.Bytes(), want) || info.Size != int64(len(want)) {
				t.Fatalf("stored bytes differ")
			}
			got, err := files.Read(ctx, "sessions.json", "ucsd/2022")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if diff := cmp.Diff(src.Experiments(), got.Experiments()); diff != "" {
				t.Fatalf("read back differs:\n%s", diff)
			}
			if f, err := files.Read(ctx, "other.json", "ucsd/2022"); err != nil || !f.IsEmpty() {
				t.Fatalf("expected empty for missing key: %v", err)
			}
		})
	}
	if _, _, err := (StoreResolver{}).Resolve(ctx, "a", "b"); err == nil {
		t.Fatalf("expected error for resolver without store")
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := stage(t, "sessions.csv")
	files := New(LocalResolver{})
	tbl, err := files.ReadLegacy(ctx, "sessions.csv", dir)
	if err != nil {
		t.Fatalf("read legacy: %v", err)
	}
	if err := files.WriteLegacy(ctx, tbl, "export.csv", dir); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "export.csv"))
	if diff := cmp.Diff(string(fixture(t, "sessions.csv")), string(got)); diff != "" {
		t.Fatalf("legacy round trip differs:\n%s", diff)
	}
	if _, err := files.ReadLegacy(ctx, "missing.csv", dir); !blob.IsNotFound(err) {
		t.Fatalf("expected not found for missing legacy file, got %v", err)
	}
}

func TestEncodeMatchesFixture(t *testing.T) {
	src, err := miqa.Decode(fixture(t, "sessions.json"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(got, fixture(t, "sessions.json")) {
		t.Fatalf("encode is not canonical")
	}
}

func TestLoadReportsReason(t *testing.T) {
	ctx := context.Background()
	dir := stage(t, "sessions.json", "sessions_bad.json")
	files := New(nil)

	if f, err := files.Load(ctx, "sessions.json", dir); err != nil || f.IsEmpty() {
		t.Fatalf("Load good file: %v", err)
	}
	_, err := files.Load(ctx, "sessions_bad.json", dir)
	if !IsDataError(err) || blob.IsNotFound(err) {
		t.Fatalf("expected data error, got %v", err)
	}
	_, err = files.Load(ctx, "missing.json", dir)
	if !blob.IsNotFound(err) || IsDataError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFindsImportFiles(t *testing.T) {
	ctx := context.Background()
	dir := stage(t, "sessions.json", "sessions_2.json", "sessions.csv")
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "deep.json"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write nested: %v", err)
	}
	names, err := New(LocalResolver{}).List(ctx, dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"sessions.json", "sessions_2.json"}, names); diff != "" {
		t.Fatalf("local names (-want +got):\n%s", diff)
	}

	f, err := miqa.Decode(fixture(t, "sessions_2.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	for name, st := range map[string]blob.Store{"memory": blob.NewMemory(), "s3": blob.NewMockS3ForTests("qc")} {
		t.Run(name, func(t *testing.T) {
			files := New(StoreResolver{Store: st})
			for _, loc := range [][2]string{{"ucsd/2022", "b.json"}, {"ucsd/2022", "a.json"}, {"ucsd/2022/old", "c.json"}, {"ucsd/20221", "d.json"}} {
				if ok, err := files.Write(ctx, miqa.Converted{File: f}, loc[1], loc[0]); err != nil || !ok {
					t.Fatalf("write %v: %v %v", loc, ok, err)
				}
			}
			got, err := files.List(ctx, "/ucsd/2022/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff([]string{"a.json", "b.json"}, got); diff != "" {
				t.Fatalf("store names (-want +got):\n%s", diff)
			}
		})
	}
	if _, err := New(failingResolver{err: errors.New("down")}).List(ctx, dir); err == nil {
		t.Fatalf("expected resolver error")
	}
}

func TestURLSignsStoredFiles(t *testing.T) {
	ctx := context.Background()
	f, err := miqa.Decode(fixture(t, "sessions_2.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	s3files := New(StoreResolver{Store: blob.NewMockS3ForTests("qc")})
	if ok, err := s3files.Write(ctx, miqa.Converted{File: f}, "sessions.json", "ucsd"); err != nil || !ok {
		t.Fatalf("write: %v %v", ok, err)
	}
	u, err := s3files.URL(ctx, "sessions.json", "ucsd", time.Minute)
	if err != nil || !strings.Contains(u, "qc/ucsd/sessions.json") {
		t.Fatalf("signed url = %q, %v", u, err)
	}
	if _, err := s3files.URL(ctx, "missing.json", "ucsd", time.Minute); !blob.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	memfiles := New(StoreResolver{Store: blob.NewMemory()})
	if ok, err := memfiles.Write(ctx, miqa.Converted{File: f}, "sessions.json", "ucsd"); err != nil || !ok {
		t.Fatalf("write: %v %v", ok, err)
	}
	if _, err := memfiles.URL(ctx, "sessions.json", "ucsd", time.Minute); !errors.Is(err, blob.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	dir := stage(t, "sessions.json")
	u, err = New(LocalResolver{}).URL(ctx, "sessions.json", dir, time.Minute)
	if err != nil || !strings.HasSuffix(u, "/sessions.json") {
		t.Fatalf("local url = %q, %v", u, err)
	}
}
