// Package app composes import files, the QC ledger and observability into
// the operations exposed by the miqa-import command.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imagingqc/internal/blob"
	"imagingqc/internal/ledger"
	"imagingqc/internal/miqa/convert"
	"imagingqc/internal/miqa/importfile"
	"imagingqc/internal/observability"
	"imagingqc/pkg/miqa"
)

// Operation names reported to metrics and traces.
const (
	OpConvert = "convert"
	OpExport  = "export"
	OpCheck   = "check"
	OpCompare = "compare"
	OpQueue   = "queue"
	OpCollect = "collect"
	OpLink    = "link"
)

var (
	// ErrNoLedger is returned by ledger operations on a service built without one.
	ErrNoLedger = errors.New("no ledger configured")
	// ErrNotWritten reports that the writer declined a converted import file.
	ErrNotWritten = errors.New("import file not written")
)

// Location names a file through the import-file resolver.
type Location struct {
	Directory string
	FileName  string
}

func (l Location) String() string {
	if l.Directory == "" {
		return l.FileName
	}
	return l.Directory + "/" + l.FileName
}

// Service runs import-file operations.
type Service struct {
	files   *importfile.Files
	ledger  ledger.Store
	metrics observability.MetricsRecorder
	tracer  observability.Tracer
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLedger(st ledger.Store) Option { return func(s *Service) { s.ledger = st } }

func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock used to time operations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a service over files. A nil files value reads and writes plain
// directories.
func New(files *importfile.Files, opts ...Option) *Service {
	if files == nil {
		files = importfile.New(nil)
	}
	s := &Service{
		files:   files,
		metrics: observability.NopRecorder{},
		tracer:  observability.NopTracer{},
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe runs fn inside a span and records its outcome.
func (s *Service) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	elapsed := s.now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.log.Error("operation failed", zap.String("operation", op), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		s.log.Debug("operation finished", zap.String("operation", op), zap.Duration("elapsed", elapsed))
	}
	return err
}

// ConvertResult describes a written import file.
type ConvertResult struct {
	Experiments int
	Scans       int
}

func summarize(f miqa.ImportFile) ConvertResult {
	return ConvertResult{Experiments: len(f.ExperimentIDs()), Scans: f.Len()}
}

// ConvertLegacy reads a legacy CSV at src and writes it as an import file
// at dst.
func (s *Service) ConvertLegacy(ctx context.Context, src, dst Location) (ConvertResult, error) {
	var res ConvertResult
	err := s.observe(ctx, OpConvert, func(ctx context.Context) error {
		table, err := s.files.ReadLegacy(ctx, src.FileName, src.Directory)
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		f, err := convert.TableToImportFile(table)
		if err != nil {
			return fmt.Errorf("convert %s: %w", src, err)
		}
		if err := s.write(ctx, f, dst); err != nil {
			return err
		}
		res = summarize(f)
		return nil
	})
	return res, err
}

// ConvertRows converts unparsed legacy lines, header first, and writes the
// result at dst.
func (s *Service) ConvertRows(ctx context.Context, rows miqa.RawRows, dst Location) (ConvertResult, error) {
	var res ConvertResult
	err := s.observe(ctx, OpConvert, func(ctx context.Context) error {
		f, err := convert.RowsToImportFile(rows)
		if err != nil {
			return fmt.Errorf("convert rows: %w", err)
		}
		if err := s.write(ctx, f, dst); err != nil {
			return err
		}
		res = summarize(f)
		return nil
	})
	return res, err
}

func (s *Service) write(ctx context.Context, f miqa.ImportFile, dst Location) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotWritten, dst, err)
	}
	ok, err := s.files.Write(ctx, miqa.Converted{File: f}, dst.FileName, dst.Directory)
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWritten, dst)
	}
	return nil
}

// ExportLegacy flattens the import file at src into a legacy CSV at dst and
// returns the number of rows written. A missing or rejected import file is
// an error.
func (s *Service) ExportLegacy(ctx context.Context, src, dst Location) (int, error) {
	var rows int
	err := s.observe(ctx, OpExport, func(ctx context.Context) error {
		f, err := s.files.Load(ctx, src.FileName, src.Directory)
		if err != nil {
			return err
		}
		table := convert.ImportFileToTable(f)
		if err := s.files.WriteLegacy(ctx, table, dst.FileName, dst.Directory); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		rows = table.Len()
		return nil
	})
	return rows, err
}

// CheckReport summarizes an import file.
type CheckReport struct {
	Location    Location
	Valid       bool
	Problem     string
	Experiments int
	Scans       int
	Decisions   map[miqa.Decision]int
	Sites       map[string]int
}

// Check loads and validates the import file at src. Data problems are
// reported in the CheckReport; only storage faults are returned as errors.
func (s *Service) Check(ctx context.Context, src Location) (CheckReport, error) {
	rep := CheckReport{Location: src}
	err := s.observe(ctx, OpCheck, func(ctx context.Context) error {
		f, err := s.files.Load(ctx, src.FileName, src.Directory)
		if err != nil {
			if importfile.IsDataError(err) || blob.IsNotFound(err) {
				rep.Problem = err.Error()
				return nil
			}
			return err
		}
		rep.Valid = true
		rep.Experiments = len(f.ExperimentIDs())
		rep.Scans = f.Len()
		rep.Decisions = make(map[miqa.Decision]int)
		rep.Sites = make(map[string]int)
		for _, r := range f.Records() {
			rep.Decisions[r.Decision]++
			rep.Sites[miqa.SiteFromFolder(r.NiftiFolder)]++
		}
		return nil
	})
	return rep, err
}

// CheckAll checks every import file stored directly in directory, in name
// order. An empty directory yields no reports.
func (s *Service) CheckAll(ctx context.Context, directory string) ([]CheckReport, error) {
	names, err := s.files.List(ctx, directory)
	if err != nil {
		return nil, err
	}
	reps := make([]CheckReport, 0, len(names))
	for _, name := range names {
		rep, err := s.Check(ctx, Location{Directory: directory, FileName: name})
		if err != nil {
			return reps, err
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

// Link returns a URL reviewers can fetch the file at loc from, valid for
// expiry.
func (s *Service) Link(ctx context.Context, loc Location, expiry time.Duration) (string, error) {
	var u string
	err := s.observe(ctx, OpLink, func(ctx context.Context) error {
		var err error
		u, err = s.files.URL(ctx, loc.FileName, loc.Directory, expiry)
		return err
	})
	return u, err
}

// CompareReport is the outcome of comparing a legacy CSV with an import file.
type CompareReport struct {
	LegacyRows  int
	ImportRows  int
	Differences []convert.Difference
}

// Equivalent reports whether both projections matched cell for cell.
func (r CompareReport) Equivalent() bool { return len(r.Differences) == 0 }

// Compare projects the legacy CSV at legacy and the import file at imported
// into the legacy table layout and diffs them after sorting on every column.
func (s *Service) Compare(ctx context.Context, legacy, imported Location) (CompareReport, error) {
	var rep CompareReport
	err := s.observe(ctx, OpCompare, func(ctx context.Context) error {
		left, err := s.files.ReadLegacy(ctx, legacy.FileName, legacy.Directory)
		if err != nil {
			return fmt.Errorf("read %s: %w", legacy, err)
		}
		f, err := s.files.Load(ctx, imported.FileName, imported.Directory)
		if err != nil {
			return err
		}
		right := convert.ImportFileToTable(f)
		diffs, err := convert.Compare(left, right)
		if err != nil {
			return err
		}
		rep = CompareReport{LegacyRows: left.Len(), ImportRows: right.Len(), Differences: diffs}
		return nil
	})
	return rep, err
}

// QueueResult describes a Queue run.
type QueueResult struct {
	Candidates int
	Pending    ConvertResult
	Batch      ledger.Batch
	Written    bool
}

// Queue reads the candidate sessions in the legacy CSV at src, keeps the
// scans the ledger has not seen, writes them as an import file at dst and
// records them under a new batch. Nothing is written when every scan is
// already queued.
func (s *Service) Queue(ctx context.Context, src, dst Location) (QueueResult, error) {
	var res QueueResult
	err := s.observe(ctx, OpQueue, func(ctx context.Context) error {
		if s.ledger == nil {
			return ErrNoLedger
		}
		table, err := s.files.ReadLegacy(ctx, src.FileName, src.Directory)
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		all, err := convert.TableToImportFile(table)
		if err != nil {
			return fmt.Errorf("convert %s: %w", src, err)
		}
		res.Candidates = all.Len()
		pending, err := ledger.Pending(ctx, s.ledger, all)
		if err != nil {
			return err
		}
		if pending.IsEmpty() {
			s.log.Info("no new sessions to queue", zap.Stringer("source", src), zap.Int("candidates", res.Candidates))
			return nil
		}
		if err := s.write(ctx, pending, dst); err != nil {
			return err
		}
		res.Written = true
		res.Pending = summarize(pending)
		queued, err := ledger.Enqueue(ctx, s.ledger, pending, dst.String())
		if err != nil {
			return err
		}
		res.Batch = queued.Batch
		s.log.Info("sessions queued", zap.String("batch", queued.Batch.ID), zap.Int("scans", len(queued.Entries)), zap.Stringer("file", dst))
		return nil
	})
	return res, err
}

// Collect copies decisions from the reviewed import file at src into the
// ledger.
func (s *Service) Collect(ctx context.Context, src Location) (ledger.DecisionSummary, error) {
	var sum ledger.DecisionSummary
	err := s.observe(ctx, OpCollect, func(ctx context.Context) error {
		if s.ledger == nil {
			return ErrNoLedger
		}
		f, err := s.files.Load(ctx, src.FileName, src.Directory)
		if err != nil {
			return err
		}
		sum, err = ledger.RecordDecisions(ctx, s.ledger, f)
		return err
	})
	return sum, err
}

// Entries lists the ledger.
func (s *Service) Entries(ctx context.Context) ([]ledger.Entry, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return ledger.Entries(ctx, s.ledger)
}
