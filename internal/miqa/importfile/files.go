package importfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"imagingqc/internal/blob"
	"imagingqc/internal/miqa/convert"
	"imagingqc/pkg/miqa"
)

const (
	jsonContentType = "application/json"
	csvContentType  = "text/csv"
)

// Files reads and writes import files and legacy session tables.
type Files struct {
	resolver Resolver
	log      *zap.Logger
}

// Option configures Files.
type Option func(*Files)

// WithLogger sets the logger used for absorbed data failures.
func WithLogger(l *zap.Logger) Option {
	return func(f *Files) {
		if l != nil {
			f.log = l
		}
	}
}

// New returns Files bound to r. A nil resolver means LocalResolver.
func New(r Resolver, opts ...Option) *Files {
	if r == nil {
		r = LocalResolver{}
	}
	f := &Files{resolver: r, log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Encode renders f in its canonical on-disk form.
func Encode(f miqa.ImportFile) ([]byte, error) { return miqa.Encode(f) }

// Read loads directory/fileName. Missing files and files that fail to parse
// or validate yield miqa.Empty() and a nil error.
func (f *Files) Read(ctx context.Context, fileName, directory string) (miqa.ImportFile, error) {
	out, err := f.Load(ctx, fileName, directory)
	switch {
	case err == nil:
		return out, nil
	case blob.IsNotFound(err):
		f.log.Warn("import file not found", zap.String("file", fileName), zap.String("directory", directory))
		return miqa.Empty(), nil
	case IsDataError(err):
		f.log.Warn("import file rejected", zap.String("file", fileName), zap.String("directory", directory), zap.Error(err))
		return miqa.Empty(), nil
	default:
		return miqa.Empty(), err
	}
}

// ErrRejected wraps parse, shape and validation failures returned by Load.
var ErrRejected = errors.New("import file rejected")

// IsDataError reports whether err came from the file's contents rather than
// from storage.
func IsDataError(err error) bool { return errors.Is(err, ErrRejected) }

// Load is Read without absorption: a missing file returns an error matching
// blob.IsNotFound and bad contents an error matching ErrRejected.
func (f *Files) Load(ctx context.Context, fileName, directory string) (miqa.ImportFile, error) {
	data, key, err := f.load(ctx, fileName, directory)
	if err != nil {
		return miqa.Empty(), err
	}
	out, err := miqa.Decode(data)
	if err != nil {
		return miqa.Empty(), fmt.Errorf("%w: %s: %w", ErrRejected, key, err)
	}
	f.log.Debug("import file read", zap.String("file", key), zap.Int("experiments", len(out.ExperimentIDs())), zap.Int("scans", out.Len()))
	return out, nil
}

// Write stores a converted payload at directory/fileName, replacing any
// previous file. It returns false without touching storage when p is raw
// rows, nil, or an import file that does not validate.
func (f *Files) Write(ctx context.Context, p miqa.Payload, fileName, directory string) (bool, error) {
	var file miqa.ImportFile
	switch v := p.(type) {
	case miqa.Converted:
		file = v.File
	case miqa.RawRows:
		f.log.Warn("refusing to write unconverted rows", zap.String("file", fileName), zap.Int("rows", len(v)))
		return false, nil
	default:
		f.log.Warn("refusing to write payload", zap.String("file", fileName), zap.String("type", fmt.Sprintf("%T", p)))
		return false, nil
	}
	if err := file.Validate(); err != nil {
		f.log.Warn("refusing to write invalid import file", zap.String("file", fileName), zap.Error(err))
		return false, nil
	}
	data, err := miqa.Encode(file)
	if err != nil {
		return false, fmt.Errorf("encode import file: %w", err)
	}
	key, err := f.replace(ctx, data, jsonContentType, fileName, directory)
	if err != nil {
		return false, err
	}
	f.log.Debug("import file written", zap.String("file", key), zap.Int("bytes", len(data)))
	return true, nil
}

// ReadLegacy loads a legacy check_new_sessions CSV.
func (f *Files) ReadLegacy(ctx context.Context, fileName, directory string) (miqa.Table, error) {
	data, _, err := f.load(ctx, fileName, directory)
	if err != nil {
		return miqa.Table{}, err
	}
	return convert.ReadLegacyCSV(bytes.NewReader(data))
}

// WriteLegacy stores t as a legacy CSV, replacing any previous file.
func (f *Files) WriteLegacy(ctx context.Context, t miqa.Table, fileName, directory string) error {
	var buf bytes.Buffer
	if err := convert.WriteLegacyCSV(&buf, t); err != nil {
		return err
	}
	_, err := f.replace(ctx, buf.Bytes(), csvContentType, fileName, directory)
	return err
}

// List returns the sorted names of the import files (*.json) stored
// directly in directory. Subdirectories are not descended into.
func (f *Files) List(ctx context.Context, directory string) ([]string, error) {
	st, prefix, err := f.resolver.Prefix(ctx, directory)
	if err != nil {
		return nil, err
	}
	infos, err := st.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", directory, err)
	}
	var names []string
	for _, info := range infos {
		name, ok := strings.CutPrefix(info.Key, prefix)
		if !ok || strings.Contains(name, "/") || path.Ext(name) != ".json" {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// URL returns a link to directory/fileName that stays valid for expiry.
// Stores that cannot sign links return an error matching
// blob.ErrUnsupported.
func (f *Files) URL(ctx context.Context, fileName, directory string, expiry time.Duration) (string, error) {
	st, key, err := f.resolver.Resolve(ctx, directory, fileName)
	if err != nil {
		return "", err
	}
	if _, err := st.Head(ctx, key); err != nil {
		return "", err
	}
	u, err := st.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", key, err)
	}
	return u, nil
}

func (f *Files) load(ctx context.Context, fileName, directory string) ([]byte, string, error) {
	st, key, err := f.resolver.Resolve(ctx, directory, fileName)
	if err != nil {
		return nil, key, err
	}
	_, rc, err := st.Get(ctx, key)
	if err != nil {
		return nil, key, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, key, fmt.Errorf("read %s: %w", key, err)
	}
	return data, key, nil
}

// replace removes any object at the target before creating the new one;
// stores are create-only.
func (f *Files) replace(ctx context.Context, data []byte, contentType, fileName, directory string) (string, error) {
	st, key, err := f.resolver.Resolve(ctx, directory, fileName)
	if err != nil {
		return key, err
	}
	if _, err := st.Delete(ctx, key); err != nil {
		return key, fmt.Errorf("remove previous %s: %w", key, err)
	}
	if _, err := st.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType}); err != nil {
		return key, fmt.Errorf("write %s: %w", key, err)
	}
	return key, nil
}
