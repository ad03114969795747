package importfile

import (
	"context"
	"fmt"
	"path"
	"strings"

	"imagingqc/internal/blob"
)

// Resolver maps a (directory, file name) pair onto a store and key.
type Resolver interface {
	Resolve(ctx context.Context, directory, fileName string) (blob.Store, string, error)
	// Prefix returns the store holding directory and the key prefix its
	// files share.
	Prefix(ctx context.Context, directory string) (blob.Store, string, error)
}

// LocalResolver treats directory as a path on the local filesystem. Files
// land in it under their plain names with no metadata sidecars.
type LocalResolver struct{}

func (LocalResolver) Resolve(_ context.Context, directory, fileName string) (blob.Store, string, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, "", fmt.Errorf("importfile: empty file name")
	}
	if directory == "" {
		directory = "."
	}
	st, err := blob.NewDirectory(directory)
	if err != nil {
		return nil, "", err
	}
	return st, fileName, nil
}

func (LocalResolver) Prefix(_ context.Context, directory string) (blob.Store, string, error) {
	if directory == "" {
		directory = "."
	}
	st, err := blob.NewDirectory(directory)
	if err != nil {
		return nil, "", err
	}
	return st, "", nil
}

// StoreResolver places every file in one shared store under the key
// directory/fileName.
type StoreResolver struct {
	Store blob.Store
}

func (r StoreResolver) Resolve(_ context.Context, directory, fileName string) (blob.Store, string, error) {
	if r.Store == nil {
		return nil, "", fmt.Errorf("importfile: store resolver has no store")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, "", fmt.Errorf("importfile: empty file name")
	}
	key := strings.TrimPrefix(path.Join(directory, fileName), "/")
	return r.Store, key, nil
}

func (r StoreResolver) Prefix(_ context.Context, directory string) (blob.Store, string, error) {
	if r.Store == nil {
		return nil, "", fmt.Errorf("importfile: store resolver has no store")
	}
	prefix := strings.Trim(path.Clean("/"+directory), "/")
	if prefix != "" {
		prefix += "/"
	}
	return r.Store, prefix, nil
}
