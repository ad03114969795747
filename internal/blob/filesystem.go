package blob

import (
	"imagingqc/internal/infra/blob/fs"
)

// NewFilesystem constructs a managed filesystem store rooted at root,
// creating the directory and keeping metadata sidecars next to each blob.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewDirectory exposes a plain directory as a Store. Nothing but the blobs
// themselves is written and the directory is only created on first Put, so
// reading from a missing directory reports not found rather than failing.
func NewDirectory(dir string) (Store, error) {
	return fs.OpenDirectory(dir)
}
