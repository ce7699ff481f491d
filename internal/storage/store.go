package storage

import "io"

// FileStore keeps archived blobs such as verification reports.
type FileStore interface {
	Save(name string, reader io.Reader) (path string, size int64, err error)
	Open(path string) (io.ReadCloser, error)
	// Latest returns the path of the greatest saved name starting with prefix,
	// or an error wrapping fs.ErrNotExist when there is none.
	Latest(prefix string) (path string, err error)
}
