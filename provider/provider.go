package provider

import (
	"context"
	"io"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory
// across the sources and the device.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Source is where upload content comes from.
type Source interface {
	// Open opens ref for streaming reads and returns its metadata.
	Open(ctx context.Context, ref string) (io.ReadCloser, FileInfo, error)
}

// Device is the file-manager API of the e-paper device.
type Device interface {
	// List returns the entries of dir, directories first, then by name.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Status returns the device storage usage.
	Status(ctx context.Context) (Usage, error)

	// Mkdir creates a folder.
	Mkdir(ctx context.Context, path string) error

	// Rename moves src to dst.
	Rename(ctx context.Context, src, dst string) error

	// Delete removes a file or folder.
	Delete(ctx context.Context, path string) error

	// Upload streams size bytes from r to dest. A negative size sends the
	// body without a length.
	Upload(ctx context.Context, dest string, r io.Reader, size int64) error
}

type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) IsDir() bool        { return f.isDir }
func (f *fileInfo) ModTime() time.Time { return f.modTime }

// NewFileInfo creates a FileInfo from raw values.
func NewFileInfo(name string, size int64, isDir bool, modTime time.Time) FileInfo {
	return &fileInfo{name: name, size: size, isDir: isDir, modTime: modTime}
}
