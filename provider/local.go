package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ensure interface is implemented
var _ Source = (*LocalSource)(nil)

// LocalSource reads upload content from the local filesystem.
type LocalSource struct {
	basePath string
}

// NewLocalSource creates a new LocalSource rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalSource(basePath string) *LocalSource {
	return &LocalSource{basePath: basePath}
}

func (p *LocalSource) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

func wrapOSFileInfo(info os.FileInfo) FileInfo {
	return NewFileInfo(info.Name(), info.Size(), info.IsDir(), info.ModTime())
}

// Stat returns the FileInfo for the given path.
func (p *LocalSource) Stat(ctx context.Context, path string) (FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return wrapOSFileInfo(info), nil
}

// List returns the contents of the given directory.
func (p *LocalSource) List(ctx context.Context, path string) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(p.resolve(path))
	if err != nil {
		return nil, err
	}

	var infos []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		infos = append(infos, wrapOSFileInfo(info))
	}
	return infos, nil
}

// Open opens a regular file for streaming reads.
func (p *LocalSource) Open(ctx context.Context, path string) (io.ReadCloser, FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	f, err := os.Open(p.resolve(path))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory", path)
	}
	return f, wrapOSFileInfo(info), nil
}
