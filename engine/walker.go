package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/franksops/paperup/provider"
)

// Lister is the part of a local source the walker needs.
type Lister interface {
	Stat(ctx context.Context, path string) (provider.FileInfo, error)
	List(ctx context.Context, path string) ([]provider.FileInfo, error)
}

// SubmitFunc receives each task produced by a walk.
type SubmitFunc func(ctx context.Context, task Task) error

// Walker expands a local file or directory into upload tasks. It walks
// iteratively so deep trees cannot overflow the stack.
type Walker struct {
	Source Lister
	Submit SubmitFunc

	// MakeDir, when set, is called for every target directory below the
	// root before the files inside it are submitted.
	MakeDir func(ctx context.Context, dir string) error
}

// NewWalker creates a new iterative directory walker.
func NewWalker(src Lister, submit SubmitFunc) *Walker {
	return &Walker{
		Source: src,
		Submit: submit,
	}
}

// Walk submits one task per regular file under sourcePath. A single file is
// uploaded into targetDir under its own name; a directory keeps its relative
// layout below targetDir. It returns the number of submitted tasks.
func (w *Walker) Walk(ctx context.Context, sourcePath string, targetDir string) (int, error) {
	stat, err := w.Source.Stat(ctx, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source %s: %w", sourcePath, err)
	}

	if !stat.IsDir() {
		task := NewTask(sourcePath, path.Join(targetDir, stat.Name()), stat.Name())
		task.Progress = NewProgress(0, stat.Size(), 0)
		if err := w.Submit(ctx, task); err != nil {
			return 0, err
		}
		return 1, nil
	}

	submitted := 0
	stack := []string{""}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return submitted, ctx.Err()
		default:
		}

		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dir := sourcePath
		if rel != "" {
			dir = filepath.Join(sourcePath, rel)
		}

		if rel != "" && w.MakeDir != nil {
			target := path.Join(targetDir, filepath.ToSlash(rel))
			if err := w.MakeDir(ctx, target); err != nil {
				return submitted, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		}

		entries, err := w.Source.List(ctx, dir)
		if err != nil {
			return submitted, fmt.Errorf("failed to list directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			entryRel := entry.Name()
			if rel != "" {
				entryRel = filepath.Join(rel, entry.Name())
			}

			if entry.IsDir() {
				stack = append(stack, entryRel)
				continue
			}

			task := NewTask(
				filepath.Join(sourcePath, entryRel),
				path.Join(targetDir, filepath.ToSlash(entryRel)),
				entry.Name(),
			)
			task.Progress = NewProgress(0, entry.Size(), 0)
			if err := w.Submit(ctx, task); err != nil {
				return submitted, err
			}
			submitted++
		}
	}

	return submitted, nil
}
