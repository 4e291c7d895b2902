package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/franksops/paperup/gate"
	"github.com/franksops/paperup/provider"
)

// Uploader sends bytes to the device.
type Uploader interface {
	Upload(ctx context.Context, dest string, r io.Reader, size int64) error
}

// Binder routes upload traffic to the device network before a transfer.
type Binder interface {
	BindTraffic(ctx context.Context) error
}

// Executor drives one queued task to a terminal state.
type Executor struct {
	store    *TaskStore
	source   provider.Source
	device   Uploader
	binder   Binder
	buffers  *BufferPool
	progress ProgressConfig
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBinder binds traffic through b before each upload.
func WithBinder(b Binder) ExecutorOption {
	return func(e *Executor) {
		e.binder = b
	}
}

// WithProgressConfig sets the progress cadence.
func WithProgressConfig(c ProgressConfig) ExecutorOption {
	return func(e *Executor) {
		e.progress = c
	}
}

// WithBufferPool sets the pool used for chunked reads.
func WithBufferPool(p *BufferPool) ExecutorOption {
	return func(e *Executor) {
		e.buffers = p
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an Executor that reads from source and uploads to device.
func NewExecutor(store *TaskStore, source provider.Source, device Uploader, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    store,
		source:   source,
		device:   device,
		progress: DefaultProgressConfig,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.buffers == nil {
		e.buffers = NewBufferPool(DefaultBufferSize)
	}
	return e
}

// Run transfers the task with the given id. It returns nil for a completed
// upload, ErrCancelled for a cancelled one, ErrTaskFinished when the task was
// no longer queued and a *TransferError when the upload failed. The stored
// task reflects the outcome in every case.
func (e *Executor) Run(ctx context.Context, id string) error {
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	if err := e.store.Begin(id, abort); err != nil {
		e.logger.Debug("skipping task", "task", id, "error", err)
		return err
	}
	task, _ := e.store.Get(id)
	log := e.logger.With("task", id, "file", task.FileName, "target", task.TargetPath)
	log.Info("upload started")

	checksum, err := e.transfer(runCtx, task)
	switch {
	case err == nil:
		if err := e.store.Update(id, func(t *Task) {
			t.Status = StatusCompleted
			t.Progress = NewProgress(t.Progress.TotalBytes, t.Progress.TotalBytes, 0)
			t.Checksum = checksum
		}); err != nil && !IsRecoverable(err) {
			return err
		}
		if t, _ := e.store.Get(id); t.Status == StatusCancelled {
			log.Info("upload finished after cancel")
			return ErrCancelled
		}
		log.Info("upload completed", "checksum", fmt.Sprintf("%016x", checksum))
		return nil

	case e.cancelled(id) || (errors.Is(err, context.Canceled) && ctx.Err() == nil):
		e.settle(id, StatusCancelled, nil)
		log.Info("upload cancelled")
		return ErrCancelled

	default:
		if ctx.Err() != nil {
			// Shutdown of the worker, not a user cancel.
			err = &TransferError{Op: "upload", Err: ctx.Err()}
		}
		e.settle(id, StatusFailed, err)
		log.Warn("upload failed", "error", err)
		return err
	}
}

func (e *Executor) cancelled(id string) bool {
	t, ok := e.store.Get(id)
	return ok && t.Status == StatusCancelled
}

func (e *Executor) settle(id string, status Status, cause error) {
	if err := e.store.Finish(id, status, cause); err != nil && !IsRecoverable(err) {
		e.logger.Warn("failed to settle task", "task", id, "error", err)
	}
}

func (e *Executor) transfer(ctx context.Context, task Task) (uint64, error) {
	if e.binder != nil {
		if err := e.binder.BindTraffic(ctx); err != nil {
			if !errors.Is(err, gate.ErrConnectivityUnavailable) {
				err = fmt.Errorf("%w: %v", gate.ErrConnectivityUnavailable, err)
			}
			return 0, &TransferError{Op: "bind", Err: err}
		}
	}

	src, info, err := e.source.Open(ctx, task.Source)
	if err != nil {
		return 0, &TransferError{Op: "open source", Err: err}
	}
	defer src.Close()

	total := int64(-1)
	if info != nil && info.Size() >= 0 {
		total = info.Size()
		if err := e.store.Update(task.ID, func(t *Task) {
			t.Progress = NewProgress(0, total, 0)
		}); err != nil {
			if errors.Is(err, ErrTaskFinished) {
				return 0, context.Canceled
			}
			return 0, err
		}
	}

	sumReader := NewChecksumReader(src)
	tracked := NewTrackedReader(ctx, sumReader, max(total, 0), e.progress, func(p Progress) {
		if err := e.store.Update(task.ID, func(t *Task) {
			t.Progress = p
		}); err != nil && !IsRecoverable(err) {
			e.logger.Warn("failed to publish progress", "task", task.ID, "error", err)
		}
	})

	// The copier owns the pooled buffer until it exits, so the buffer is
	// never returned while the transport may still read from it.
	pr, pw := io.Pipe()
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		buf := e.buffers.Get()
		defer e.buffers.Put(buf)
		_, err := io.CopyBuffer(pw, tracked, *buf)
		pw.CloseWithError(err)
	}()

	err = e.device.Upload(ctx, task.TargetPath, pr, total)
	pr.CloseWithError(io.ErrClosedPipe)
	<-copyDone
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &TransferError{Op: "upload", Err: err}
	}

	sent := tracked.BytesRead()
	if err := e.store.Update(task.ID, func(t *Task) {
		total := t.Progress.TotalBytes
		if total <= 0 {
			total = sent
		}
		t.Progress = NewProgress(sent, total, 0)
	}); err != nil && !IsRecoverable(err) {
		return 0, err
	}
	return sumReader.Checksum(), nil
}
