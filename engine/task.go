package engine

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateID is returned when a task is enqueued with an id already in the store.
	ErrDuplicateID = errors.New("duplicate task id")

	// ErrTaskNotFound is returned when an id is no longer in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskFinished is returned when a task has already reached a terminal state
	// (or, for Begin, is no longer queued).
	ErrTaskFinished = errors.New("task already finished")

	// ErrTaskActive is returned when dismissing a task that has not settled yet.
	ErrTaskActive = errors.New("task still active")

	// ErrInvalidTask is returned for tasks missing an id, source or target path.
	ErrInvalidTask = errors.New("invalid task")

	// ErrCancelled marks a transfer aborted by a cancel request.
	ErrCancelled = errors.New("cancelled by user")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusUploading Status = "UPLOADING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a single file upload and its lifecycle state.
type Task struct {
	ID string `json:"id"`

	// Source references the local content, a file path or an s3://bucket/key URI.
	Source string `json:"source"`

	// FileName is the display name.
	FileName string `json:"file_name"`

	// TargetPath is the destination path on the device filesystem.
	TargetPath string `json:"target_path"`

	Status   Status   `json:"status"`
	Progress Progress `json:"progress"`

	// Error is set only when Status is StatusFailed.
	Error string `json:"error,omitempty"`

	// Checksum is the CRC64 of the bytes sent, set on completion.
	Checksum uint64 `json:"checksum,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a queued task with a fresh id. An empty fileName defaults to
// the base name of the target path.
func NewTask(source, targetPath, fileName string) Task {
	if fileName == "" {
		fileName = path.Base(targetPath)
	}
	now := time.Now().UTC()
	return Task{
		ID:         uuid.NewString(),
		Source:     source,
		FileName:   fileName,
		TargetPath: targetPath,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (t Task) validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidTask)
	case t.Source == "":
		return fmt.Errorf("%w: empty source", ErrInvalidTask)
	case t.TargetPath == "":
		return fmt.Errorf("%w: empty target path", ErrInvalidTask)
	}
	return nil
}

// normalize enforces the error/status pairing and clamps progress.
func (t *Task) normalize() {
	t.Progress = t.Progress.normalized()
	if t.Status == StatusFailed {
		if t.Error == "" {
			t.Error = "upload failed"
		}
	} else {
		t.Error = ""
	}
	if t.Status != StatusCompleted {
		t.Checksum = 0
	}
}

// TransferError is a transport, server or connectivity failure during upload.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
