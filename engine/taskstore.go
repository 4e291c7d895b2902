package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Persister receives a stored task after each lifecycle change. Progress-only
// updates are not persisted. The bbolt store implements it.
type Persister interface {
	SaveTask(task Task) error
	DeleteTask(id string) error
}

// Observer receives the full ordered task collection after each mutation.
type Observer func(tasks []Task)

// TaskStore is the single source of truth for queued and running uploads.
//
// Mutations are serialized and fanned out to every observer before the
// mutating call returns, so observers see mutations in apply order. Observers
// run on the mutating goroutine and must not call mutating methods.
type TaskStore struct {
	// pubMu orders mutation and fan-out as one step.
	pubMu sync.Mutex

	mu        sync.RWMutex
	order     []string
	tasks     map[string]*Task
	aborts    map[string]context.CancelFunc
	observers map[int]Observer
	nextObs   int

	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// TaskStoreOption configures a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithPersister saves each mutated task through p.
func WithPersister(p Persister) TaskStoreOption {
	return func(s *TaskStore) {
		s.persister = p
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) TaskStoreOption {
	return func(s *TaskStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewTaskStore creates an empty store.
func NewTaskStore(opts ...TaskStoreOption) *TaskStore {
	s := &TaskStore{
		tasks:     make(map[string]*Task),
		aborts:    make(map[string]context.CancelFunc),
		observers: make(map[int]Observer),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue adds a new task in the QUEUED state.
func (s *TaskStore) Enqueue(task Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	return s.mutate(func() (*Task, bool, error) {
		if _, ok := s.tasks[task.ID]; ok {
			return nil, false, fmt.Errorf("%w: %s", ErrDuplicateID, task.ID)
		}
		t := task
		t.Status = StatusQueued
		t.Progress = NewProgress(0, task.Progress.TotalBytes, 0)
		t.Error = ""
		t.Checksum = 0
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now()
		}
		t.UpdatedAt = s.now()
		s.tasks[t.ID] = &t
		s.order = append(s.order, t.ID)
		return &t, true, nil
	})
}

// Update applies fn to a copy of the task and stores the normalized result.
// The id, source and creation time cannot be changed. Terminal tasks are left
// untouched and ErrTaskFinished is returned.
func (s *TaskStore) Update(id string, fn func(*Task)) error {
	return s.mutate(func() (*Task, bool, error) {
		cur, ok := s.tasks[id]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if cur.Status.Terminal() {
			return nil, false, fmt.Errorf("%w: %s", ErrTaskFinished, id)
		}
		prev := cur.Status
		next := *cur
		fn(&next)
		next.ID = cur.ID
		next.Source = cur.Source
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = s.now()
		next.normalize()
		*cur = next
		if next.Status.Terminal() {
			delete(s.aborts, id)
		}
		return cur, next.Status != prev, nil
	})
}

// Begin moves a queued task to UPLOADING and registers abort as its cancel
// signal. It returns ErrTaskFinished when the task is no longer queued.
func (s *TaskStore) Begin(id string, abort context.CancelFunc) error {
	return s.mutate(func() (*Task, bool, error) {
		cur, ok := s.tasks[id]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if cur.Status != StatusQueued {
			return nil, false, fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, cur.Status)
		}
		cur.Status = StatusUploading
		cur.UpdatedAt = s.now()
		if abort != nil {
			s.aborts[id] = abort
		}
		return cur, true, nil
	})
}

// Finish settles a task in a terminal state. For StatusFailed, cause provides
// the message. A task that is already terminal is left as is.
func (s *TaskStore) Finish(id string, status Status, cause error) error {
	if !status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %s", status)
	}
	return s.Update(id, func(t *Task) {
		t.Status = status
		t.Progress.Speed = 0
		if status == StatusCompleted && t.Progress.TotalBytes > 0 {
			t.Progress.BytesTransferred = t.Progress.TotalBytes
		}
		if status == StatusFailed && cause != nil {
			t.Error = cause.Error()
		}
	})
}

// Cancel moves a queued or uploading task to CANCELLED and fires its abort
// signal. Terminal tasks are left unchanged.
func (s *TaskStore) Cancel(id string) error {
	var abort context.CancelFunc
	err := s.mutate(func() (*Task, bool, error) {
		cur, ok := s.tasks[id]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if cur.Status.Terminal() {
			return nil, false, nil
		}
		cur.Status = StatusCancelled
		cur.Progress.Speed = 0
		cur.Error = ""
		cur.UpdatedAt = s.now()
		abort = s.aborts[id]
		delete(s.aborts, id)
		return cur, true, nil
	})
	if abort != nil {
		abort()
	}
	return err
}

// Remove dismisses a settled task from the store.
func (s *TaskStore) Remove(id string) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !cur.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskActive, id)
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeleteTask(id); err != nil {
			s.logger.Warn("failed to delete persisted task", "task", id, "error", err)
		}
	}
	for _, o := range obs {
		o(snap)
	}
	return nil
}

// Restore loads previously persisted tasks, keeping their order. Tasks that
// were uploading when the process stopped are marked failed. Existing ids are
// skipped.
func (s *TaskStore) Restore(tasks []Task) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	var changed []Task
	for _, t := range tasks {
		if t.validate() != nil {
			continue
		}
		if _, ok := s.tasks[t.ID]; ok {
			continue
		}
		if t.Status == StatusUploading {
			t.Status = StatusFailed
			t.Error = "interrupted"
			t.Progress.Speed = 0
			t.UpdatedAt = s.now()
			changed = append(changed, t)
		}
		t.normalize()
		tc := t
		s.tasks[t.ID] = &tc
		s.order = append(s.order, t.ID)
	}
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	s.persist(changed...)
	for _, o := range obs {
		o(snap)
	}
}

// Get returns a copy of the task with the given id.
func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns a copy of the collection in insertion order.
func (s *TaskStore) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers an observer. It is called right away with the current
// collection and then after every mutation. The returned func unsubscribes.
func (s *TaskStore) Subscribe(o Observer) (unsubscribe func()) {
	s.pubMu.Lock()
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	snap := s.snapshotLocked()
	s.mu.Unlock()
	o(snap)
	s.pubMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// mutate runs apply under the store locks, persists the changed task when
// apply asks for it and fans the new collection out to observers. apply
// returning a nil task means no change.
func (s *TaskStore) mutate(apply func() (*Task, bool, error)) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	changed, persist, err := apply()
	if err != nil || changed == nil {
		s.mu.Unlock()
		return err
	}
	saved := *changed
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	if persist {
		s.persist(saved)
	}
	for _, o := range obs {
		o(snap)
	}
	return nil
}

func (s *TaskStore) persist(tasks ...Task) {
	if s.persister == nil {
		return
	}
	for _, t := range tasks {
		if err := s.persister.SaveTask(t); err != nil {
			s.logger.Warn("failed to persist task", "task", t.ID, "error", err)
		}
	}
}

func (s *TaskStore) snapshotLocked() []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

func (s *TaskStore) observersLocked() []Observer {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

// IsRecoverable reports whether err is one of the store errors callers are
// expected to log and move past.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskFinished)
}
