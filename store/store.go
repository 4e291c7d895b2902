package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/franksops/paperup/engine"
)

var (
	// ErrTaskNotFound is returned when a task is not found in the state store.
	ErrTaskNotFound = errors.New("task not found")
)

var (
	tasksBucket   = []byte("tasks")
	sessionBucket = []byte("session")
	foregroundKey = []byte("foreground")
)

// ensure interface is implemented
var _ engine.Persister = (*BoltStore)(nil)

// TaskRecord is a persisted task. Seq preserves submission order.
type TaskRecord struct {
	Seq  uint64      `json:"seq"`
	Task engine.Task `json:"task"`
}

// SessionRecord is the last known foreground session state.
type SessionRecord struct {
	Active    bool      `json:"active"`
	TaskID    string    `json:"task_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoltStore persists tasks and the foreground session in bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{tasksBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveTask inserts or updates a task, keeping its original sequence number.
func (s *BoltStore) SaveTask(task engine.Task) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tasksBucket)
		key := []byte(task.ID)

		rec := TaskRecord{Task: task}
		if data := b.Get(key); data != nil {
			var prev TaskRecord
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("failed to unmarshal task: %w", err)
			}
			rec.Seq = prev.Seq
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			rec.Seq = seq
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("failed to put task: %w", err)
		}
		return nil
	})
}

// GetTask retrieves a task from the state store.
func (s *BoltStore) GetTask(id string) (engine.Task, error) {
	var rec TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(tasksBucket).Get([]byte(id))
		if data == nil {
			return ErrTaskNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}
		return nil
	})
	if err != nil {
		return engine.Task{}, err
	}
	return rec.Task, nil
}

// DeleteTask removes a task. Deleting an unknown id is not an error.
func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).Delete([]byte(id))
	})
}

// ListTasks returns every persisted task in submission order.
func (s *BoltStore) ListTasks() ([]engine.Task, error) {
	var recs []TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).ForEach(func(k, v []byte) error {
			var rec TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal task %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	tasks := make([]engine.Task, len(recs))
	for i, r := range recs {
		tasks[i] = r.Task
	}
	return tasks, nil
}

// RecordSession stores the foreground session state.
func (s *BoltStore) RecordSession(active bool, taskID string, at time.Time) error {
	data, err := json.Marshal(SessionRecord{Active: active, TaskID: taskID, UpdatedAt: at})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(foregroundKey, data)
	})
}

// LastSession returns the stored foreground session, or a zero record when
// none was recorded.
func (s *BoltStore) LastSession() (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionBucket).Get(foregroundKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
