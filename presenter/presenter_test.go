package presenter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/franksops/paperup/engine"
)

type countingResource struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (c *countingResource) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.acquired++
	return nil
}

func (c *countingResource) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return nil
}

func (c *countingResource) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired, c.released
}

type recordingNotifier struct {
	mu        sync.Mutex
	shown     []Notification
	withdrawn int
}

func (r *recordingNotifier) Show(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingNotifier) Withdraw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawn++
	return nil
}

func (r *recordingNotifier) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown[len(r.shown)-1]
}

type sessionLog struct {
	mu      sync.Mutex
	entries []bool
}

func (s *sessionLog) RecordSession(active bool, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, active)
	return nil
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkTransitions(t *testing.T, p *Presenter, wantAct, wantDeact int) {
	t.Helper()
	act, deact := p.Transitions()
	if act != wantAct || deact != wantDeact {
		t.Errorf("Expected %d activations and %d deactivations, got %d and %d", wantAct, wantDeact, act, deact)
	}
}

func checkCounts(t *testing.T, name string, r *countingResource, wantAcq, wantRel int) {
	t.Helper()
	acq, rel := r.counts()
	if acq != wantAcq || rel != wantRel {
		t.Errorf("%s: expected %d acquire and %d release, got %d and %d", name, wantAcq, wantRel, acq, rel)
	}
}

func TestPresenterLifecycle(t *testing.T) {
	store := engine.NewTaskStore()
	wake := &countingResource{}
	wifi := &countingResource{}
	notes := &recordingNotifier{}
	sessions := &sessionLog{}

	p := New(Config{
		Wake:      wake,
		WiFi:      wifi,
		Notifier:  notes,
		Canceller: store,
		Recorder:  sessions,
	})
	detach := p.Attach(store)
	defer detach()
	if p.State() != Idle {
		t.Fatalf("Expected IDLE after attach, got %s", p.State())
	}

	task := engine.NewTask("/tmp/a.txt", "/a.txt", "")
	mustNoErr(t, store.Enqueue(task))
	if p.State() != Idle {
		t.Errorf("Queued tasks must not start a session")
	}

	mustNoErr(t, store.Begin(task.ID, func() {}))
	if p.State() != Active {
		t.Fatalf("Expected ACTIVE while uploading, got %s", p.State())
	}

	for _, n := range []int64{25, 50, 100} {
		mustNoErr(t, store.Update(task.ID, func(t *engine.Task) {
			t.Progress = engine.NewProgress(n, 100, 1024)
		}))
	}
	last := notes.last()
	if last.Percent != 100 || last.FileName != "a.txt" {
		t.Errorf("Expected notification for a.txt at 100%%, got %+v", last)
	}

	mustNoErr(t, store.Finish(task.ID, engine.StatusCompleted, nil))
	if p.State() != Idle {
		t.Errorf("Expected IDLE after completion, got %s", p.State())
	}

	checkTransitions(t, p, 1, 1)
	checkCounts(t, "wake", wake, 1, 1)
	checkCounts(t, "wifi", wifi, 1, 1)
	if notes.withdrawn != 1 {
		t.Errorf("Expected notification withdrawn once, got %d", notes.withdrawn)
	}
	if len(sessions.entries) != 2 || !sessions.entries[0] || sessions.entries[1] {
		t.Errorf("Expected sessions [true false], got %v", sessions.entries)
	}
}

func TestPresenterNotificationCancel(t *testing.T) {
	store := engine.NewTaskStore()
	notes := &recordingNotifier{}
	p := New(Config{Notifier: notes, Canceller: store})
	defer p.Attach(store)()

	task := engine.NewTask("/tmp/b.bin", "/b.bin", "")
	mustNoErr(t, store.Enqueue(task))

	aborted := make(chan struct{})
	mustNoErr(t, store.Begin(task.ID, func() { close(aborted) }))
	if p.State() != Active {
		t.Fatalf("Expected ACTIVE, got %s", p.State())
	}

	n := notes.last()
	if n.Cancel == nil {
		t.Fatal("Expected a cancel action on the notification")
	}
	mustNoErr(t, n.Cancel())

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("cancel action did not reach the running upload")
	}

	got, ok := store.Get(task.ID)
	if !ok || got.Status != engine.StatusCancelled {
		t.Errorf("Expected CANCELLED, got %+v", got)
	}
	if p.State() != Idle {
		t.Errorf("Expected IDLE after cancel, got %s", p.State())
	}
}

func TestPresenterStaysActiveAcrossTasks(t *testing.T) {
	store := engine.NewTaskStore()
	p := New(Config{Notifier: &recordingNotifier{}})
	defer p.Attach(store)()

	first := engine.NewTask("/tmp/1", "/1", "")
	second := engine.NewTask("/tmp/2", "/2", "")
	mustNoErr(t, store.Enqueue(first))
	mustNoErr(t, store.Enqueue(second))

	mustNoErr(t, store.Begin(first.ID, nil))
	mustNoErr(t, store.Begin(second.ID, nil))
	mustNoErr(t, store.Finish(first.ID, engine.StatusFailed, errors.New("boom")))
	if p.State() != Active {
		t.Errorf("Expected ACTIVE while the second upload runs, got %s", p.State())
	}
	mustNoErr(t, store.Finish(second.ID, engine.StatusCompleted, nil))

	checkTransitions(t, p, 1, 1)
}

func TestPresenterAcquireFailureKeepsGoing(t *testing.T) {
	store := engine.NewTaskStore()
	notes := &recordingNotifier{}
	p := New(Config{Wake: &countingResource{err: errors.New("denied")}, Notifier: notes})
	defer p.Attach(store)()

	task := engine.NewTask("/tmp/c", "/c", "")
	mustNoErr(t, store.Enqueue(task))
	mustNoErr(t, store.Begin(task.ID, nil))

	if p.State() != Active {
		t.Errorf("Expected ACTIVE despite the wake failure, got %s", p.State())
	}
	if len(notes.shown) == 0 {
		t.Error("Expected the notification to be shown")
	}
}

func TestPresenterClose(t *testing.T) {
	store := engine.NewTaskStore()
	wake := &countingResource{}
	p := New(Config{Wake: wake, Notifier: &recordingNotifier{}})
	defer p.Attach(store)()

	task := engine.NewTask("/tmp/d", "/d", "")
	mustNoErr(t, store.Enqueue(task))
	mustNoErr(t, store.Begin(task.ID, nil))

	p.Close()
	if p.State() != Idle {
		t.Errorf("Expected IDLE after close, got %s", p.State())
	}
	checkCounts(t, "wake", wake, 1, 1)

	// A second close is a no-op.
	p.Close()
	checkTransitions(t, p, 1, 1)
}

func TestNotificationText(t *testing.T) {
	tests := []struct {
		n    Notification
		want string
	}{
		{
			Notification{FileName: "book.epub", Percent: 42, Speed: "1.5 MB/s", Transferred: "420 KB", Total: "1000 KB", Uploading: 3},
			"Uploading book.epub: 42% (420 KB / 1000 KB) 1.5 MB/s +2 more",
		},
		{
			Notification{FileName: "a.txt", Percent: 0, Speed: "0.0 KB/s", Transferred: "0 Bytes", Total: "0 Bytes", Uploading: 1},
			"Uploading a.txt: 0% (0 Bytes / 0 Bytes) 0.0 KB/s",
		},
	}
	for _, tt := range tests {
		if got := tt.n.Text(); got != tt.want {
			t.Errorf("Text() = %q; want %q", got, tt.want)
		}
	}
}
