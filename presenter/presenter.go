// Package presenter keeps the process in the foreground while an upload is
// running: it holds the wake and Wi-Fi resources and maintains a single
// persistent status notification with a cancel action.
package presenter

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/franksops/paperup/engine"
)

// State is the presenter state.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "IDLE"
}

// Notification is the content of the persistent status display.
type Notification struct {
	TaskID      string
	FileName    string
	Percent     int
	Speed       string
	Transferred string
	Total       string
	// Uploading is the number of tasks currently uploading.
	Uploading int
	// Cancel cancels TaskID.
	Cancel func() error
}

// Text renders the notification as a single status line.
func (n Notification) Text() string {
	line := fmt.Sprintf("Uploading %s: %d%% (%s / %s) %s", n.FileName, n.Percent, n.Transferred, n.Total, n.Speed)
	if n.Uploading > 1 {
		line += fmt.Sprintf(" +%d more", n.Uploading-1)
	}
	return line
}

// Notifier shows and withdraws the persistent status display. Show replaces
// the current content in place.
type Notifier interface {
	Show(n Notification) error
	Withdraw() error
}

// Canceller routes the notification cancel action, normally the task store.
type Canceller interface {
	Cancel(id string) error
}

// SessionRecorder persists foreground session transitions.
type SessionRecorder interface {
	RecordSession(active bool, taskID string, at time.Time) error
}

// Config wires a Presenter.
type Config struct {
	Wake        Resource
	WiFi        Resource
	WakeCeiling time.Duration
	Notifier    Notifier
	Canceller   Canceller
	Recorder    SessionRecorder
	Logger      *slog.Logger
}

// Presenter reacts to task store snapshots with the IDLE/ACTIVE machine.
type Presenter struct {
	wake      *CappedResource
	wifi      *Idempotent
	notifier  Notifier
	canceller Canceller
	recorder  SessionRecorder
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         State
	activations   int
	deactivations int
}

// New creates an idle presenter. Missing resources and notifier default to
// no-ops.
func New(cfg Config) *Presenter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wake := cfg.Wake
	if wake == nil {
		wake = NopResource{}
	}
	wifi := cfg.WiFi
	if wifi == nil {
		wifi = NopResource{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Presenter{
		wake:      NewCappedResource(wake, cfg.WakeCeiling, logger),
		wifi:      NewIdempotent(wifi),
		notifier:  notifier,
		canceller: cfg.Canceller,
		recorder:  cfg.Recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Attach subscribes the presenter to store and returns the unsubscribe func.
func (p *Presenter) Attach(store *engine.TaskStore) (detach func()) {
	return store.Subscribe(p.Observe)
}

// Observe handles one snapshot of the task collection.
func (p *Presenter) Observe(tasks []engine.Task) {
	var (
		current   *engine.Task
		uploading int
	)
	for i := range tasks {
		if tasks[i].Status == engine.StatusUploading {
			if current == nil {
				current = &tasks[i]
			}
			uploading++
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if current == nil {
		if p.state == Active {
			p.deactivate()
		}
		return
	}

	if p.state == Idle {
		p.state = Active
		p.activations++
		p.record(true, current.ID)
		p.logger.Info("foreground session started", "task", current.ID)
	}
	// Re-acquiring is a no-op while held and renews the wake lock after
	// its ceiling expired.
	if err := p.wake.Acquire(); err != nil {
		p.logger.Warn("failed to acquire wake resource", "error", err)
	}
	if err := p.wifi.Acquire(); err != nil {
		p.logger.Warn("failed to acquire wifi resource", "error", err)
	}
	if err := p.notifier.Show(p.notification(*current, uploading)); err != nil {
		p.logger.Warn("failed to show notification", "error", err)
	}
}

func (p *Presenter) deactivate() {
	if err := p.wake.Release(); err != nil {
		p.logger.Warn("failed to release wake resource", "error", err)
	}
	if err := p.wifi.Release(); err != nil {
		p.logger.Warn("failed to release wifi resource", "error", err)
	}
	if err := p.notifier.Withdraw(); err != nil {
		p.logger.Warn("failed to withdraw notification", "error", err)
	}
	p.state = Idle
	p.deactivations++
	p.record(false, "")
	p.logger.Info("foreground session ended")
}

func (p *Presenter) record(active bool, taskID string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordSession(active, taskID, p.now().UTC()); err != nil {
		p.logger.Warn("failed to record session", "error", err)
	}
}

func (p *Presenter) notification(t engine.Task, uploading int) Notification {
	id := t.ID
	n := Notification{
		TaskID:      id,
		FileName:    t.FileName,
		Percent:     t.Progress.Percentage(),
		Speed:       FormatBytesPerSecond(t.Progress.Speed),
		Transferred: FormatSize(t.Progress.BytesTransferred),
		Total:       FormatSize(t.Progress.TotalBytes),
		Uploading:   uploading,
	}
	if p.canceller != nil {
		c := p.canceller
		n.Cancel = func() error { return c.Cancel(id) }
	}
	return n
}

// State returns the current state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transitions returns the number of IDLE→ACTIVE and ACTIVE→IDLE transitions.
func (p *Presenter) Transitions() (activations, deactivations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activations, p.deactivations
}

// Close ends an active session and releases every resource.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Active {
		p.deactivate()
	}
}
