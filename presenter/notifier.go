package presenter

import (
	"log/slog"
	"sync"
)

// LogNotifier renders the status display as log lines for headless runs.
// Refreshes are logged at debug level so the stream stays readable.
type LogNotifier struct {
	logger *slog.Logger

	mu      sync.Mutex
	current string
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Show(n Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != n.TaskID {
		l.current = n.TaskID
		l.logger.Info("uploading", "task", n.TaskID, "file", n.FileName, "total", n.Total)
	}
	l.logger.Debug(n.Text(), "task", n.TaskID)
	return nil
}

func (l *LogNotifier) Withdraw() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = ""
	return nil
}
