package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/presenter"
	"github.com/franksops/paperup/provider"
	"github.com/franksops/paperup/ui"
)

type uploadOptions struct {
	to        string
	recursive bool
	parallel  int
	tui       bool
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <source>...",
		Short: "Upload files, directories or s3:// objects to the device",
		Example: `  paperup upload book.epub --to /books
  paperup upload -r ./comics --to /comics
  paperup upload s3://library/papers/a.pdf --to /papers`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parallel") {
				root.cfg.Workers = opts.parallel
			}
			return runUpload(cmd.Context(), root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.to, "to", "/", "Target directory on the device")
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", false, "Upload directories recursively")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 1, "Number of concurrent uploads")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show the interactive task view")
	return cmd
}

func runUpload(ctx context.Context, root *rootOptions, opts *uploadOptions, sources []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		board    *ui.Board
		notifier presenter.Notifier
	)
	if opts.tui {
		// The alternate screen owns the terminal; logs go to the state dir.
		logFile, err := openLogFile(root.cfg.StateDir)
		if err != nil {
			return err
		}
		defer logFile.Close()
		root.setLogger(logFile)
		board = ui.NewBoard()
		notifier = board
	}

	a, err := newApp(ctx, root.cfg, root.logger, notifier)
	if err != nil {
		return err
	}

	var submitted []string
	submit := func(ctx context.Context, task engine.Task) error {
		if err := a.queue.Submit(ctx, task); err != nil {
			return err
		}
		submitted = append(submitted, task.ID)
		return nil
	}

	if err := a.gate.Connect(ctx); err != nil {
		a.close(false)
		return err
	}
	if err := enqueueSources(ctx, a, opts, sources, submit); err != nil {
		a.close(false)
		return err
	}

	if board != nil {
		detach := a.tasks.Subscribe(board.Observe)
		defer detach()
		if err := runTUI(ctx, a, board); err != nil {
			a.close(false)
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		a.queue.Drain()
		close(done)
	}()
	select {
	case <-done:
		a.close(true)
	case <-ctx.Done():
		a.close(false)
	}

	return summarize(root, a.tasks, submitted)
}

// enqueueSources turns every argument into one or more upload tasks.
func enqueueSources(ctx context.Context, a *app, opts *uploadOptions, sources []string, submit engine.SubmitFunc) error {
	walker := engine.NewWalker(a.local, submit)
	walker.MakeDir = func(ctx context.Context, dir string) error {
		if err := a.gate.BindTraffic(ctx); err != nil {
			return err
		}
		return a.device.Mkdir(ctx, dir)
	}

	for _, src := range sources {
		if provider.IsS3Ref(src) {
			_, key, err := provider.ParseS3Ref(src)
			if err != nil {
				return err
			}
			if err := submit(ctx, engine.NewTask(src, path.Join(opts.to, path.Base(key)), "")); err != nil {
				return err
			}
			continue
		}

		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		info, err := a.local.Stat(ctx, abs)
		if err != nil {
			return err
		}
		target := opts.to
		if info.IsDir() {
			if !opts.recursive {
				return fmt.Errorf("%s is a directory (use -r)", src)
			}
			target = path.Join(opts.to, info.Name())
			if err := walker.MakeDir(ctx, target); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
		}
		n, err := walker.Walk(ctx, abs, target)
		if err != nil {
			return err
		}
		a.logger.Debug("queued source", "source", src, "tasks", n)
	}
	return nil
}

// runTUI shows the task view until every dispatched task settled and the
// user quits. Quitting early cancels the remaining uploads.
func runTUI(ctx context.Context, a *app, board *ui.Board) error {
	program := tea.NewProgram(ui.NewTUIModel(board.Snapshot(), a.tasks), tea.WithAltScreen(), tea.WithContext(ctx))

	drained := make(chan struct{})
	go func() {
		a.queue.Drain()
		board.MarkDone()
		close(drained)
	}()

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				program.Send(ui.TUIUpdateMsg{State: board.Snapshot()})
			}
		}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	select {
	case <-drained:
	default:
		for _, t := range a.tasks.Tasks() {
			if !t.Status.Terminal() {
				_ = a.tasks.Cancel(t.ID)
			}
		}
	}
	return nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "paperup.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func summarize(root *rootOptions, tasks *engine.TaskStore, ids []string) error {
	counts := map[engine.Status]int{}
	for _, id := range ids {
		t, ok := tasks.Get(id)
		if !ok {
			continue
		}
		counts[t.Status]++
		if t.Status == engine.StatusFailed {
			root.logger.Error("upload failed", "file", t.FileName, "target", t.TargetPath, "error", t.Error)
		}
	}
	root.logger.Info("uploads finished",
		"completed", counts[engine.StatusCompleted],
		"failed", counts[engine.StatusFailed],
		"cancelled", counts[engine.StatusCancelled],
	)
	if n := counts[engine.StatusFailed]; n > 0 {
		return fmt.Errorf("%d of %d uploads failed", n, len(ids))
	}
	return nil
}
