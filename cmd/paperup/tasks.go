package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/presenter"
	"github.com/franksops/paperup/store"
)

func newTasksCmd(root *rootOptions) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "tasks [id]...",
		Short: "List stored upload tasks",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(root.cfg.StateDir, 0755); err != nil {
				return err
			}
			db, err := store.NewBoltStore(root.cfg.DBPath())
			if err != nil {
				return err
			}
			defer db.Close()

			tasks, err := loadTasks(db, args)
			if err != nil {
				return err
			}
			if prune {
				kept := tasks[:0]
				for _, t := range tasks {
					if t.Status.Terminal() {
						if err := db.DeleteTask(t.ID); err != nil {
							return err
						}
						continue
					}
					kept = append(kept, t)
				}
				tasks = kept
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Dismiss settled tasks")
	return cmd
}

// loadTasks returns the tasks with the given ids, or every stored task when
// no id is given.
func loadTasks(db *store.BoltStore, ids []string) ([]engine.Task, error) {
	if len(ids) == 0 {
		return db.ListTasks()
	}
	tasks := make([]engine.Task, 0, len(ids))
	for _, id := range ids {
		t, err := db.GetTask(id)
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, fmt.Errorf("no task with id %s", id)
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func printTasks(w io.Writer, tasks []engine.Task) {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		detail := t.Error
		if t.Status == engine.StatusCompleted {
			detail = fmt.Sprintf("crc64 %016x", t.Checksum)
		}
		rows = append(rows, []string{
			t.ID[:min(8, len(t.ID))],
			string(t.Status),
			fmt.Sprintf("%d%%", t.Progress.Percentage()),
			presenter.FormatSize(t.Progress.TotalBytes),
			t.TargetPath,
			detail,
		})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "DONE", "SIZE", "TARGET", "DETAIL").
		Rows(rows...)
	fmt.Fprintln(w, tbl.Render())
}
