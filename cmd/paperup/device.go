package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/franksops/paperup/presenter"
	"github.com/franksops/paperup/provider"
)

const deviceTimeout = 15 * time.Second

// withDevice binds traffic through the configured gate and runs fn against
// the device.
func withDevice(cmd *cobra.Command, root *rootOptions, fn func(ctx context.Context, d *provider.DeviceClient) error) error {
	device, g, err := newDeviceClient(root.cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), deviceTimeout)
	defer cancel()

	if err := g.BindTraffic(ctx); err != nil {
		return err
	}
	defer g.UnbindTraffic(context.Background())
	return fn(ctx, device)
}

func newLsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory on the device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return withDevice(cmd, root, func(ctx context.Context, d *provider.DeviceClient) error {
				entries, err := d.List(ctx, dir)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

func printEntries(w io.Writer, entries []provider.Entry) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size := ""
		name := e.Name
		if e.IsDir() {
			name += "/"
		} else {
			size = presenter.FormatSize(e.Size)
		}
		rows = append(rows, []string{name, size})
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("NAME", "SIZE").
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd, root, func(ctx context.Context, d *provider.DeviceClient) error {
				u, err := d.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "used %s of %s (%s free)\n",
					presenter.FormatSize(u.UsedBytes), presenter.FormatSize(u.TotalBytes), presenter.FormatSize(u.FreeBytes()))
				return nil
			})
		},
	}
}

func newMkdirCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd, root, func(ctx context.Context, d *provider.DeviceClient) error {
				return d.Mkdir(ctx, args[0])
			})
		},
	}
}

func newMvCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move or rename a file on the device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd, root, func(ctx context.Context, d *provider.DeviceClient) error {
				return d.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func newRmCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd, root, func(ctx context.Context, d *provider.DeviceClient) error {
				return d.Delete(ctx, args[0])
			})
		},
	}
}
