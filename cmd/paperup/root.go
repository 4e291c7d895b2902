package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/franksops/paperup/config"
)

type rootOptions struct {
	envFile   string
	device    string
	iface     string
	stateDir  string
	verbose   bool
	logWriter io.Writer

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logWriter: os.Stderr}

	cmd := &cobra.Command{
		Use:   "paperup",
		Short: "Upload files to an e-paper device over its local Wi-Fi",
		Long: `paperup queues local files and S3 objects for upload to the file manager
of an e-paper device, streams them one by one with live progress and keeps
the machine awake while uploads are running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "Load PAPERUP_* settings from this file if it exists")
	flags.StringVar(&opts.device, "device", "", "Device base URL (default http://192.168.4.1)")
	flags.StringVar(&opts.iface, "iface", "", "Bind device traffic to this network interface")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory for the task database")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newUploadCmd(opts),
		newLsCmd(opts),
		newStatusCmd(opts),
		newMkdirCmd(opts),
		newMvCmd(opts),
		newRmCmd(opts),
		newTasksCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// load resolves the configuration: defaults, env file, environment, flags.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.DeviceURL = o.device
	}
	if flags.Changed("iface") {
		cfg.Interface = o.iface
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = o.stateDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	o.setLogger(o.logWriter)
	return nil
}

func (o *rootOptions) setLogger(w io.Writer) {
	level := slog.LevelInfo
	if o.cfg.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
