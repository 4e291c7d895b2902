package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/franksops/paperup/api"
	"github.com/franksops/paperup/gate"
	"github.com/franksops/paperup/provider"
)

// boundDevice binds traffic through the gate before each device call.
type boundDevice struct {
	gate   gate.Gate
	device *provider.DeviceClient
}

func (b boundDevice) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	if err := b.gate.BindTraffic(ctx); err != nil {
		return nil, err
	}
	return b.device.List(ctx, dir)
}

func (b boundDevice) Status(ctx context.Context) (provider.Usage, error) {
	if err := b.gate.BindTraffic(ctx); err != nil {
		return provider.Usage{}, err
	}
	return b.device.Status(ctx)
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload queue behind an HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				root.cfg.ListenAddr = listen
			}
			return runServe(cmd.Context(), root)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Control API listen address (default 127.0.0.1:8080)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, root.cfg, root.logger, nil)
	if err != nil {
		return err
	}
	defer a.close(false)

	if !root.cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              root.cfg.ListenAddr,
		Handler:           api.NewRouter(api.NewHandler(a.tasks, a.queue, boundDevice{gate: a.gate, device: a.device}, root.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		root.logger.Info("control API listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	root.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
