package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/pipelab/internal/api"
	"github.com/YuminosukeSato/pipelab/internal/config"
	"github.com/YuminosukeSato/pipelab/internal/pipeline"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				c.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, c *config.Config) error {
	if _, err := log.Setup(c.Log.Level, c.Log.Format, os.Stderr); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("server")

	p := pipeline.New(pipeline.SettingsFromConfig(c), pipeline.WithLogger(log.GetLoggerWithName("pipeline")))
	srv := &http.Server{
		Addr: c.Server.Addr,
		Handler: api.NewServer(p, api.Options{
			AllowedOrigins: c.CORS.AllowedOrigins,
			MaxUploadBytes: c.Upload.MaxBytes,
			Logger:         log.GetLoggerWithName("api"),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.Server.ReadTimeout,
		WriteTimeout:      c.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", c.Server.Addr, log.RandomSeedKey, c.Pipeline.RandomSeed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "listen")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", c.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
