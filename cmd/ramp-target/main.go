// Command ramp-target serves a configurable HTTP endpoint to load test
// against locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ramp/internal/logging"
	"github.com/wesleyorama2/ramp/internal/testtarget"
)

func newCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
		opts     testtarget.Options
	)

	cmd := &cobra.Command{
		Use:          "ramp-target",
		Short:        "HTTP endpoint to point ramp at",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logLevel, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv := &http.Server{
				Addr:              addr,
				Handler:           testtarget.New(opts, logger),
				ReadHeaderTimeout: 2 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("serving", zap.String("addr", addr), zap.Duration("latency", opts.Latency))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	f.DurationVar(&opts.Latency, "latency", 0, "delay before every response")
	f.IntVar(&opts.Status, "status", http.StatusOK, "status code of /")
	f.Int64Var(&opts.FailEvery, "fail-every", 0, "answer 503 to every Nth request")
	f.IntVar(&opts.BodySize, "body-size", 0, "response body size in bytes")
	return cmd
}

func main() {
	if err := newCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
