// Package cli implements the ramp command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ramp/internal/config"
	"github.com/wesleyorama2/ramp/internal/logging"
	"github.com/wesleyorama2/ramp/internal/ramp"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitInvalidConfig = 2
	ExitCancelled     = 130
)

// usageError marks command line mistakes; they exit like invalid configs.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "ramp",
		Short:   "Staged virtual-user load generator for HTTP endpoints",
		Version: version,
		Long: `ramp drives a population of virtual users against one HTTP endpoint,
moving the number of concurrent users linearly through a list of stages:

  ramp run --url http://172.19.255.201/productpage --stages "2m:100,5m:200,2m:100"
  ramp run --config average-load.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-dev", false, "human readable log output")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

// Execute runs the command line against os.Args and returns the exit code.
// This is called by main.main().
func Execute() int {
	return executeArgs(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func executeArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra reads os.Args for a nil slice
		args = []string{}
	}

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	var usage *usageError
	var invalid *config.ValidationErrors

	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage),
		errors.As(err, &invalid),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, ramp.ErrInvalidPlan):
		return ExitInvalidConfig
	case ramp.IsCancelled(err):
		return ExitCancelled
	default:
		return ExitError
	}
}

// newLogger builds the logger from the persistent flags, writing to the
// command's stderr.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	dev, _ := cmd.Flags().GetBool("log-dev")

	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), level, dev)
	if err != nil {
		return nil, usageErrorf("%v", err)
	}
	return logger, nil
}
