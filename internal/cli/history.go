package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ramp/internal/history"
	"github.com/wesleyorama2/ramp/internal/output"
)

func newHistoryCmd() *cobra.Command {
	var (
		historyFile string
		limit       int
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(historyFile)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout()}).PrintHistory(records)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one recorded run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(historyFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	cmd.PersistentFlags().StringVar(&historyFile, "history-file", "", "run history database (default ~/.ramp/history.db)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list, 0 for all")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the runs as JSON")
	cmd.AddCommand(show)
	return cmd
}

// openHistory opens the store at path, or at the default location when path
// is empty.
func openHistory(path string) (*history.Store, error) {
	if path == "" {
		def, err := history.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
	}
	return history.Open(path)
}
