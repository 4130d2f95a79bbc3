package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var unresolvedLimit int

// unresolvedCmd lists test names the alias table could not resolve, as
// recorded by earlier runs.
var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "List unresolved test names recorded in the history store",
	Long: `The unresolved command aggregates every test name that could not be
resolved across all recorded runs, most frequent first. Add the names that are
real tests to the alias table. Requires history_db in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		store, err := openHistory(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("history_db is not configured")
		}
		defer store.Close()

		names, err := store.Unresolved(cmd.Context(), unresolvedLimit)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(out, "No unresolved test names recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSEEN\tRUNS\tLAST SEEN")
		for _, n := range names {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", n.Raw, n.Occurrences, n.Runs, n.LastSeen.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(unresolvedCmd)
	unresolvedCmd.Flags().IntVar(&unresolvedLimit, "limit", 0, "Show at most this many names (0 shows all)")
}
