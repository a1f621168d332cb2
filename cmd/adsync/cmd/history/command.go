// Package history provides the history command.
package history

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/application"
	"github.com/agentstation/adsync/internal/cmd/output"
	"github.com/agentstation/adsync/pkg/constants"
)

// NewCommand creates the history command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		limit       int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:     "history [run-id]",
		GroupID: "core",
		Short:   "Show recorded runs",
		Args:    cobra.MaximumNArgs(1),
		Long: `History lists the runs recorded in the journal, newest first. Given a run
ID it shows that run and the attribute changes it made or, for what-if
runs, would have made.`,
		Example: `  adsync history
  adsync history --limit 5 -o json
  adsync history 3f0c9a4e-8d2b-4d1e-9a51-6f2e7c1b0d3a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.Settings().JournalPath
			if cmd.Flags().Changed("journal") {
				path = journalPath
			}
			if path == "" {
				return fmt.Errorf("no journal configured")
			}

			client, err := app.Client(adsync.WithJournal(path))
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx := cmd.Context()
			j := client.Journal()
			format := output.DetectFormat(app.OutputFormat())

			if len(args) == 0 {
				runs, err := j.Runs(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 && format.IsTable() {
					fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded")
					return nil
				}
				return output.Runs(cmd.OutOrStdout(), format, runs)
			}

			run, err := j.Run(ctx, args[0])
			if err != nil {
				return err
			}
			deltas, err := j.Deltas(ctx, run.ID)
			if err != nil {
				return err
			}
			return output.Run(cmd.OutOrStdout(), format, output.RunDetail{Run: *run, Deltas: deltas})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", constants.DefaultHistoryLimit, "number of runs to list")
	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database (default ~/.adsync/journal.db)")

	return cmd
}
