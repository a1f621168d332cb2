// Package sync provides the sync command.
package sync

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/application"
	"github.com/agentstation/adsync/internal/cmd/emoji"
	"github.com/agentstation/adsync/internal/cmd/output"
)

// NewCommand creates the sync command.
func NewCommand(app application.Application) *cobra.Command {
	var flags *Flags

	cmd := &cobra.Command{
		Use:     "sync <key-field>",
		GroupID: "core",
		Short:   "Reconcile a source file against the directory",
		Args:    cobra.ExactArgs(1),
		Long: `Sync matches every row of the input file to a directory entry by the
value of <key-field>, the source column that maps to a unique attribute
such as employeeID, and writes the mapped attributes that differ.

Rows without a match can fall back to the full name with --loose-matching.
With --whatif nothing is written and the pending changes are reported.

The mapping file lists one "SourceColumn=directoryAttribute" pair per line.
Columns without a mapping are ignored, as are attributes the mapping does
not name.`,
		Example: `  adsync sync EmployeeNumber -i users.csv -m mapping.txt --whatif
  adsync sync EmployeeNumber -i users.csv -m mapping.txt -d example.com
  adsync sync EmpID -i users.csv -m mapping.yaml --loose-matching
  adsync sync EmpID -i users.csv -m mapping.txt --select '10*' --select '!1099'
  adsync sync EmpID -i users.csv -m mapping.txt --directory-file directory.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Execute(cmd, app, args[0], flags)
		},
	}

	flags = addFlags(cmd)
	return cmd
}

// Execute runs one reconciliation and prints its report.
func Execute(cmd *cobra.Command, app application.Application, key string, flags *Flags) error {
	ctx := cmd.Context()
	logger := app.Logger()
	format := output.DetectFormat(app.OutputFormat())

	client, err := app.Client(clientOptions(cmd, flags, app.Settings())...)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close client")
		}
	}()

	stderr := cmd.ErrOrStderr()
	if !app.Quiet() {
		client.OnRunStarted(func(info adsync.RunInfo) {
			fmt.Fprintf(stderr, "%s %s run %s: %d rows from %s\n", emoji.Info, info.Mode, info.ID, info.Rows, info.Input)
		})
		client.OnRow(func(n, total int, row adsync.RowResult) {
			fmt.Fprintf(stderr, "[%d/%d] %s %s\n", n, total, row.Key, row.Outcome)
		})
	}

	result, runErr := client.Sync(ctx, flags.Input, flags.Mapping, syncOptions(key, flags)...)
	if result == nil {
		return runErr
	}

	if err := output.Result(cmd.OutOrStdout(), format, result); err != nil {
		return err
	}
	output.Summary(stderr, result)

	if runErr != nil {
		return runErr
	}
	if result.Stats.Failed > 0 {
		return fmt.Errorf("%d rows failed", result.Stats.Failed)
	}
	return nil
}
