// Package validate provides the validate command.
package validate

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/application"
	"github.com/agentstation/adsync/internal/cmd/output"
)

// NewCommand creates the validate command.
func NewCommand(app application.Application) *cobra.Command {
	var input, mapping string

	cmd := &cobra.Command{
		Use:     "validate <key-field>",
		GroupID: "core",
		Short:   "Check a source file and mapping without contacting the directory",
		Args:    cobra.ExactArgs(1),
		Long: `Validate reads the input file and the mapping, detects the delimiter and
shows which attribute every column maps to. Columns without a mapping are
marked <Ignored> and the key column is marked << UNIQUE KEY >>.

It fails when the key field is not a column of the input file or has no
mapping, the same checks sync runs before it connects.`,
		Example: `  adsync validate EmployeeNumber -i users.csv -m mapping.txt
  adsync validate EmpID -i users.csv -m mapping.yaml -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := adsync.Inspect(input, mapping, args[0])
			if err != nil {
				return err
			}
			app.Logger().Debug().
				Str("input", input).
				Int("rows", plan.Rows).
				Str("key_attribute", plan.KeyAttribute).
				Msg("Input is valid")
			return output.Plan(cmd.OutOrStdout(), output.DetectFormat(app.OutputFormat()), plan)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "delimited source file")
	cmd.Flags().StringVarP(&mapping, "mapping", "m", "", "mapping file")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("mapping")

	return cmd
}
