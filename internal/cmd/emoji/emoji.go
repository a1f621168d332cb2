// Package emoji provides the status symbols printed by the CLI.
package emoji

const (
	// Success marks a completed run or a valid input.
	Success = "✓"

	// Error marks a failed row or command.
	Error = "✗"

	// Stop marks a run that was interrupted.
	Stop = "✗"

	// Warning marks a run with failed rows or a suspicious input.
	Warning = "!"

	// Info marks informational lines such as what-if notices.
	Info = "i"
)
