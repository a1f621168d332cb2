package sync

// State is a phase of a run. A run moves strictly forward through
// Init, Validating, Processing and Done.
type State int

const (
	// Init is the state before anything was checked.
	Init State = iota
	// Validating checks the key field against mapping and schema.
	Validating
	// Processing walks the rows.
	Processing
	// Done is terminal.
	Done
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Validating:
		return "validating"
	case Processing:
		return "processing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
