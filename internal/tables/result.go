package tables

// Status is the outcome of a lifecycle operation. Benign no-ops (table
// already exists, nothing to rebuild, prompt declined) are distinguished from
// real work and from failures so callers do not have to parse log output to
// tell them apart.
type Status int

const (
	StatusFailed Status = iota
	StatusApplied
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusUnchanged:
		return "unchanged"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
