package reduce

import "fmt"

// Invariant names reported in InvariantError.
const (
	InvariantClusterColumns = "cluster_count matches per-cluster column lengths"
	InvariantChunkSize      = "chunk source returns the requested event count"
	InvariantOffset         = "running event offset never decreases"
)

// InvariantError reports a structural failure that must abort the run.
// It is never produced for ordinary per-event data problems.
type InvariantError struct {
	Invariant   string
	ChunkStart  int // -1 when not yet attributed to a chunk
	EventOffset int
	Detail      string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated (%s) at chunk %d, event offset %d: %s",
		e.Invariant, e.ChunkStart, e.EventOffset, e.Detail)
}

func newInvariantError(invariant string, eventOffset int, format string, args ...any) *InvariantError {
	return &InvariantError{
		Invariant:   invariant,
		ChunkStart:  -1,
		EventOffset: eventOffset,
		Detail:      fmt.Sprintf(format, args...),
	}
}
