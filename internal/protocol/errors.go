package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCollectTimeout marks an incomplete chunk set at the end of the
// collection window. The partial set is discarded, never assembled.
var ErrCollectTimeout = errors.New("chunk collection timed out")

// ValidationError reports a task that failed schema validation. The task
// is dropped and the job moves to validation_failed; there is no retry.
type ValidationError struct {
	TaskType TaskType
	Missing  []string
	Reason   string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("task %q missing required fields: %s", e.TaskType, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("task %q invalid: %s", e.TaskType, e.Reason)
}

// RoutingError reports a queue name with no registered handler. Logged
// and skipped, never fatal to the listener.
type RoutingError struct {
	Queue string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no handler registered for queue %q", e.Queue)
}

// SynthesisError wraps a backend failure for one chunk. It aborts that
// section's assembly.
type SynthesisError struct {
	SectionIndex string
	ChunkIndex   int
	Err          error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for section %s chunk %d: %v", e.SectionIndex, e.ChunkIndex, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// AssemblyError wraps a decode or concatenation failure during fan-in.
type AssemblyError struct {
	SectionIndex string
	Err          error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed for section %s: %v", e.SectionIndex, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
