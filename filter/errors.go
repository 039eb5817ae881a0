package filter

import "fmt"

// FilterError is returned by Registry.Apply when a stage fails. Index is
// the zero-based position of the stage in its chain.
type FilterError struct {
	Stage string
	Index int
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter: stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// SpecError is returned by Registry.Validate for an unknown stage or option.
type SpecError struct {
	Stage string
	Index int
	Err   error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("filter: invalid stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }
