package job

import (
	"errors"
	"fmt"
)

// ConfigError marks one declaration invalid. Other jobs are unaffected.
type ConfigError struct {
	Index int
	Name  string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("job %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("job %d: %v", e.Index, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConfigErrors extracts every *ConfigError from err, including those
// combined with errors.Join.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*ConfigError
		for _, e := range joined.Unwrap() {
			out = append(out, ConfigErrors(e)...)
		}
		return out
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return []*ConfigError{ce}
	}
	return nil
}
