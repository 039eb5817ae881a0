// Package filter applies ordered chains of named transformation stages to
// a payload. The same executor runs content chains (raw retrieved data →
// comparable text) and diff chains (rendered diff → final report body);
// only the registry differs.
//
// A stage is a pure function of (payload, options). Stages are looked up
// by name at pipeline-build time, so host code can add stages to a
// Registry without touching the executor:
//
//	reg := filter.Content()
//	reg.MustRegister(filter.Stage{
//		Name:  "upper",
//		Apply: func(in string, _ filter.Options) (string, error) { return strings.ToUpper(in), nil },
//	})
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Options is the option set of one stage invocation.
type Options map[string]any

// String returns the option as a string, or def when absent.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the option as a bool, or def when absent or unparsable.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Int returns the option as an int, or def when absent or unparsable.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Stage is one named transformation.
type Stage struct {
	Name        string
	Description string
	// RecognizedOptions maps each accepted option name to a description.
	// Any other key fails the stage.
	RecognizedOptions map[string]string
	// DefaultOption receives the scalar in the short form `- grep: foo`.
	DefaultOption string
	Apply         func(input string, opts Options) (string, error)
}

// Registry maps stage names to stages. It is safe for concurrent use.
type Registry struct {
	kind   string
	mu     sync.RWMutex
	stages map[string]*Stage
}

// NewRegistry returns an empty registry. kind names the payload ("content",
// "diff") in error messages.
func NewRegistry(kind string) *Registry {
	return &Registry{kind: kind, stages: make(map[string]*Stage)}
}

// Kind returns the payload kind this registry serves.
func (r *Registry) Kind() string { return r.kind }

// Register adds a stage. Names are unique per registry.
func (r *Registry) Register(s Stage) error {
	if s.Name == "" {
		return fmt.Errorf("filter: stage name is required")
	}
	if s.Apply == nil {
		return fmt.Errorf("filter: stage %q has no apply function", s.Name)
	}
	if s.DefaultOption != "" {
		if _, ok := s.RecognizedOptions[s.DefaultOption]; !ok {
			return fmt.Errorf("filter: stage %q default option %q is not a recognized option", s.Name, s.DefaultOption)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.stages[s.Name]; dup {
		return fmt.Errorf("filter: %s stage %q already registered", r.kind, s.Name)
	}
	st := s
	r.stages[s.Name] = &st
	return nil
}

// MustRegister is Register that panics, for init-time wiring.
func (r *Registry) MustRegister(s Stage) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup returns the stage registered under name.
func (r *Registry) Lookup(name string) (*Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolve binds a Spec to its stage and final option set.
func (r *Registry) resolve(spec Spec) (*Stage, Options, error) {
	st, ok := r.Lookup(spec.Name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown %s filter %q", r.kind, spec.Name)
	}
	opts := make(Options, len(spec.Options)+1)
	for k, v := range spec.Options {
		if _, known := st.RecognizedOptions[k]; !known {
			return nil, nil, fmt.Errorf("filter %q: unrecognized option %q", spec.Name, k)
		}
		opts[k] = v
	}
	if spec.Value != nil {
		if st.DefaultOption == "" {
			return nil, nil, fmt.Errorf("filter %q takes no default option", spec.Name)
		}
		if _, dup := opts[st.DefaultOption]; dup {
			return nil, nil, fmt.Errorf("filter %q: option %q given twice", spec.Name, st.DefaultOption)
		}
		opts[st.DefaultOption] = spec.Value
	}
	return st, opts, nil
}

// Validate checks every spec against the registry without running it.
// It reports the first problem as a *SpecError.
func (r *Registry) Validate(specs []Spec) error {
	for i, spec := range specs {
		if _, _, err := r.resolve(spec); err != nil {
			return &SpecError{Stage: spec.Name, Index: i, Err: err}
		}
	}
	return nil
}

// Apply runs specs over payload in order. The first failing stage aborts
// the chain with a *FilterError; no partial output is returned.
func (r *Registry) Apply(payload string, specs []Spec) (string, error) {
	for i, spec := range specs {
		st, opts, err := r.resolve(spec)
		if err != nil {
			return "", &FilterError{Stage: spec.Name, Index: i, Err: err}
		}
		out, err := st.Apply(payload, opts)
		if err != nil {
			return "", &FilterError{Stage: spec.Name, Index: i, Err: err}
		}
		payload = out
	}
	return payload, nil
}
