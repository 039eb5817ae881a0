package runner

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hazyhaar/pagewatch/job"
)

// Status is the reported result of one job run.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusChanged   Status = "changed"
	StatusError     Status = "error"
)

// State is a step of the per-job state machine.
type State string

const (
	StatePending    State = "pending"
	StateRetrieving State = "retrieving"
	StateRetrying   State = "retrying"
	StateFiltering  State = "filtering"
	StateComparing  State = "comparing"
	StateReporting  State = "reporting"
	StateIdle       State = "idle"
	StateDone       State = "done"
)

// Outcome is the result of one job in a run.
type Outcome struct {
	Job     job.Job
	Status  Status
	Diff    string
	Err     error
	Elapsed time.Duration

	// Baseline marks the first observation of the job.
	Baseline bool
	// Ignored marks a retrieval error suppressed by the job's policy.
	Ignored bool
	// NotModified marks a run short-circuited by the revision marker.
	NotModified bool
	// Repeated marks a captured error identical to the previous one.
	Repeated bool

	Attempts int
	// State is the last step reached before done.
	State State
	// ClosestIndex is the history position compared against, -1 if none.
	ClosestIndex int
}

type outcomeJSON struct {
	JobID        string `json:"job_id"`
	Name         string `json:"name"`
	Index        int    `json:"index"`
	Kind         string `json:"kind"`
	Location     string `json:"location"`
	Status       Status `json:"status"`
	Diff         string `json:"diff,omitempty"`
	Error        string `json:"error,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	Baseline     bool   `json:"baseline,omitempty"`
	Ignored      bool   `json:"ignored,omitempty"`
	NotModified  bool   `json:"not_modified,omitempty"`
	Repeated     bool   `json:"repeated,omitempty"`
	Attempts     int    `json:"attempts"`
	State        State  `json:"state"`
	ClosestIndex int    `json:"closest_index"`
}

// MarshalJSON flattens the outcome for reports and the status API.
func (o Outcome) MarshalJSON() ([]byte, error) {
	v := outcomeJSON{
		JobID:        o.Job.ID,
		Name:         o.Job.Name,
		Index:        o.Job.Index,
		Kind:         string(o.Job.Descriptor.Kind),
		Location:     o.Job.Descriptor.Location(),
		Status:       o.Status,
		Diff:         o.Diff,
		ElapsedMs:    o.Elapsed.Milliseconds(),
		Baseline:     o.Baseline,
		Ignored:      o.Ignored,
		NotModified:  o.NotModified,
		Repeated:     o.Repeated,
		Attempts:     o.Attempts,
		State:        o.State,
		ClosestIndex: o.ClosestIndex,
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return json.Marshal(v)
}

// Meta describes a whole run.
type Meta struct {
	RunID    string        `json:"run_id"`
	Start    time.Time     `json:"start"`
	Elapsed  time.Duration `json:"elapsed"`
	JobCount int           `json:"job_count"`
}

// Result is the outcome of a run, ordered by job declaration index.
type Result struct {
	Meta     Meta      `json:"meta"`
	Outcomes []Outcome `json:"outcomes"`
}

// ExitCode is 1 when any job ended in error, 0 otherwise.
func (r *Result) ExitCode() int {
	for _, o := range r.Outcomes {
		if o.Status == StatusError {
			return 1
		}
	}
	return 0
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// AddConfigErrors reports every invalid declaration in err as an error
// outcome, keeping the declaration order.
func (r *Result) AddConfigErrors(err error) {
	for _, ce := range job.ConfigErrors(err) {
		r.Outcomes = append(r.Outcomes, Outcome{
			Job:          job.Job{Name: ce.Name, Index: ce.Index},
			Status:       StatusError,
			Err:          ce,
			State:        StatePending,
			ClosestIndex: -1,
		})
	}
	r.sort()
	r.Meta.JobCount = len(r.Outcomes)
}

func (r *Result) sort() {
	sort.SliceStable(r.Outcomes, func(i, k int) bool {
		return r.Outcomes[i].Job.Index < r.Outcomes[k].Job.Index
	})
}
