// CLAUDE:SUMMARY Operator operations over jobs and history (list, history, fetch log, reset, run), shared by HTTP, MCP and the CLI.
// Package server exposes pagewatch state to operators: a chi status API,
// MCP tools for agents, and the same operations for the CLI. Every
// operation is a kit.Endpoint so each transport only decodes arguments.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/history"
	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/runner"
	"github.com/hazyhaar/pagewatch/schedule"
)

var (
	ErrJobNotFound  = errors.New("server: job not found")
	ErrAmbiguousJob = errors.New("server: job reference is ambiguous")
	ErrNoScheduler  = errors.New("server: runs are not available")
	ErrNoRun        = errors.New("server: no run has completed yet")
	ErrNoFetchLog   = errors.New("server: store keeps no fetch log")
)

// minPrefix is the shortest id prefix accepted as a job reference.
const minPrefix = 6

// Service implements the operator operations.
type Service struct {
	load     schedule.Loader
	hist     *history.Keyed
	fetchLog history.FetchLogger
	sched    *schedule.Scheduler
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithScheduler enables run and last-result operations.
func WithScheduler(s *schedule.Scheduler) Option { return func(svc *Service) { svc.sched = s } }

func WithLogger(l *slog.Logger) Option { return func(svc *Service) { svc.logger = l } }

// WithFetchLog overrides the fetch log; by default the history store is
// used when it keeps one.
func WithFetchLog(fl history.FetchLogger) Option { return func(svc *Service) { svc.fetchLog = fl } }

// NewService creates a Service reading job declarations through load.
func NewService(load schedule.Loader, hist *history.Keyed, opts ...Option) *Service {
	s := &Service{load: load, hist: hist, logger: slog.Default()}
	if fl, ok := hist.Store().(history.FetchLogger); ok {
		s.fetchLog = fl
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// JobInfo describes a declared job and the state of its history.
type JobInfo struct {
	ID          string    `json:"id"`
	Short       string    `json:"short"`
	Name        string    `json:"name"`
	Index       int       `json:"index"`
	Kind        string    `json:"kind"`
	Location    string    `json:"location"`
	Snapshots   int       `json:"snapshots"`
	LastChecked time.Time `json:"last_checked,omitzero"`
	LastHash    string    `json:"last_hash,omitempty"`
	LastIsError bool      `json:"last_is_error,omitempty"`
	// Error is set when the job's history could not be loaded.
	Error string `json:"error,omitempty"`
}

// InvalidJob is a declaration that failed validation.
type InvalidJob struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// JobList is the result of ListJobs. Orphans are stored histories whose
// job is no longer declared.
type JobList struct {
	Jobs    []JobInfo    `json:"jobs"`
	Invalid []InvalidJob `json:"invalid,omitempty"`
	Orphans []string     `json:"orphans,omitempty"`
}

// ListJobs returns the declared jobs with their history state.
func (s *Service) ListJobs(ctx context.Context) (*JobList, error) {
	jobs, invalid, err := s.declared(ctx)
	if err != nil {
		return nil, err
	}
	out := &JobList{Jobs: make([]JobInfo, 0, len(jobs)), Invalid: invalid}
	declared := make(map[string]bool, len(jobs))
	store := s.hist.Store()
	for _, j := range jobs {
		declared[j.ID] = true
		info := JobInfo{
			ID:       j.ID,
			Short:    j.Short(),
			Name:     j.Name,
			Index:    j.Index,
			Kind:     string(j.Descriptor.Kind),
			Location: j.Descriptor.Location(),
		}
		rec, err := store.Load(ctx, j.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("server: history unreadable", "job_id", j.ID, "error", err)
			info.Error = err.Error()
			out.Jobs = append(out.Jobs, info)
			continue
		}
		info.Snapshots = len(rec)
		if latest, ok := rec.Latest(); ok {
			info.LastChecked = latest.Timestamp
			info.LastHash = latest.Hash()
			info.LastIsError = latest.IsError
		}
		out.Jobs = append(out.Jobs, info)
	}

	ids, err := store.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: list history ids: %w", err)
	}
	for _, id := range ids {
		if !declared[id] {
			out.Orphans = append(out.Orphans, id)
		}
	}
	return out, nil
}

// SnapshotInfo is one history entry. Position 0 is the newest.
type SnapshotInfo struct {
	Position       int       `json:"position"`
	Timestamp      time.Time `json:"timestamp"`
	Hash           string    `json:"hash"`
	Size           int       `json:"size"`
	IsError        bool      `json:"is_error,omitempty"`
	RevisionMarker string    `json:"revision_marker,omitempty"`
	Content        string    `json:"content,omitempty"`
}

// JobHistory is the result of History.
type JobHistory struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Declared  bool           `json:"declared"`
	Snapshots []SnapshotInfo `json:"snapshots"`
}

// History returns up to limit snapshots of the referenced job, newest
// first. limit <= 0 returns all of them.
func (s *Service) History(ctx context.Context, ref string, limit int, withContent bool) (*JobHistory, error) {
	id, j, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec, err := s.hist.Store().Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("server: load history: %w", err)
	}
	if limit > 0 && len(rec) > limit {
		rec = rec[:limit]
	}
	out := &JobHistory{ID: id, Declared: j != nil, Snapshots: make([]SnapshotInfo, 0, len(rec))}
	if j != nil {
		out.Name = j.Name
	}
	for i, snap := range rec {
		info := SnapshotInfo{
			Position:       i,
			Timestamp:      snap.Timestamp,
			Hash:           snap.Hash(),
			Size:           len(snap.Content),
			IsError:        snap.IsError,
			RevisionMarker: snap.RevisionMarker,
		}
		if withContent {
			info.Content = snap.Content
		}
		out.Snapshots = append(out.Snapshots, info)
	}
	return out, nil
}

// Fetches returns the newest fetch-log entries of the referenced job.
func (s *Service) Fetches(ctx context.Context, ref string, limit int) ([]history.FetchLogEntry, error) {
	if s.fetchLog == nil {
		return nil, ErrNoFetchLog
	}
	id, _, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.fetchLog.FetchLog(ctx, id, limit)
}

// ResetResult reports a history reset.
type ResetResult struct {
	ID      string `json:"id"`
	Deleted int    `json:"deleted"`
}

// Reset drops the history of the referenced job. The next run of the job
// is a first observation again.
func (s *Service) Reset(ctx context.Context, ref string) (*ResetResult, error) {
	id, _, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec, err := s.hist.Store().Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("server: load history: %w", err)
	}
	if err := s.hist.Reset(ctx, id); err != nil {
		return nil, fmt.Errorf("server: reset %s: %w", id, err)
	}
	s.logger.Info("server: history reset", "job_id", id, "snapshots", len(rec))
	return &ResetResult{ID: id, Deleted: len(rec)}, nil
}

// RunResponse is the result of Run. Result is set only for waited runs.
type RunResponse struct {
	Triggered bool           `json:"triggered,omitempty"`
	Result    *runner.Result `json:"result,omitempty"`
}

// Run starts a batch. With wait it runs synchronously and returns the
// result; otherwise it asks the daemon loop for an immediate run.
func (s *Service) Run(ctx context.Context, wait bool) (*RunResponse, error) {
	if s.sched == nil {
		return nil, ErrNoScheduler
	}
	if !wait {
		s.sched.Trigger()
		return &RunResponse{Triggered: true}, nil
	}
	res := s.sched.Tick(ctx)
	if res == nil {
		return nil, errors.New("server: job declarations could not be loaded")
	}
	return &RunResponse{Result: res}, nil
}

// Last returns the most recent run result.
func (s *Service) Last(context.Context) (*runner.Result, error) {
	if s.sched == nil {
		return nil, ErrNoScheduler
	}
	res := s.sched.Last()
	if res == nil {
		return nil, ErrNoRun
	}
	return res, nil
}

// Stats returns the scheduler counters, nil without a scheduler.
func (s *Service) Stats() *schedule.Stats {
	if s.sched == nil {
		return nil
	}
	st := s.sched.Stats()
	return &st
}

// Resolve maps a job reference to a history id. A reference is a full id,
// a job name, or an id prefix of at least six characters. Declared jobs
// are searched first, then stored histories; j is nil for an orphan.
func (s *Service) Resolve(ctx context.Context, ref string) (id string, j *job.Job, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil, fmt.Errorf("%w: empty reference", ErrJobNotFound)
	}
	jobs, _, err := s.declared(ctx)
	if err != nil {
		return "", nil, err
	}
	for i := range jobs {
		if jobs[i].ID == ref {
			return ref, &jobs[i], nil
		}
	}
	var byName []*job.Job
	for i := range jobs {
		if jobs[i].Name == ref {
			byName = append(byName, &jobs[i])
		}
	}
	switch len(byName) {
	case 1:
		return byName[0].ID, byName[0], nil
	case 0:
	default:
		return "", nil, fmt.Errorf("%w: %d jobs are named %q", ErrAmbiguousJob, len(byName), ref)
	}

	stored, err := s.hist.Store().IDs(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("server: list history ids: %w", err)
	}
	if len(ref) < minPrefix {
		for _, sid := range stored {
			if sid == ref {
				return sid, nil, nil
			}
		}
		return "", nil, fmt.Errorf("%w: %q", ErrJobNotFound, ref)
	}

	matches := make(map[string]*job.Job)
	for i := range jobs {
		if strings.HasPrefix(jobs[i].ID, ref) {
			matches[jobs[i].ID] = &jobs[i]
		}
	}
	for _, sid := range stored {
		if _, ok := matches[sid]; !ok && strings.HasPrefix(sid, ref) {
			matches[sid] = nil
		}
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("%w: %q", ErrJobNotFound, ref)
	case 1:
		for mid, mj := range matches {
			return mid, mj, nil
		}
	}
	ids := make([]string, 0, len(matches))
	for mid := range matches {
		ids = append(ids, mid)
	}
	sort.Strings(ids)
	return "", nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguousJob, ref, strings.Join(ids, ", "))
}

// declared loads the jobs, splitting off invalid declarations. Any other
// load failure is returned.
func (s *Service) declared(ctx context.Context) ([]job.Job, []InvalidJob, error) {
	jobs, err := s.load(ctx)
	if err == nil {
		return jobs, nil, nil
	}
	ces := job.ConfigErrors(err)
	if len(ces) == 0 {
		return nil, nil, fmt.Errorf("server: load jobs: %w", err)
	}
	invalid := make([]InvalidJob, 0, len(ces))
	for _, ce := range ces {
		invalid = append(invalid, InvalidJob{Index: ce.Index, Name: ce.Name, Error: ce.Err.Error()})
	}
	return jobs, invalid, nil
}
