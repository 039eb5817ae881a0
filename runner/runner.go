// CLAUDE:SUMMARY Job run orchestrator: bounded worker pool, retrieval retries, filter/compare/render/commit per job.
// Package runner executes a batch of jobs: each job is retrieved, filtered,
// compared against its history, rendered and committed, producing one
// Outcome per job. Jobs run on a bounded worker pool; a failure in one job
// never affects another.
package runner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagewatch/filter"
	"github.com/hazyhaar/pagewatch/history"
	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/retrieve"
)

// DefaultWorkers bounds concurrent jobs when WithWorkers is not given.
const DefaultWorkers = 8

// Runner runs jobs. It is safe for concurrent use; concurrent runs of the
// same job serialize on the job's history.
type Runner struct {
	hist     *history.Keyed
	backend  retrieve.Backend
	content  *filter.Registry
	diff     *filter.Registry
	fetchLog history.FetchLogger

	workers   int
	logger    *slog.Logger
	reportNew bool
	now       func() time.Time
	backoff   time.Duration
	ids       idgen.Generator
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds the number of jobs running at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithReportNew reports first observations as changes (diff against empty).
func WithReportNew(on bool) Option { return func(r *Runner) { r.reportNew = on } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithBackoff sets the wait before the first retry; it doubles per retry.
func WithBackoff(d time.Duration) Option { return func(r *Runner) { r.backoff = d } }

// WithFilters replaces the content and diff stage registries.
func WithFilters(content, diff *filter.Registry) Option {
	return func(r *Runner) {
		r.content = content
		r.diff = diff
	}
}

// WithFetchLog sets where run attempts are recorded. By default the
// history store is used when it implements history.FetchLogger.
func WithFetchLog(fl history.FetchLogger) Option { return func(r *Runner) { r.fetchLog = fl } }

// WithIDGenerator sets the generator for run and fetch-log ids.
func WithIDGenerator(g idgen.Generator) Option { return func(r *Runner) { r.ids = g } }

// New creates a Runner over hist, retrieving through backend.
func New(hist *history.Keyed, backend retrieve.Backend, opts ...Option) *Runner {
	r := &Runner{
		hist:    hist,
		backend: backend,
		content: filter.Content(),
		diff:    filter.Diff(),
		workers: DefaultWorkers,
		logger:  slog.Default(),
		now:     time.Now,
		backoff: time.Second,
		ids:     idgen.Default,
	}
	if fl, ok := hist.Store().(history.FetchLogger); ok {
		r.fetchLog = fl
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Registries returns the stage registries jobs are validated against.
func (r *Runner) Registries() job.Registries {
	return job.Registries{Content: r.content, Diff: r.diff}
}

// Run executes jobs on the worker pool and returns their outcomes in
// declaration order. It returns once every job has an outcome.
func (r *Runner) Run(ctx context.Context, jobs []job.Job) *Result {
	start := r.now()
	res := &Result{
		Meta:     Meta{RunID: r.ids(), Start: start, JobCount: len(jobs)},
		Outcomes: make([]Outcome, len(jobs)),
	}
	log := r.logger.With("run_id", res.Meta.RunID)
	log.Info("runner: run started", "jobs", len(jobs), "workers", r.workers)

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := range jobs {
		g.Go(func() error {
			res.Outcomes[i] = r.runJob(ctx, jobs[i], log)
			return nil
		})
	}
	_ = g.Wait()

	res.sort()
	res.Meta.Elapsed = r.now().Sub(start)
	log.Info("runner: run finished",
		"changed", res.Count(StatusChanged),
		"unchanged", res.Count(StatusUnchanged),
		"errors", res.Count(StatusError),
		"elapsed_ms", res.Meta.Elapsed.Milliseconds())
	return res
}

// RunJob runs a single job outside a batch.
func (r *Runner) RunJob(ctx context.Context, j job.Job) Outcome {
	return r.runJob(ctx, j, r.logger)
}

// Preview retrieves j and applies its content filters without touching
// history.
func (r *Runner) Preview(ctx context.Context, j job.Job) (string, error) {
	res, _, err := r.retrieve(ctx, j, "", r.logger, func(State) {})
	if err != nil {
		return "", err
	}
	if res.Unchanged {
		return "", nil
	}
	return r.content.Apply(string(res.Content), j.Filters)
}
