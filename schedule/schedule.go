// CLAUDE:SUMMARY Daemon loop: reloads job declarations and runs the batch every interval or on demand, with stats.
// Package schedule runs the job batch periodically. Every tick reloads the
// job declarations, so edits to the jobs file apply on the next run without
// a restart.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/runner"
)

// Loader returns the current job declarations. A joined *job.ConfigError
// error alongside valid jobs marks only those declarations invalid; any
// other error fails the whole tick.
type Loader func(ctx context.Context) ([]job.Job, error)

// RunFunc runs a batch, typically (*runner.Runner).Run.
type RunFunc func(ctx context.Context, jobs []job.Job) *runner.Result

// Sink receives every finished run, typically report delivery.
type Sink func(ctx context.Context, res *runner.Result) error

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 15 minutes.
	Interval time.Duration
	// RunOnStart runs once immediately when Run starts.
	RunOnStart bool
	// Manual disables the ticker: Run only serves Trigger.
	Manual bool
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler runs the batch on a ticker and on demand. Runs never overlap.
type Scheduler struct {
	load Loader
	run  RunFunc
	sink Sink
	cfg  Config

	runMu   sync.Mutex
	trigger chan struct{}
	last    atomic.Pointer[runner.Result]

	runs       atomic.Int64
	loadErrors atomic.Int64
	changes    atomic.Int64
	jobErrors  atomic.Int64
	sinkErrors atomic.Int64
	runNs      atomic.Int64
	lastRun    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Runs       int64         `json:"runs"`
	LoadErrors int64         `json:"load_errors"`
	Changes    int64         `json:"changes"`
	JobErrors  int64         `json:"job_errors"`
	SinkErrors int64         `json:"sink_errors"`
	AvgRunTime time.Duration `json:"avg_run_time"`
	LastRun    time.Time     `json:"last_run,omitzero"`
	Interval   time.Duration `json:"interval"`
}

// New creates a Scheduler. sink may be nil.
func New(load Loader, run RunFunc, sink Sink, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		load:    load,
		run:     run,
		sink:    sink,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.cfg.Logger
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	tick := ticker.C
	if s.cfg.Manual {
		ticker.Stop()
		tick = nil
	}

	log.Info("schedule: started", "interval", s.cfg.Interval, "run_on_start", s.cfg.RunOnStart, "manual", s.cfg.Manual)
	if s.cfg.RunOnStart {
		s.Tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("schedule: stopped")
			return
		case <-tick:
			s.Tick(ctx)
		case <-s.trigger:
			s.Tick(ctx)
			if !s.cfg.Manual {
				ticker.Reset(s.cfg.Interval)
			}
		}
	}
}

// Trigger asks the Run loop for an immediate run. It never blocks; a
// trigger already pending absorbs this one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Tick loads the jobs, runs them and hands the result to the sink. It
// returns nil when the declarations could not be loaded.
func (s *Scheduler) Tick(ctx context.Context) *runner.Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	log := s.cfg.Logger

	jobs, err := s.load(ctx)
	if err != nil && len(job.ConfigErrors(err)) == 0 {
		s.loadErrors.Add(1)
		log.Error("schedule: load jobs failed", "error", err)
		return nil
	}
	if err != nil {
		log.Warn("schedule: invalid job declarations", "count", len(job.ConfigErrors(err)), "error", err)
	}

	start := time.Now()
	res := s.run(ctx, jobs)
	res.AddConfigErrors(err)
	elapsed := time.Since(start)

	s.runs.Add(1)
	s.runNs.Add(int64(elapsed))
	s.lastRun.Store(start.UnixNano())
	s.changes.Add(int64(res.Count(runner.StatusChanged)))
	s.jobErrors.Add(int64(res.Count(runner.StatusError)))
	s.last.Store(res)

	if s.sink != nil && ctx.Err() == nil {
		if err := s.sink(ctx, res); err != nil {
			s.sinkErrors.Add(1)
			log.Error("schedule: report delivery failed", "run_id", res.Meta.RunID, "error", err)
		}
	}
	return res
}

// Last returns the most recent result, nil before the first run.
func (s *Scheduler) Last() *runner.Result { return s.last.Load() }

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Runs:       s.runs.Load(),
		LoadErrors: s.loadErrors.Load(),
		Changes:    s.changes.Load(),
		JobErrors:  s.jobErrors.Load(),
		SinkErrors: s.sinkErrors.Load(),
		Interval:   s.cfg.Interval,
	}
	if st.Runs > 0 {
		st.AvgRunTime = time.Duration(s.runNs.Load() / st.Runs)
	}
	if ns := s.lastRun.Load(); ns != 0 {
		st.LastRun = time.Unix(0, ns)
	}
	return st
}
