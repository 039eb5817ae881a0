package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagewatch/detect"
	"github.com/hazyhaar/pagewatch/filter"
	"github.com/hazyhaar/pagewatch/history"
	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/render"
	"github.com/hazyhaar/pagewatch/retrieve"
)

// jobRun carries one job through the state machine.
type jobRun struct {
	r     *Runner
	j     job.Job
	log   *slog.Logger
	start time.Time
	out   Outcome

	statusCode  int
	contentHash string
}

func (r *Runner) runJob(ctx context.Context, j job.Job, parent *slog.Logger) Outcome {
	run := &jobRun{
		r:     r,
		j:     j,
		log:   parent.With("job_id", j.Short(), "job", j.Name),
		start: r.now(),
		out:   Outcome{Job: j, State: StatePending, ClosestIndex: -1},
	}
	run.execute(ctx)
	run.out.Elapsed = r.now().Sub(run.start)
	run.record(ctx)
	run.log.Debug("runner: state", "state", StateDone, "from", run.out.State)
	return run.out
}

func (run *jobRun) enter(s State) {
	run.out.State = s
	run.log.Debug("runner: state", "state", s)
}

func (run *jobRun) fail(err error) {
	run.out.Status = StatusError
	run.out.Err = err
}

func (run *jobRun) execute(ctx context.Context) {
	r, j := run.r, run.j

	tx, err := r.hist.Begin(ctx, j.ID)
	if err != nil {
		run.log.Error("runner: history load failed", "error", err)
		run.fail(err)
		return
	}
	defer tx.Release()
	// Captured errors are kept beside the states, never compared against.
	rec := tx.Record.States()

	prior := ""
	if latest, ok := rec.Latest(); ok && !j.IgnoreCached {
		prior = latest.RevisionMarker
	}

	run.enter(StateRetrieving)
	res, attempts, rerr := r.retrieve(ctx, j, prior, run.log, run.enter)
	run.out.Attempts = attempts
	if rerr != nil {
		run.retrievalFailed(ctx, tx, rerr)
		return
	}
	run.statusCode = res.StatusCode
	now := r.now()

	// The commit step runs to completion once retrieval succeeded.
	commitCtx := context.WithoutCancel(ctx)

	if res.Unchanged {
		run.out.Status = StatusUnchanged
		run.out.NotModified = true
		run.enter(StateIdle)
		if len(rec) > 0 {
			if err := tx.Save(commitCtx, history.Touch(rec, history.Snapshot{Timestamp: now, RevisionMarker: res.Marker})); err != nil {
				run.log.Error("runner: history save failed", "error", err)
				run.fail(err)
			}
		}
		return
	}

	run.enter(StateFiltering)
	content, err := r.content.Apply(string(res.Content), j.Filters)
	if err != nil {
		run.log.Warn("runner: filter failed", "error", err)
		run.fail(err)
		return
	}

	run.enter(StateComparing)
	snap := history.Snapshot{Content: content, RevisionMarker: res.Marker, Timestamp: now}
	run.contentHash = snap.Hash()
	verdict := detect.Evaluate(content, rec)
	opts := render.Options{
		Mode:         render.ModeFor(j.AdditionsOnly, j.DeletionsOnly),
		ContextLines: j.ContextLines,
		Filters:      j.DiffFilters,
		Registry:     r.diff,
	}

	var diff string
	switch verdict.Kind {
	case detect.NoHistory:
		run.out.Baseline = true
		if j.ReportsNew(r.reportNew) {
			diff, err = render.Render(history.Snapshot{}, snap, nil, opts)
		}
	case detect.Changed:
		run.out.ClosestIndex = verdict.Index
		diff, err = render.Render(rec[verdict.Index], snap, rec, opts)
	case detect.Unchanged:
		run.out.ClosestIndex = verdict.Index
	}
	if err != nil {
		run.log.Warn("runner: diff filter failed", "error", err)
		run.fail(err)
		return
	}

	if err := tx.Save(commitCtx, detect.Apply(verdict, rec, snap, j.ComparedVersions)); err != nil {
		run.log.Error("runner: history save failed", "error", err)
		run.fail(err)
		return
	}

	if diff == "" {
		run.out.Status = StatusUnchanged
		run.enter(StateIdle)
		return
	}
	run.out.Status = StatusChanged
	run.out.Diff = diff
	run.enter(StateReporting)
	run.log.Info("runner: change detected", "closest_index", run.out.ClosestIndex, "baseline", run.out.Baseline)
}

func (run *jobRun) retrievalFailed(ctx context.Context, tx *history.Txn, re *retrieve.Error) {
	j := run.j
	run.statusCode = re.StatusCode

	if ctx.Err() == nil && ignored(j, re) {
		run.log.Info("runner: retrieval error ignored", "kind", re.Kind, "error", re)
		run.out.Status = StatusUnchanged
		run.out.Ignored = true
		run.out.Err = re
		run.enter(StateIdle)
		return
	}

	run.log.Warn("runner: retrieval failed", "kind", re.Kind, "attempts", run.out.Attempts, "error", re)
	run.fail(re)
	if !j.CaptureErrors || ctx.Err() != nil {
		return
	}

	rec := tx.Record
	snap := history.Snapshot{Content: re.Error(), Timestamp: run.r.now(), IsError: true}
	if latest, ok := rec.Latest(); ok && latest.IsError && latest.Content == snap.Content {
		run.out.Repeated = true
	}
	if err := tx.Save(context.WithoutCancel(ctx), history.MarkError(rec, snap)); err != nil {
		run.log.Error("runner: history save failed", "error", err)
		run.out.Err = errors.Join(re, err)
	}
}

func ignored(j job.Job, re *retrieve.Error) bool {
	switch re.Kind {
	case retrieve.KindConnection:
		return j.IgnoreConnectionErrors
	case retrieve.KindTimeout:
		return j.IgnoreTimeoutErrors
	case retrieve.KindTooManyRedirects:
		return j.IgnoreTooManyRedirects
	case retrieve.KindHTTPStatus:
		return j.IgnoresStatus(re.StatusCode)
	}
	return false
}

// retrieve fetches j, retrying retryable failures up to MaxTries attempts
// in total with exponential backoff. Timeout bounds each attempt. enter is
// told when a backoff starts and when the next attempt begins.
func (r *Runner) retrieve(ctx context.Context, j job.Job, prior string, log *slog.Logger, enter func(State)) (*retrieve.Result, int, *retrieve.Error) {
	req := retrieve.Request{Descriptor: j.Descriptor, PriorMarker: prior}
	maxTries := max(j.MaxTries, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, retrieve.AsError(err)
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if j.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, j.Timeout)
		}
		res, err := r.backend.Fetch(actx, req)
		cancel()
		if err == nil {
			if res == nil {
				return nil, attempt, &retrieve.Error{Kind: retrieve.KindInvalid, Err: fmt.Errorf("backend returned no result")}
			}
			return res, attempt, nil
		}

		re := retrieve.AsError(err)
		if ctx.Err() != nil {
			return nil, attempt, retrieve.AsError(ctx.Err())
		}
		if !re.Retryable || attempt >= maxTries {
			return nil, attempt, re
		}

		wait := r.backoff * time.Duration(1<<uint(attempt-1))
		log.Warn("runner: retrying retrieval",
			"attempt", attempt,
			"max_tries", maxTries,
			"backoff_ms", wait.Milliseconds(),
			"error", re)
		enter(StateRetrying)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, attempt, retrieve.AsError(ctx.Err())
		case <-t.C:
		}
		enter(StateRetrieving)
	}
}

// record writes the fetch log entry of a finished run.
func (run *jobRun) record(ctx context.Context) {
	fl := run.r.fetchLog
	if fl == nil || run.j.ID == "" {
		return
	}
	o := run.out
	status := string(o.Status)
	switch {
	case o.Ignored:
		status = history.FetchIgnored
	case o.NotModified:
		status = history.FetchNotModified
	case errors.As(o.Err, new(*filter.FilterError)):
		status = history.FetchFilterError
	}
	e := history.FetchLogEntry{
		ID:          "fl_" + run.r.ids(),
		JobID:       run.j.ID,
		Status:      status,
		StatusCode:  run.statusCode,
		ContentHash: run.contentHash,
		Attempts:    o.Attempts,
		DurationMs:  o.Elapsed.Milliseconds(),
		FetchedAt:   run.start,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	if err := fl.LogFetch(context.WithoutCancel(ctx), e); err != nil {
		run.log.Warn("runner: fetch log write failed", "error", err)
	}
}
