package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/runner"
)

func fakeRun(status runner.Status) RunFunc {
	return func(_ context.Context, jobs []job.Job) *runner.Result {
		res := &runner.Result{Meta: runner.Meta{RunID: "r", JobCount: len(jobs)}}
		for _, j := range jobs {
			res.Outcomes = append(res.Outcomes, runner.Outcome{Job: j, Status: status})
		}
		return res
	}
}

func jobsOf(n int) []job.Job {
	out := make([]job.Job, n)
	for i := range out {
		out[i] = job.Job{Index: i, Name: "j"}
	}
	return out
}

func TestTick_RunsAndDelivers(t *testing.T) {
	// WHAT: A tick loads, runs, stores the result and calls the sink.
	var delivered *runner.Result
	s := New(
		func(context.Context) ([]job.Job, error) { return jobsOf(2), nil },
		fakeRun(runner.StatusChanged),
		func(_ context.Context, res *runner.Result) error { delivered = res; return nil },
		Config{},
	)

	res := s.Tick(context.Background())
	require.NotNil(t, res)
	assert.Same(t, res, delivered)
	assert.Same(t, res, s.Last())

	st := s.Stats()
	assert.EqualValues(t, 1, st.Runs)
	assert.EqualValues(t, 2, st.Changes)
	assert.False(t, st.LastRun.IsZero())
	assert.Equal(t, 15*time.Minute, st.Interval)
}

func TestTick_ConfigErrorsBecomeOutcomes(t *testing.T) {
	// WHAT: Invalid declarations are reported; valid jobs still run.
	s := New(
		func(context.Context) ([]job.Job, error) {
			return jobsOf(1), errors.Join(&job.ConfigError{Index: 1, Name: "bad", Err: errors.New("url is required")})
		},
		fakeRun(runner.StatusUnchanged),
		nil,
		Config{},
	)
	res := s.Tick(context.Background())
	require.NotNil(t, res)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, runner.StatusError, res.Outcomes[1].Status)
	assert.EqualValues(t, 1, s.Stats().JobErrors)
}

func TestTick_LoadFailureSkipsRun(t *testing.T) {
	ran := false
	s := New(
		func(context.Context) ([]job.Job, error) { return nil, errors.New("no such file") },
		func(ctx context.Context, jobs []job.Job) *runner.Result { ran = true; return &runner.Result{} },
		nil,
		Config{},
	)
	assert.Nil(t, s.Tick(context.Background()))
	assert.False(t, ran)
	assert.EqualValues(t, 1, s.Stats().LoadErrors)
	assert.Nil(t, s.Last())
}

func TestTick_SinkFailureCounted(t *testing.T) {
	s := New(
		func(context.Context) ([]job.Job, error) { return jobsOf(1), nil },
		fakeRun(runner.StatusChanged),
		func(context.Context, *runner.Result) error { return errors.New("webhook down") },
		Config{},
	)
	require.NotNil(t, s.Tick(context.Background()))
	assert.EqualValues(t, 1, s.Stats().SinkErrors)
}

func TestTick_ReloadsEachTime(t *testing.T) {
	// WHAT: Declarations are read on every tick.
	var n atomic.Int32
	s := New(
		func(context.Context) ([]job.Job, error) { return jobsOf(int(n.Add(1))), nil },
		fakeRun(runner.StatusUnchanged),
		nil,
		Config{},
	)
	assert.Len(t, s.Tick(context.Background()).Outcomes, 1)
	assert.Len(t, s.Tick(context.Background()).Outcomes, 2)
}

func TestRun_TickerAndTrigger(t *testing.T) {
	// WHAT: Run fires on start, on trigger, and stops with the context.
	var mu sync.Mutex
	ticks := 0
	done := make(chan struct{}, 10)
	s := New(
		func(context.Context) ([]job.Job, error) { return jobsOf(1), nil },
		fakeRun(runner.StatusUnchanged),
		func(context.Context, *runner.Result) error {
			mu.Lock()
			ticks++
			mu.Unlock()
			done <- struct{}{}
			return nil
		},
		Config{Interval: time.Hour, RunOnStart: true},
	)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	waitTick := func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("tick did not happen")
		}
	}
	waitTick()
	s.Trigger()
	waitTick()

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	mu.Lock()
	assert.Equal(t, 2, ticks)
	mu.Unlock()
}

func TestRun_ManualOnlyServesTrigger(t *testing.T) {
	done := make(chan struct{}, 10)
	s := New(
		func(context.Context) ([]job.Job, error) { return jobsOf(1), nil },
		fakeRun(runner.StatusUnchanged),
		func(context.Context, *runner.Result) error { done <- struct{}{}; return nil },
		Config{Interval: time.Millisecond, Manual: true},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-done:
		t.Fatal("manual scheduler ticked on its own")
	case <-time.After(50 * time.Millisecond):
	}
	s.Trigger()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not served")
	}
}
