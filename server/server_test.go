package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/history"
	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/retrieve"
	"github.com/hazyhaar/pagewatch/runner"
	"github.com/hazyhaar/pagewatch/schedule"
)

func urlJob(name, u string, index int) job.Job {
	j := job.Job{Index: index, Name: name, Descriptor: job.Descriptor{Kind: job.KindURL, URL: u}}
	j.ApplyDefaults()
	j.ContextLines = job.DefaultContextLines
	return j
}

type fixture struct {
	store *history.MemoryStore
	svc   *Service
	jobs  []job.Job
	body  atomic.Value
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: history.NewMemoryStore(),
		jobs: []job.Job{
			urlJob("alpha", "https://a.example/", 0),
			urlJob("beta", "https://b.example/", 1),
		},
	}
	f.body.Store("v1")
	backend := retrieve.BackendFunc(func(_ context.Context, req retrieve.Request) (*retrieve.Result, error) {
		return &retrieve.Result{Content: []byte(f.body.Load().(string) + " " + req.Descriptor.URL), StatusCode: 200}, nil
	})
	hist := history.NewKeyed(f.store)
	r := runner.New(hist, backend, runner.WithBackoff(time.Millisecond))
	load := func(context.Context) ([]job.Job, error) { return f.jobs, nil }
	sched := schedule.New(load, r.Run, nil, schedule.Config{Interval: time.Hour})
	f.svc = NewService(load, hist, WithScheduler(sched))
	return f
}

func (f *fixture) runOnce(t *testing.T) *runner.Result {
	t.Helper()
	resp, err := f.svc.Run(context.Background(), true)
	require.NoError(t, err)
	return resp.Result
}

func TestListJobs_HistoryStateAndOrphans(t *testing.T) {
	f := newFixture(t)
	f.runOnce(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "deadbeefcafe", history.Record{{Content: "old", Timestamp: time.Now()}}))

	list, err := f.svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, "alpha", list.Jobs[0].Name)
	assert.Equal(t, 1, list.Jobs[0].Snapshots)
	assert.False(t, list.Jobs[0].LastChecked.IsZero())
	assert.NotEmpty(t, list.Jobs[0].LastHash)
	assert.Equal(t, []string{"deadbeefcafe"}, list.Orphans)
}

func TestListJobs_InvalidDeclarations(t *testing.T) {
	hist := history.NewKeyed(history.NewMemoryStore())
	svc := NewService(func(context.Context) ([]job.Job, error) {
		return nil, errors.Join(&job.ConfigError{Index: 0, Name: "broken", Err: errors.New("url is required")})
	}, hist)
	list, err := svc.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Invalid, 1)
	assert.Equal(t, "broken", list.Invalid[0].Name)

	svc = NewService(func(context.Context) ([]job.Job, error) { return nil, errors.New("no such file") }, hist)
	_, err = svc.ListJobs(context.Background())
	assert.ErrorContains(t, err, "no such file")
}

func TestListJobs_CorruptRecordIsolated(t *testing.T) {
	// WHAT: A job whose stored record fails to load is flagged; the other
	// jobs are still listed with their state.
	// WHY: One damaged record must not hide every other job from operators.
	store := history.NewSQLiteStore(dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema)))
	ctx := context.Background()
	good := urlJob("good", "https://good.example/", 0)
	bad := urlJob("bad", "https://bad.example/", 1)
	require.NoError(t, store.Save(ctx, good.ID, history.Record{{Content: "g", Timestamp: time.Now()}}))
	require.NoError(t, store.Save(ctx, bad.ID, history.Record{{Content: "b", Timestamp: time.Now()}}))
	_, err := store.DB.Exec(`UPDATE snapshots SET content = 'tampered' WHERE job_id = ?`, bad.ID)
	require.NoError(t, err)

	svc := NewService(func(context.Context) ([]job.Job, error) { return []job.Job{good, bad}, nil }, history.NewKeyed(store))
	list, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)

	assert.Empty(t, list.Jobs[0].Error)
	assert.Equal(t, 1, list.Jobs[0].Snapshots)
	assert.NotEmpty(t, list.Jobs[1].Error)
	assert.Equal(t, 0, list.Jobs[1].Snapshots)

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := f.jobs[0]

	id, j, err := f.svc.Resolve(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, id)
	require.NotNil(t, j)

	id, _, err = f.svc.Resolve(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, f.jobs[1].ID, id)

	id, _, err = f.svc.Resolve(ctx, alpha.Short())
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, id)

	_, _, err = f.svc.Resolve(ctx, "nope-nothing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, _, err = f.svc.Resolve(ctx, "ab")
	assert.ErrorIs(t, err, ErrJobNotFound, "short prefixes are not searched")

	// WHY: A stored id without a declaration is still addressable so its
	// history can be inspected or reset.
	require.NoError(t, f.store.Save(ctx, "orphan0001", history.Record{{Content: "x"}}))
	id, j, err = f.svc.Resolve(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "orphan0001", id)
	assert.Nil(t, j)

	require.NoError(t, f.store.Save(ctx, "orphan0002", history.Record{{Content: "y"}}))
	_, _, err = f.svc.Resolve(ctx, "orphan")
	assert.ErrorIs(t, err, ErrAmbiguousJob)
}

func TestHistoryAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runOnce(t)
	f.body.Store("v2")
	res := f.runOnce(t)
	assert.Equal(t, runner.StatusChanged, res.Outcomes[0].Status)

	h, err := f.svc.History(ctx, "alpha", 0, true)
	require.NoError(t, err)
	assert.True(t, h.Declared)
	require.Len(t, h.Snapshots, 2)
	assert.Equal(t, "v2 https://a.example/", h.Snapshots[0].Content)
	assert.Equal(t, 0, h.Snapshots[0].Position)

	h, err = f.svc.History(ctx, "alpha", 1, false)
	require.NoError(t, err)
	require.Len(t, h.Snapshots, 1)
	assert.Empty(t, h.Snapshots[0].Content)

	reset, err := f.svc.Reset(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, reset.Deleted)

	rec, err := f.store.Load(ctx, f.jobs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, rec)

	res = f.runOnce(t)
	assert.True(t, res.Outcomes[0].Baseline, "a reset job starts over")
}

func TestFetches(t *testing.T) {
	f := newFixture(t)
	f.runOnce(t)
	entries, err := f.svc.Fetches(context.Background(), "beta", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f.jobs[1].ID, entries[0].JobID)
}

func TestRunAndLast_NoScheduler(t *testing.T) {
	svc := NewService(func(context.Context) ([]job.Job, error) { return nil, nil }, history.NewKeyed(history.NewMemoryStore()))
	_, err := svc.Run(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoScheduler)
	_, err = svc.Last(context.Background())
	assert.ErrorIs(t, err, ErrNoScheduler)
	assert.Nil(t, svc.Stats())
}

func doJSON(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestHTTP_Routes(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Handler()

	var health map[string]any
	rec := doJSON(t, h, http.MethodGet, "/health", &health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, h, http.MethodGet, "/api/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var run struct {
		Result struct {
			Outcomes []map[string]any `json:"outcomes"`
		} `json:"result"`
	}
	rec = doJSON(t, h, http.MethodPost, "/api/run?wait=true", &run)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, run.Result.Outcomes, 2)
	assert.Equal(t, "unchanged", run.Result.Outcomes[0]["status"])
	assert.Equal(t, true, run.Result.Outcomes[0]["baseline"])

	rec = doJSON(t, h, http.MethodGet, "/api/last", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var list JobList
	doJSON(t, h, http.MethodGet, "/api/jobs", &list)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, 1, list.Jobs[1].Snapshots)

	var hist JobHistory
	rec = doJSON(t, h, http.MethodGet, "/api/jobs/alpha/history?content=1", &hist)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, hist.Snapshots, 1)
	assert.True(t, strings.HasPrefix(hist.Snapshots[0].Content, "v1"))

	var fetches []history.FetchLogEntry
	doJSON(t, h, http.MethodGet, "/api/jobs/"+f.jobs[0].ID+"/fetches?limit=5", &fetches)
	assert.Len(t, fetches, 1)

	var reset ResetResult
	rec = doJSON(t, h, http.MethodDelete, "/api/jobs/alpha/history", &reset)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reset.Deleted)

	var errBody map[string]string
	rec = doJSON(t, h, http.MethodGet, "/api/jobs/unknown-job/history", &errBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, errBody["error"], "not found")
}

func TestHTTP_RunTriggerIsAccepted(t *testing.T) {
	f := newFixture(t)
	var resp RunResponse
	rec := doJSON(t, f.svc.Handler(), http.MethodPost, "/api/run", &resp)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, resp.Triggered)
}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := svc.NewMCPServer("test")
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(&mcp.Implementation{Name: "pagewatch-test", Version: "0.1.0"}, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NoError(t, result.GetError())
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content type %T", result.Content[0])
	return tc.Text
}

func TestMCP_Tools(t *testing.T) {
	f := newFixture(t)
	session := mcpSession(t, f.svc)

	var run RunResponse
	require.NoError(t, json.Unmarshal([]byte(callTool(t, session, "pagewatch_run", map[string]any{"wait": true})), &run))
	require.NotNil(t, run.Result)

	var list JobList
	require.NoError(t, json.Unmarshal([]byte(callTool(t, session, "pagewatch_list_jobs", map[string]any{})), &list))
	assert.Len(t, list.Jobs, 2)

	var hist JobHistory
	require.NoError(t, json.Unmarshal([]byte(callTool(t, session, "pagewatch_history", map[string]any{"job": "beta"})), &hist))
	assert.Len(t, hist.Snapshots, 1)

	var reset ResetResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, session, "pagewatch_reset", map[string]any{"job": "beta"})), &reset))
	assert.Equal(t, 1, reset.Deleted)

	var fetches []history.FetchLogEntry
	require.NoError(t, json.Unmarshal([]byte(callTool(t, session, "pagewatch_fetches", map[string]any{"job": "alpha"})), &fetches))
	assert.Len(t, fetches, 1)
}

func TestMCP_UnknownJobIsToolError(t *testing.T) {
	f := newFixture(t)
	session := mcpSession(t, f.svc)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "pagewatch_history",
		Arguments: map[string]any{"job": "missing-job"},
	})
	require.NoError(t, err)
	assert.Error(t, result.GetError())
}
