package history_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/pagewatch/history"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snap(content string, minute int) history.Snapshot {
	return history.Snapshot{Content: content, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func contents(r history.Record) []string {
	out := make([]string, len(r))
	for i, s := range r {
		out[i] = s.Content
	}
	return out
}

func TestCommit_FrontInsertAndEviction(t *testing.T) {
	// WHAT: New states go to the front; the oldest falls off past the limit.
	var rec history.Record
	var ok bool
	for i, c := range []string{"a", "b", "c", "d"} {
		rec, ok = history.Commit(rec, snap(c, i), 3)
		require.True(t, ok)
		assert.LessOrEqual(t, len(rec), 3)
	}
	assert.Equal(t, []string{"d", "c", "b"}, contents(rec))
}

func TestCommit_DuplicateIsNoop(t *testing.T) {
	// WHAT: Committing content already present leaves the record untouched.
	// WHY: Every stored state must be distinct.
	rec, _ := history.Commit(nil, snap("a", 0), 3)
	rec, _ = history.Commit(rec, snap("b", 1), 3)

	again, ok := history.Commit(rec, snap("a", 2), 3)
	assert.False(t, ok)
	assert.Equal(t, rec, again)
	assert.Equal(t, []string{"b", "a"}, contents(again))
}

func TestCommit_DoesNotMutateInput(t *testing.T) {
	rec, _ := history.Commit(nil, snap("a", 0), 2)
	before := append(history.Record(nil), rec...)
	_, _ = history.Commit(rec, snap("b", 1), 2)
	assert.Equal(t, before, rec)
}

func TestPromote(t *testing.T) {
	// WHAT: Promote moves the matched state to the front with fresh metadata.
	rec := history.Record{snap("s1", 0), snap("s2", 1), snap("s3", 2)}
	fresh := history.Snapshot{Content: "s2", RevisionMarker: `"etag2"`, Timestamp: t0.Add(time.Hour)}

	out := history.Promote(rec, 1, fresh, 3)
	assert.Equal(t, []string{"s2", "s1", "s3"}, contents(out))
	assert.Equal(t, `"etag2"`, out[0].RevisionMarker)
	assert.Equal(t, t0.Add(time.Hour), out[0].Timestamp)
	assert.Equal(t, []string{"s1", "s2", "s3"}, contents(rec), "input untouched")

	// Out of range just truncates.
	assert.Len(t, history.Promote(rec, 7, fresh, 2), 2)
}

func TestTouchAndTruncate(t *testing.T) {
	rec := history.Record{{Content: "a", RevisionMarker: "m1", Timestamp: t0}, snap("b", 1)}

	out := history.Touch(rec, history.Snapshot{Timestamp: t0.Add(time.Hour)})
	assert.Equal(t, t0.Add(time.Hour), out[0].Timestamp)
	assert.Equal(t, "m1", out[0].RevisionMarker, "empty marker keeps the old one")
	assert.Equal(t, t0, rec[0].Timestamp)

	assert.Empty(t, history.Touch(nil, snap("x", 0)))
	assert.Len(t, history.Truncate(rec, 1), 1)
	assert.Len(t, history.Truncate(rec, 0), 1)
	assert.Len(t, history.Truncate(rec, 5), 2)
}

func TestRecord_LatestIndexOf(t *testing.T) {
	var empty history.Record
	_, ok := empty.Latest()
	assert.False(t, ok)

	rec := history.Record{snap("x", 0), snap("y", 1)}
	latest, ok := rec.Latest()
	require.True(t, ok)
	assert.Equal(t, "x", latest.Content)
	assert.Equal(t, 1, rec.IndexOf("y"))
	assert.Equal(t, -1, rec.IndexOf("z"))
}

func TestKeyed_SameIDSerialized(t *testing.T) {
	// WHAT: Concurrent cycles on one id never interleave.
	// WHY: Lost updates would drop or duplicate states.
	k := history.NewKeyed(history.NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	var inside atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := k.Begin(ctx, "job")
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Release()
			assert.Equal(t, int32(1), inside.Add(1))
			rec, _ := history.Commit(tx.Record, snap(fmt.Sprint(i), i), 100)
			assert.NoError(t, tx.Save(ctx, rec))
			inside.Add(-1)
		}()
	}
	wg.Wait()

	rec, err := k.Store().Load(ctx, "job")
	require.NoError(t, err)
	assert.Len(t, rec, 20, "every cycle saw the previous one's write")
}

func TestKeyed_DifferentIDsDoNotBlock(t *testing.T) {
	// WHAT: A held cycle on one id does not delay another id.
	k := history.NewKeyed(history.NewMemoryStore())
	ctx := context.Background()

	held, err := k.Begin(ctx, "a")
	require.NoError(t, err)
	defer held.Release()

	done := make(chan struct{})
	go func() {
		tx, err := k.Begin(ctx, "b")
		if err == nil {
			tx.Release()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle on b blocked behind a")
	}
}

func TestKeyed_BeginHonoursContext(t *testing.T) {
	k := history.NewKeyed(history.NewMemoryStore())
	held, err := k.Begin(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Begin(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	held.Release() // idempotent
	tx, err := k.Begin(context.Background(), "a")
	require.NoError(t, err)
	tx.Release()
}

func TestKeyed_Reset(t *testing.T) {
	store := history.NewMemoryStore()
	k := history.NewKeyed(store)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a", history.Record{snap("x", 0)}))

	require.NoError(t, k.Reset(ctx, "a"))
	rec, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestMemoryStore_FetchLog(t *testing.T) {
	m := history.NewMemoryStore()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, m.LogFetch(ctx, history.FetchLogEntry{ID: fmt.Sprint(i), JobID: "j", Status: history.FetchUnchanged}))
	}
	got, err := m.FetchLog(ctx, "j", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestMarkError_KeepsStates(t *testing.T) {
	// WHAT: The error entry sits in front of every state, replacing any
	// previous error entry, and never evicts a state.
	rec := history.Record{snap("b", 2), snap("a", 1)}
	errSnap := history.Snapshot{Content: "timeout", Timestamp: t0}

	out := history.MarkError(rec, errSnap)
	require.Len(t, out, 3)
	assert.True(t, out[0].IsError)
	assert.Equal(t, []string{"timeout", "b", "a"}, contents(out))

	out = history.MarkError(out, history.Snapshot{Content: "refused", Timestamp: t0})
	assert.Equal(t, []string{"refused", "b", "a"}, contents(out))
	assert.Equal(t, []string{"b", "a"}, contents(out.States()))
	assert.Equal(t, []string{"b", "a"}, contents(rec), "input untouched")
}
