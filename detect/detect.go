// Package detect decides whether newly filtered content is a change
// relative to a job's history, and which stored state it is closest to.
package detect

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hazyhaar/pagewatch/history"
)

// Kind classifies a comparison.
type Kind int

const (
	// NoHistory: first observation of the job.
	NoHistory Kind = iota
	// Unchanged: content equals the stored state at Index.
	Unchanged
	// Changed: content differs from every stored state; Index is the
	// closest one.
	Changed
)

func (k Kind) String() string {
	switch k {
	case NoHistory:
		return "no_history"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Verdict is the result of Evaluate. Index is meaningless for NoHistory.
type Verdict struct {
	Kind  Kind
	Index int
}

// Evaluate compares content against rec. An exact match anywhere in the
// record is Unchanged at its position. Otherwise the closest entry by
// character edit distance is chosen, the lowest index winning ties.
func Evaluate(content string, rec history.Record) Verdict {
	if len(rec) == 0 {
		return Verdict{Kind: NoHistory}
	}
	if i := rec.IndexOf(content); i >= 0 {
		return Verdict{Kind: Unchanged, Index: i}
	}
	if len(rec) == 1 {
		return Verdict{Kind: Changed, Index: 0}
	}

	dmp := diffmatchpatch.New()
	best, bestDist := 0, -1
	for i, s := range rec {
		d := dmp.DiffLevenshtein(dmp.DiffMain(s.Content, content, false))
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return Verdict{Kind: Changed, Index: best}
}

// Apply is the commit step for a verdict: new states are committed at
// the front, a re-observed state is promoted.
func Apply(v Verdict, rec history.Record, snap history.Snapshot, limit int) history.Record {
	switch v.Kind {
	case Unchanged:
		return history.Promote(rec, v.Index, snap, limit)
	default:
		out, _ := history.Commit(rec, snap, limit)
		return out
	}
}
