// CLAUDE:SUMMARY Per-job bounded history of distinct snapshots; pure record operations.
// Package history keeps, per job, a bounded newest-first list of distinct
// snapshots. Record operations are pure: they never modify their input and
// always return a new Record. Persistence lives behind Store.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Snapshot is one observed state of a job's filtered content.
type Snapshot struct {
	Content        string    `json:"content"`
	RevisionMarker string    `json:"revision_marker,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IsError        bool      `json:"is_error,omitempty"`
}

// Hash is the hex SHA-256 of the content.
func (s Snapshot) Hash() string {
	sum := sha256.Sum256([]byte(s.Content))
	return hex.EncodeToString(sum[:])
}

// Record is a newest-first list of snapshots with pairwise distinct
// content. The zero Record is an empty history.
type Record []Snapshot

// Latest returns the newest snapshot.
func (r Record) Latest() (Snapshot, bool) {
	if len(r) == 0 {
		return Snapshot{}, false
	}
	return r[0], true
}

// IndexOf returns the position of the first entry with the given content,
// or -1.
func (r Record) IndexOf(content string) int {
	for i, s := range r {
		if s.Content == content {
			return i
		}
	}
	return -1
}

// States returns the observed states of r, without captured errors.
func (r Record) States() Record {
	out := make(Record, 0, len(r))
	for _, s := range r {
		if !s.IsError {
			out = append(out, s)
		}
	}
	return out
}

// MarkError puts snap at the front as the record's only error entry. The
// states are kept as they are: an error entry does not count against the
// compared versions bound and never evicts a state.
func MarkError(r Record, snap Snapshot) Record {
	snap.IsError = true
	states := r.States()
	out := make(Record, 0, len(states)+1)
	out = append(out, snap)
	return append(out, states...)
}

func (r Record) clone(extra int) Record {
	out := make(Record, len(r), len(r)+extra)
	copy(out, r)
	return out
}

// Commit inserts snap at the front and evicts from the back beyond limit.
// When snap's content is already present the record is returned unchanged
// and ok is false.
func Commit(r Record, snap Snapshot, limit int) (out Record, ok bool) {
	if r.IndexOf(snap.Content) >= 0 {
		return r, false
	}
	out = make(Record, 0, len(r)+1)
	out = append(out, snap)
	out = append(out, r...)
	return Truncate(out, limit), true
}

// Promote moves entry i to the front, taking the revision marker and
// timestamp of snap. Content and error flag are kept from entry i.
func Promote(r Record, i int, snap Snapshot, limit int) Record {
	if i < 0 || i >= len(r) {
		return Truncate(r, limit)
	}
	moved := r[i]
	moved.RevisionMarker = snap.RevisionMarker
	moved.Timestamp = snap.Timestamp

	out := make(Record, 0, len(r))
	out = append(out, moved)
	out = append(out, r[:i]...)
	out = append(out, r[i+1:]...)
	return Truncate(out, limit)
}

// Touch refreshes the timestamp of the newest entry, and its revision
// marker when snap carries one. An empty record is returned as is.
func Touch(r Record, snap Snapshot) Record {
	if len(r) == 0 {
		return r
	}
	out := r.clone(0)
	out[0].Timestamp = snap.Timestamp
	if snap.RevisionMarker != "" {
		out[0].RevisionMarker = snap.RevisionMarker
	}
	return out
}

// Truncate keeps at most limit entries. limit < 1 is treated as 1.
func Truncate(r Record, limit int) Record {
	if limit < 1 {
		limit = 1
	}
	if len(r) <= limit {
		return r.clone(0)
	}
	return r[:limit].clone(0)
}
