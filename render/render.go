// Package render turns two snapshots into a line-oriented difference
// report and runs the job's diff filters over it.
package render

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hazyhaar/pagewatch/filter"
	"github.com/hazyhaar/pagewatch/history"
)

// TimeLayout formats snapshot timestamps in diff headers.
const TimeLayout = "2006-01-02 15:04:05 -0700"

// Mode selects which lines of the diff are reported.
type Mode int

const (
	Unified Mode = iota
	// AdditionsOnly reports inserted lines never seen in any stored state.
	AdditionsOnly
	// DeletionsOnly reports removed lines.
	DeletionsOnly
)

// ModeFor maps a job's flags to a Mode. Jobs setting both are rejected
// at validation, before any run.
func ModeFor(additionsOnly, deletionsOnly bool) Mode {
	switch {
	case additionsOnly:
		return AdditionsOnly
	case deletionsOnly:
		return DeletionsOnly
	}
	return Unified
}

// Options controls one rendering.
type Options struct {
	Mode         Mode
	ContextLines int
	// Filters run over the rendered text using Registry.
	Filters  []filter.Spec
	Registry *filter.Registry
}

// Render diffs prev against cur. rec is the job's stored history, used by
// AdditionsOnly to drop lines that merely reappear. An empty result means
// nothing reportable; diff filters are not run on it.
func Render(prev, cur history.Snapshot, rec history.Record, opts Options) (string, error) {
	a, b := lines(prev.Content), lines(cur.Content)
	from, to := header(prev), header(cur)

	var out string
	switch opts.Mode {
	case AdditionsOnly:
		out = selected(a, b, from, to, '+', seenLines(rec))
	case DeletionsOnly:
		out = selected(a, b, from, to, '-', nil)
	default:
		s, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        a,
			B:        b,
			FromFile: from,
			ToFile:   to,
			Context:  opts.ContextLines,
		})
		if err != nil {
			return "", err
		}
		out = s
	}

	if out == "" || len(opts.Filters) == 0 || opts.Registry == nil {
		return out, nil
	}
	return opts.Registry.Apply(out, opts.Filters)
}

func header(s history.Snapshot) string {
	if s.Timestamp.IsZero() {
		return "@ -"
	}
	return "@ " + s.Timestamp.Format(TimeLayout)
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(strings.TrimSuffix(s, "\n"))
}

// selected keeps only inserted (sign '+') or removed (sign '-') lines.
// Inserted lines found in skip are dropped.
func selected(a, b []string, from, to string, sign byte, skip map[string]struct{}) string {
	var picked []string
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch {
		case sign == '+' && (op.Tag == 'i' || op.Tag == 'r'):
			for _, l := range b[op.J1:op.J2] {
				if _, seen := skip[l]; !seen {
					picked = append(picked, "+"+l)
				}
			}
		case sign == '-' && (op.Tag == 'd' || op.Tag == 'r'):
			for _, l := range a[op.I1:op.I2] {
				picked = append(picked, "-"+l)
			}
		}
	}
	if len(picked) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("--- " + from + "\n")
	sb.WriteString("+++ " + to + "\n")
	for _, l := range picked {
		sb.WriteString(l)
	}
	return sb.String()
}

// seenLines indexes every line of every stored state. Lines keep their
// trailing newline, matching difflib.SplitLines.
func seenLines(rec history.Record) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range rec {
		for _, l := range lines(s.Content) {
			out[l] = struct{}{}
		}
	}
	return out
}
