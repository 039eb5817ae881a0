package channels

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/pagewatch/runner"
)

// FormatText renders the outcomes as plain text, one block per job,
// preceded by a summary line. It returns "" when outcomes is empty.
func FormatText(meta runner.Meta, outcomes []runner.Outcome) string {
	if len(outcomes) == 0 {
		return ""
	}
	var changed, unchanged, failed int
	for _, o := range outcomes {
		switch o.Status {
		case runner.StatusChanged:
			changed++
		case runner.StatusUnchanged:
			unchanged++
		case runner.StatusError:
			failed++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "pagewatch: %d changed, %d unchanged, %d error", changed, unchanged, failed)
	if meta.RunID != "" {
		fmt.Fprintf(&sb, " (run %s)", meta.RunID)
	}
	sb.WriteString("\n")

	for _, o := range outcomes {
		sb.WriteString("\n")
		sb.WriteString(strings.ToUpper(string(o.Status)))
		sb.WriteString(": ")
		sb.WriteString(title(o))
		switch {
		case o.Ignored:
			sb.WriteString(" (error ignored)")
		case o.NotModified:
			sb.WriteString(" (not modified)")
		case o.Repeated:
			sb.WriteString(" (same error as before)")
		}
		sb.WriteString("\n")
		switch o.Status {
		case runner.StatusChanged:
			sb.WriteString(o.Diff)
			if !strings.HasSuffix(o.Diff, "\n") {
				sb.WriteString("\n")
			}
		case runner.StatusError:
			if o.Err != nil {
				sb.WriteString(o.Err.Error())
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func title(o runner.Outcome) string {
	loc := o.Job.Descriptor.Location()
	if o.Job.Name == "" || o.Job.Name == loc {
		if loc == "" {
			return fmt.Sprintf("job #%d", o.Job.Index)
		}
		return loc
	}
	if loc == "" {
		return o.Job.Name
	}
	return o.Job.Name + " (" + loc + ")"
}

// chunk splits s into pieces of at most limit runes, breaking after a
// newline when one exists in the window.
func chunk(s string, limit int) []string {
	var out []string
	for s != "" {
		if utf8.RuneCountInString(s) <= limit {
			out = append(out, s)
			break
		}
		cut := byteOffset(s, limit)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}

// byteOffset returns the byte index after the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
