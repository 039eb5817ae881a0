package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func compile(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

var grepOptions = map[string]string{
	"re":          "regular expression a line must match",
	"ignore_case": "case-insensitive match",
}

func grepStage(name string, keep bool) Stage {
	desc := "keep only lines matching a regular expression"
	if !keep {
		desc = "drop lines matching a regular expression"
	}
	return Stage{
		Name:              name,
		Description:       desc,
		RecognizedOptions: grepOptions,
		DefaultOption:     "re",
		Apply: func(in string, opts Options) (string, error) {
			re, err := compile(opts.String("re", ""), opts.Bool("ignore_case", false))
			if err != nil {
				return "", err
			}
			var out []string
			for _, line := range splitLines(in) {
				if re.MatchString(line) == keep {
					out = append(out, line)
				}
			}
			return strings.Join(out, "\n"), nil
		},
	}
}

var reSubStage = Stage{
	Name:        "re.sub",
	Description: "replace every match of a regular expression",
	RecognizedOptions: map[string]string{
		"pattern": "regular expression",
		"repl":    "replacement, may reference groups as $1 or ${name}",
	},
	DefaultOption: "pattern",
	Apply: func(in string, opts Options) (string, error) {
		re, err := compile(opts.String("pattern", ""), false)
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(in, opts.String("repl", "")), nil
	},
}

var stripStage = Stage{
	Name:        "strip",
	Description: "trim surrounding whitespace (or the given characters)",
	RecognizedOptions: map[string]string{
		"chars":      "characters to trim instead of whitespace",
		"splitlines": "trim every line and drop empty ones",
	},
	DefaultOption: "chars",
	Apply: func(in string, opts Options) (string, error) {
		chars := opts.String("chars", "")
		trim := strings.TrimSpace
		if chars != "" {
			trim = func(s string) string { return strings.Trim(s, chars) }
		}
		if !opts.Bool("splitlines", false) {
			return trim(in), nil
		}
		var out []string
		for _, line := range splitLines(in) {
			if line = trim(line); line != "" {
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n"), nil
	},
}

var sortStage = Stage{
	Name:        "sort",
	Description: "sort lines",
	RecognizedOptions: map[string]string{
		"reverse": "descending order",
	},
	DefaultOption: "reverse",
	Apply: func(in string, opts Options) (string, error) {
		lines := splitLines(in)
		sort.Strings(lines)
		if opts.Bool("reverse", false) {
			reverseLines(lines)
		}
		return strings.Join(lines, "\n"), nil
	},
}

var reverseStage = Stage{
	Name:              "reverse",
	Description:       "reverse line order",
	RecognizedOptions: map[string]string{},
	Apply: func(in string, _ Options) (string, error) {
		lines := splitLines(in)
		reverseLines(lines)
		return strings.Join(lines, "\n"), nil
	},
}

var uniqStage = Stage{
	Name:              "uniq",
	Description:       "drop repeated lines, keeping the first occurrence",
	RecognizedOptions: map[string]string{},
	Apply: func(in string, _ Options) (string, error) {
		seen := make(map[string]struct{})
		var out []string
		for _, line := range splitLines(in) {
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			out = append(out, line)
		}
		return strings.Join(out, "\n"), nil
	},
}

var sha256Stage = Stage{
	Name:              "sha256sum",
	Description:       "replace content with its SHA-256 hex digest",
	RecognizedOptions: map[string]string{},
	Apply: func(in string, _ Options) (string, error) {
		sum := sha256.Sum256([]byte(in))
		return hex.EncodeToString(sum[:]), nil
	},
}

func reverseLines(lines []string) {
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
}
