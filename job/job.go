// CLAUDE:SUMMARY Job declarations: retrieval descriptor, filter chains, comparison and error policies.
// Package job holds the declaration of a monitored source. A Job is
// immutable for the duration of a run.
package job

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/filter"
)

// Kind selects the retrieval backend.
type Kind string

const (
	KindURL     Kind = "url"
	KindBrowser Kind = "browser"
	KindCommand Kind = "command"
)

// Defaults applied when a declaration leaves the field unset.
const (
	DefaultComparedVersions = 1
	DefaultContextLines     = 3
	DefaultMaxTries         = 2
)

// Descriptor says where and how content is retrieved. Only the fields of
// the selected Kind are meaningful.
type Descriptor struct {
	Kind Kind `json:"kind"`

	// url, browser
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      string            `json:"data,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	MaxBytes  int64             `json:"max_bytes,omitempty"`

	// BlockPrivate refuses loopback and private network targets.
	BlockPrivate bool `json:"block_private,omitempty"`

	// browser
	WaitFor string `json:"wait_for,omitempty"`

	// command
	Command string `json:"command,omitempty"`
	Shell   bool   `json:"shell,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

// Location is the URL or command line the job reads from.
func (d Descriptor) Location() string {
	if d.Kind == KindCommand {
		return d.Command
	}
	return d.URL
}

// Job is one monitored source.
type Job struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Index int    `json:"index"`

	Descriptor  Descriptor    `json:"descriptor"`
	Filters     []filter.Spec `json:"filters,omitempty"`
	DiffFilters []filter.Spec `json:"diff_filters,omitempty"`

	ComparedVersions int  `json:"compared_versions"`
	AdditionsOnly    bool `json:"additions_only,omitempty"`
	DeletionsOnly    bool `json:"deletions_only,omitempty"`

	// ContextLines is the unified diff context; the file loader defaults
	// it to DefaultContextLines, zero means none.
	ContextLines int `json:"context_lines"`

	MaxTries int           `json:"max_tries"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	IgnoreConnectionErrors bool     `json:"ignore_connection_errors,omitempty"`
	IgnoreTimeoutErrors    bool     `json:"ignore_timeout_errors,omitempty"`
	IgnoreTooManyRedirects bool     `json:"ignore_too_many_redirects,omitempty"`
	IgnoreHTTPErrorCodes   []string `json:"ignore_http_error_codes,omitempty"`

	// IgnoreCached disables conditional requests.
	IgnoreCached bool `json:"ignore_cached,omitempty"`

	// ReportNew overrides the global first-observation policy when set.
	ReportNew *bool `json:"report_new,omitempty"`
	// CaptureErrors stores retrieval errors in history so a repeated
	// identical error can be told apart from a new one.
	CaptureErrors bool `json:"capture_errors,omitempty"`
}

// HashID derives the stable job id from the retrieval location.
func HashID(kind Kind, location string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(location))
	return hex.EncodeToString(h.Sum(nil))
}

// ApplyDefaults fills unset fields and computes the id.
func (j *Job) ApplyDefaults() {
	if j.ComparedVersions == 0 {
		j.ComparedVersions = DefaultComparedVersions
	}
	if j.MaxTries == 0 {
		j.MaxTries = DefaultMaxTries
	}
	if j.Descriptor.Kind != KindCommand && j.Descriptor.Method == "" {
		j.Descriptor.Method = "GET"
	}
	if j.Name == "" {
		j.Name = j.Descriptor.Location()
	}
	if j.ID == "" {
		j.ID = HashID(j.Descriptor.Kind, j.Descriptor.Location())
	}
}

// ReportsNew resolves the first-observation policy against the global value.
func (j *Job) ReportsNew(global bool) bool {
	if j.ReportNew != nil {
		return *j.ReportNew
	}
	return global
}

// IgnoresStatus reports whether an HTTP status code matches one of the
// IgnoreHTTPErrorCodes patterns ("404", "5xx").
func (j *Job) IgnoresStatus(code int) bool {
	s := strconv.Itoa(code)
	for _, p := range j.IgnoreHTTPErrorCodes {
		p = strings.ToLower(strings.TrimSpace(p))
		if len(p) != len(s) {
			continue
		}
		match := true
		for i := range p {
			if p[i] != 'x' && p[i] != s[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Short returns the first 12 characters of the id, for display.
func (j *Job) Short() string {
	if len(j.ID) > 12 {
		return j.ID[:12]
	}
	return j.ID
}
