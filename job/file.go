package job

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/filter"
)

// entry is the YAML shape of one job. The backend is chosen by which of
// url / command is present; `browser: true` renders a url in Chrome.
type entry struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Command string            `yaml:"command"`
	Browser bool              `yaml:"browser"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Data    string            `yaml:"data"`

	UserAgent    string `yaml:"user_agent"`
	MaxBytes     int64  `yaml:"max_bytes"`
	BlockPrivate bool   `yaml:"block_private"`
	WaitFor      string `yaml:"wait_for"`
	Shell        bool   `yaml:"shell"`
	Dir          string `yaml:"dir"`

	Filter     []filter.Spec `yaml:"filter"`
	DiffFilter []filter.Spec `yaml:"diff_filter"`

	ComparedVersions int  `yaml:"compared_versions"`
	AdditionsOnly    bool `yaml:"additions_only"`
	DeletionsOnly    bool `yaml:"deletions_only"`
	ContextLines     *int `yaml:"context_lines"`

	MaxTries int           `yaml:"max_tries"`
	Timeout  time.Duration `yaml:"timeout"`

	IgnoreConnectionErrors bool     `yaml:"ignore_connection_errors"`
	IgnoreTimeoutErrors    bool     `yaml:"ignore_timeout_errors"`
	IgnoreTooManyRedirects bool     `yaml:"ignore_too_many_redirects"`
	IgnoreHTTPErrorCodes   codeList `yaml:"ignore_http_error_codes"`
	IgnoreCached           bool     `yaml:"ignore_cached"`
	ReportNew              *bool    `yaml:"report_new"`
	CaptureErrors          bool     `yaml:"capture_errors"`
}

// codeList accepts `404`, `"404, 5xx"` or a YAML list.
type codeList []string

func (c *codeList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, p := range strings.Split(node.Value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*c = out
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*c = out
		return nil
	default:
		return fmt.Errorf("line %d: ignore_http_error_codes must be a string or a list", node.Line)
	}
}

func (e *entry) toJob(index int) Job {
	kind := KindURL
	switch {
	case e.Command != "":
		kind = KindCommand
	case e.Browser:
		kind = KindBrowser
	}
	j := Job{
		Name:  e.Name,
		Index: index,
		Descriptor: Descriptor{
			Kind:         kind,
			URL:          e.URL,
			Method:       strings.ToUpper(e.Method),
			Headers:      e.Headers,
			Data:         e.Data,
			UserAgent:    e.UserAgent,
			MaxBytes:     e.MaxBytes,
			BlockPrivate: e.BlockPrivate,
			WaitFor:      e.WaitFor,
			Command:      e.Command,
			Shell:        e.Shell,
			Dir:          e.Dir,
		},
		Filters:                e.Filter,
		DiffFilters:            e.DiffFilter,
		ComparedVersions:       e.ComparedVersions,
		AdditionsOnly:          e.AdditionsOnly,
		DeletionsOnly:          e.DeletionsOnly,
		ContextLines:           DefaultContextLines,
		MaxTries:               e.MaxTries,
		Timeout:                e.Timeout,
		IgnoreConnectionErrors: e.IgnoreConnectionErrors,
		IgnoreTimeoutErrors:    e.IgnoreTimeoutErrors,
		IgnoreTooManyRedirects: e.IgnoreTooManyRedirects,
		IgnoreHTTPErrorCodes:   e.IgnoreHTTPErrorCodes,
		IgnoreCached:           e.IgnoreCached,
		ReportNew:              e.ReportNew,
		CaptureErrors:          e.CaptureErrors,
	}
	if e.ContextLines != nil {
		j.ContextLines = *e.ContextLines
	}
	j.ApplyDefaults()
	return j
}

// Registries are the stage sets filter chains are validated against.
type Registries struct {
	Content *filter.Registry
	Diff    *filter.Registry
}

// LoadFile reads a jobs file. See Parse.
func LoadFile(path string, regs Registries) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job: read %s: %w", path, err)
	}
	return Parse(data, regs)
}

// Parse decodes jobs from YAML: either one document holding a list of
// jobs, or a stream of documents with one job each.
//
// A malformed document stream fails as a whole. A declaration that decodes
// but does not validate is left out of the returned jobs and reported as a
// *ConfigError inside the joined error; every valid job is still returned.
func Parse(data []byte, regs Registries) ([]Job, error) {
	nodes, err := documents(data)
	if err != nil {
		return nil, err
	}

	var (
		jobs []Job
		errs []error
		seen = make(map[string]int)
	)
	index := 0
	for _, n := range nodes {
		items := []*yaml.Node{n}
		if n.Kind == yaml.SequenceNode {
			items = n.Content
		}
		for _, item := range items {
			var e entry
			if err := decodeStrict(item, &e); err != nil {
				errs = append(errs, &ConfigError{Index: index, Err: err})
				index++
				continue
			}
			j := e.toJob(index)
			index++
			if err := Validate(&j, regs); err != nil {
				errs = append(errs, err)
				continue
			}
			if prev, dup := seen[j.ID]; dup {
				errs = append(errs, &ConfigError{Index: j.Index, Name: j.Name,
					Err: fmt.Errorf("same location as job %d", prev)})
				continue
			}
			seen[j.ID] = j.Index
			jobs = append(jobs, j)
		}
	}
	return jobs, errors.Join(errs...)
}

func documents(data []byte) ([]*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("job: parse: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		out = append(out, doc.Content[0])
	}
}

// decodeStrict decodes a node rejecting unknown keys.
func decodeStrict(n *yaml.Node, out any) error {
	raw, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Validate checks a job. Both filter chains are resolved against regs so
// an unknown stage or option is caught before any run.
func Validate(j *Job, regs Registries) error {
	fail := func(format string, args ...any) error {
		return &ConfigError{Index: j.Index, Name: j.Name, Err: fmt.Errorf(format, args...)}
	}
	d := j.Descriptor
	switch d.Kind {
	case KindURL, KindBrowser:
		if d.URL == "" {
			return fail("url is required")
		}
		if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
			return fail("url %q: only http and https are supported", d.URL)
		}
		if d.Kind == KindBrowser && d.Method != "GET" {
			return fail("browser jobs only support GET")
		}
	case KindCommand:
		if d.URL != "" {
			return fail("url and command are exclusive")
		}
		if strings.TrimSpace(d.Command) == "" {
			return fail("command is empty")
		}
	default:
		return fail("unknown kind %q", d.Kind)
	}
	if d.Kind != KindBrowser && d.WaitFor != "" {
		return fail("wait_for requires browser: true")
	}

	if j.AdditionsOnly && j.DeletionsOnly {
		return fail("additions_only and deletions_only are exclusive")
	}
	if j.ComparedVersions < 1 {
		return fail("compared_versions must be at least 1")
	}
	if j.ContextLines < 0 {
		return fail("context_lines must not be negative")
	}
	if j.MaxTries < 1 {
		return fail("max_tries must be at least 1")
	}
	if j.Timeout < 0 {
		return fail("timeout must not be negative")
	}
	for _, p := range j.IgnoreHTTPErrorCodes {
		if !validCodePattern(p) {
			return fail("ignore_http_error_codes: bad pattern %q", p)
		}
	}

	if regs.Content != nil {
		if err := regs.Content.Validate(j.Filters); err != nil {
			return &ConfigError{Index: j.Index, Name: j.Name, Err: err}
		}
	}
	if regs.Diff != nil {
		if err := regs.Diff.Validate(j.DiffFilters); err != nil {
			return &ConfigError{Index: j.Index, Name: j.Name, Err: err}
		}
	}
	return nil
}

func validCodePattern(p string) bool {
	p = strings.ToLower(strings.TrimSpace(p))
	if len(p) != 3 || p[0] < '1' || p[0] > '5' {
		return false
	}
	for i := 1; i < 3; i++ {
		if p[i] != 'x' && (p[i] < '0' || p[i] > '9') {
			return false
		}
	}
	return true
}
