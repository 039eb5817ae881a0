package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// StdoutConfig is the config of the stdout platform.
type StdoutConfig struct {
	common
	// Format is "text" (default) or "json".
	Format string `json:"format,omitempty"`
}

// StdoutFactory returns a Factory writing reports to os.Stdout.
//
// Config example:
//
//	{"only_changes": true, "format": "json"}
func StdoutFactory() Factory {
	return WriterFactory(os.Stdout)
}

// WriterFactory is StdoutFactory writing to w.
func WriterFactory(w io.Writer) Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg StdoutConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, fmt.Errorf("stdout: parse config: %w", err)
			}
		}
		switch cfg.Format {
		case "":
			cfg.Format = "text"
		case "text", "json":
		default:
			return nil, fmt.Errorf("stdout: unknown format %q", cfg.Format)
		}
		return &writerChannel{name: name, cfg: cfg, w: w}, nil
	}
}

type writerChannel struct {
	name string
	cfg  StdoutConfig

	mu sync.Mutex
	w  io.Writer
}

func (c *writerChannel) Name() string { return c.name }

func (c *writerChannel) Deliver(_ context.Context, rep Report) error {
	outcomes := rep.Reportable(c.cfg.OnlyChanges)
	if len(outcomes) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Format == "json" {
		enc := json.NewEncoder(c.w)
		enc.SetIndent("", "  ")
		return enc.Encode(Report{Meta: rep.Meta, Outcomes: outcomes})
	}
	_, err := io.WriteString(c.w, FormatText(rep.Meta, outcomes))
	return err
}
