// CLAUDE:SUMMARY Report delivery: Channel interface, per-platform factories, Dispatcher fan-out with fingerprint reload.
// Package channels delivers run reports to outside destinations: the
// terminal, generic webhooks, Discord and Telegram.
//
// A Dispatcher holds the active channels. Channel declarations come from
// the application config; Reload reconciles the active set against them,
// restarting only channels whose platform or config changed.
//
//	d := channels.NewDispatcher(channels.WithLogger(logger))
//	if err := d.Reload(cfg.Channels); err != nil { ... }
//	err := d.Deliver(ctx, channels.FromResult(res))
//
// Delivery never affects history: a failed delivery is reported and the
// next run proceeds as usual.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/runner"
)

// Report is what a channel delivers: the outcomes of one run, in
// declaration order, plus run metadata.
type Report struct {
	Meta     runner.Meta      `json:"meta"`
	Outcomes []runner.Outcome `json:"outcomes"`
}

// FromResult builds the report of a finished run.
func FromResult(res *runner.Result) Report {
	return Report{Meta: res.Meta, Outcomes: res.Outcomes}
}

// Reportable returns the outcomes worth sending. With onlyChanges set,
// unchanged outcomes are dropped; errors are always kept.
func (r Report) Reportable(onlyChanges bool) []runner.Outcome {
	if !onlyChanges {
		return r.Outcomes
	}
	var out []runner.Outcome
	for _, o := range r.Outcomes {
		if o.Status != runner.StatusUnchanged {
			out = append(out, o)
		}
	}
	return out
}

// Channel delivers reports to one destination.
type Channel interface {
	Name() string
	// Deliver sends rep. A channel with nothing to send returns nil.
	Deliver(ctx context.Context, rep Report) error
}

// Factory creates a Channel from a name and its JSON config.
type Factory func(name string, config json.RawMessage) (Channel, error)

// Spec declares one channel.
type Spec struct {
	Name     string          `json:"name" yaml:"name"`
	Platform string          `json:"platform" yaml:"platform"`
	Enabled  *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Config   json.RawMessage `json:"config,omitempty" yaml:"-"`
}

// IsEnabled reports whether the channel is active; unset means enabled.
func (s Spec) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// UnmarshalYAML reads the config mapping into Config as JSON.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Name     string         `yaml:"name"`
		Platform string         `yaml:"platform"`
		Enabled  *bool          `yaml:"enabled"`
		Config   map[string]any `yaml:"config"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.Name, s.Platform, s.Enabled = raw.Name, raw.Platform, raw.Enabled
	s.Config = nil
	if len(raw.Config) > 0 {
		b, err := json.Marshal(raw.Config)
		if err != nil {
			return fmt.Errorf("channels: channel %s config: %w", raw.Name, err)
		}
		s.Config = b
	}
	return nil
}

// fingerprint changes when the channel must be rebuilt.
func (s Spec) fingerprint() string {
	return s.Platform + "|" + string(s.Config)
}

// common holds the options every built-in platform accepts.
type common struct {
	// OnlyChanges drops unchanged outcomes from the report.
	OnlyChanges bool `json:"only_changes,omitempty"`
}

const defaultHTTPTimeout = 30 * time.Second
