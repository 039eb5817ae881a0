package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// channelEntry holds an active channel and its config fingerprint.
type channelEntry struct {
	channel     Channel
	platform    string
	fingerprint string
}

// Dispatcher fans a report out to every active channel. One failing
// channel never prevents delivery through the others.
type Dispatcher struct {
	mu        sync.RWMutex
	channels  map[string]*channelEntry
	factories map[string]Factory
	logger    *slog.Logger
	timeout   time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDeliveryTimeout bounds each channel's Deliver call. Zero means no
// bound beyond the caller's context.
func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher creates a Dispatcher with the built-in platforms stdout,
// webhook, discord and telegram registered.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]*channelEntry),
		factories: map[string]Factory{
			"stdout":   StdoutFactory(),
			"webhook":  WebhookFactory(),
			"discord":  DiscordFactory(),
			"telegram": TelegramFactory(),
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterPlatform registers or replaces the Factory of a platform.
func (d *Dispatcher) RegisterPlatform(platform string, f Factory) {
	d.mu.Lock()
	d.factories[platform] = f
	d.mu.Unlock()
}

// Add activates ch directly, outside any declaration.
func (d *Dispatcher) Add(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.channels[ch.Name()]; ok {
		d.closeEntry(ch.Name(), old)
	}
	d.channels[ch.Name()] = &channelEntry{channel: ch, platform: "custom"}
}

// Names lists the active channels, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for n := range d.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reload reconciles the active channel set with specs. New enabled channels
// are created, removed or disabled channels are closed, and channels whose
// platform or config changed are rebuilt. Channels that cannot be built are
// skipped and reported in the joined error; the others stay active.
func (d *Dispatcher) Reload(specs []Spec) error {
	desired := make(map[string]Spec, len(specs))
	var errs []error
	for _, s := range specs {
		if s.Name == "" {
			s.Name = s.Platform
		}
		if _, dup := desired[s.Name]; dup {
			errs = append(errs, fmt.Errorf("channels: duplicate channel name %q", s.Name))
			continue
		}
		desired[s.Name] = s
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name, entry := range d.channels {
		if entry.platform == "custom" {
			continue
		}
		s, exists := desired[name]
		if !exists || !s.IsEnabled() || s.fingerprint() != entry.fingerprint {
			d.closeEntry(name, entry)
			delete(d.channels, name)
		}
	}

	for name, s := range desired {
		if !s.IsEnabled() {
			continue
		}
		if _, active := d.channels[name]; active {
			continue
		}
		factory, ok := d.factories[s.Platform]
		if !ok {
			d.logger.Warn("channels: no factory for platform", "channel", name, "platform", s.Platform)
			errs = append(errs, &ErrNoPlatformFactory{Channel: name, Platform: s.Platform})
			continue
		}
		ch, err := factory(name, s.Config)
		if err != nil {
			d.logger.Error("channels: factory failed", "channel", name, "platform", s.Platform, "error", err)
			errs = append(errs, fmt.Errorf("channels: channel %s: %w", name, err))
			continue
		}
		d.channels[name] = &channelEntry{channel: ch, platform: s.Platform, fingerprint: s.fingerprint()}
		d.logger.Info("channels: channel started", "channel", name, "platform", s.Platform)
	}

	d.logger.Info("channels: reloaded", "active", len(d.channels), "configured", len(desired))
	return errors.Join(errs...)
}

// Deliver sends rep through every active channel, in name order. It
// returns the joined *ErrDeliveryFailed of the channels that failed.
func (d *Dispatcher) Deliver(ctx context.Context, rep Report) error {
	d.mu.RLock()
	names := make([]string, 0, len(d.channels))
	for n := range d.channels {
		names = append(names, n)
	}
	entries := make(map[string]*channelEntry, len(d.channels))
	for n, e := range d.channels {
		entries[n] = e
	}
	d.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		e := entries[name]
		if err := d.deliverOne(ctx, e, rep); err != nil {
			d.logger.Error("channels: delivery failed", "channel", name, "platform", e.platform, "error", err)
			errs = append(errs, &ErrDeliveryFailed{Channel: name, Platform: e.platform, Cause: err})
			continue
		}
		d.logger.Debug("channels: delivered", "channel", name, "outcomes", len(rep.Outcomes))
	}
	return errors.Join(errs...)
}

// DeliverTo sends rep through the named channel only.
func (d *Dispatcher) DeliverTo(ctx context.Context, name string, rep Report) error {
	d.mu.RLock()
	e, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		return &ErrChannelNotFound{Channel: name}
	}
	if err := d.deliverOne(ctx, e, rep); err != nil {
		return &ErrDeliveryFailed{Channel: name, Platform: e.platform, Cause: err}
	}
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, e *channelEntry, rep Report) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.channel.Deliver(ctx, rep)
}

// closeEntry releases a channel that holds resources.
func (d *Dispatcher) closeEntry(name string, entry *channelEntry) {
	c, ok := entry.channel.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		d.logger.Error("channels: close failed", "channel", name, "platform", entry.platform, "error", err)
	}
}

// Close shuts down all active channels.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, entry := range d.channels {
		d.closeEntry(name, entry)
	}
	d.channels = make(map[string]*channelEntry)
	return nil
}
