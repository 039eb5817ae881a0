package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/pagewatch/channels"
	"github.com/hazyhaar/pagewatch/config"
	"github.com/hazyhaar/pagewatch/history"
	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/retrieve"
	"github.com/hazyhaar/pagewatch/runner"
	"github.com/hazyhaar/pagewatch/schedule"
	"github.com/hazyhaar/pagewatch/server"
)

// app is the wired process: configuration, history, retrieval backends,
// the runner and the report channels.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	out        io.Writer

	hist     *history.Keyed
	runner   *runner.Runner
	dispatch *channels.Dispatcher
	closers  []io.Closer
}

// newApp loads the configuration, applies flag overrides and wires every
// component. Reports written to the stdout platform go to out.
func newApp(opts *rootOptions, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.jobsPath != "" {
		cfg.Jobs = opts.jobsPath
	}
	if opts.dbPath != "" {
		cfg.DB = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)
	a := &app{cfg: cfg, configPath: opts.configPath, logger: logger, out: out}

	var store history.Store
	if cfg.MemoryHistory() {
		store = history.NewMemoryStore()
	} else {
		sq, err := history.OpenSQLite(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", cfg.DB, err)
		}
		a.closers = append(a.closers, sq)
		store = sq
	}
	a.hist = history.NewKeyed(store)

	backends := retrieve.NewRegistry()
	backends.Register(job.KindURL, retrieve.NewURLBackend(retrieve.URLConfig{
		MaxBytes:     cfg.HTTP.MaxBytes,
		UserAgent:    cfg.HTTP.UserAgent,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		PerHostRate:  cfg.HTTP.PerHostRate,
		PerHostBurst: cfg.HTTP.PerHostBurst,
	}))
	backends.Register(job.KindCommand, &retrieve.CommandBackend{MaxBytes: cfg.HTTP.MaxBytes})
	browser := retrieve.NewBrowserBackend(retrieve.BrowserConfig{
		RemoteURL:      cfg.Browser.Remote,
		Headful:        cfg.Browser.Headful,
		BlockResources: cfg.Browser.BlockResources,
		Logger:         logger,
	})
	a.closers = append(a.closers, browser)
	backends.Register(job.KindBrowser, browser)

	a.runner = runner.New(a.hist, backends,
		runner.WithWorkers(cfg.Workers),
		runner.WithLogger(logger),
		runner.WithReportNew(cfg.ReportNew),
		runner.WithBackoff(cfg.Backoff),
		runner.WithIDGenerator(idgen.Prefixed("run_", idgen.Default)),
	)

	a.dispatch = channels.NewDispatcher(channels.WithLogger(logger))
	a.dispatch.RegisterPlatform("stdout", channels.WriterFactory(out))
	a.closers = append(a.closers, a.dispatch)
	return a, nil
}

// useChannels activates the configured channels, or fallback when none
// is configured.
func (a *app) useChannels(fallback channels.Spec) error {
	specs := a.cfg.Channels
	if len(specs) == 0 {
		specs = []channels.Spec{fallback}
	}
	return a.dispatch.Reload(specs)
}

// reloadChannels re-reads the channel list from the configuration file so
// a long-running process picks up edits.
func (a *app) reloadChannels() {
	if a.configPath == "" {
		return
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		a.logger.Warn("pagewatch: config reload failed, keeping channels", "error", err)
		return
	}
	a.cfg.Channels = cfg.Channels
	if err := a.useChannels(stdoutSpec("text")); err != nil {
		a.logger.Warn("pagewatch: some channels could not be built", "error", err)
	}
}

func (a *app) loadJobs(context.Context) ([]job.Job, error) {
	return job.LoadFile(a.cfg.Jobs, a.runner.Registries())
}

// deliver sends a run result to every active channel.
func (a *app) deliver(ctx context.Context, res *runner.Result) error {
	return a.dispatch.Deliver(ctx, channels.FromResult(res))
}

func (a *app) scheduler(cfg schedule.Config, sink schedule.Sink) *schedule.Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = a.cfg.Daemon.Interval
	}
	cfg.Logger = a.logger
	return schedule.New(a.loadJobs, a.runner.Run, sink, cfg)
}

func (a *app) service(opts ...server.Option) *server.Service {
	return server.NewService(a.loadJobs, a.hist, append([]server.Option{server.WithLogger(a.logger)}, opts...)...)
}

// Close releases the browser, the channels and the history database.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stdoutSpec(format string) channels.Spec {
	return channels.Spec{
		Name:     "stdout",
		Platform: "stdout",
		Config:   []byte(fmt.Sprintf(`{"format":%q}`, format)),
	}
}
