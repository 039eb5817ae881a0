package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/runner"
	"github.com/hazyhaar/pagewatch/schedule"
	"github.com/hazyhaar/pagewatch/server"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Check jobs once and report changes",
		Long: `Check every declared job once, or only the given jobs, and deliver the
report to the configured channels (stdout when none is configured).

A job is referenced by id, id prefix (6+ characters) or name. The exit
status is 1 when any job ended in error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.useChannels(stdoutSpec(format)); err != nil {
				a.logger.Warn("pagewatch: some channels could not be built", "error", err)
			}

			jobs, loadErr := a.loadJobs(ctx)
			if loadErr != nil && len(job.ConfigErrors(loadErr)) == 0 {
				return loadErr
			}
			if len(args) > 0 {
				if jobs, err = selectJobs(ctx, a, args); err != nil {
					return err
				}
				loadErr = nil
			}

			res := a.runner.Run(ctx, jobs)
			res.AddConfigErrors(loadErr)
			if err := a.deliver(ctx, res); err != nil {
				a.logger.Error("pagewatch: report delivery failed", "error", err)
			}
			if code := res.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "stdout report format when no channel is configured: text or json")
	return cmd
}

// selectJobs resolves job references against the declared jobs.
func selectJobs(ctx context.Context, a *app, refs []string) ([]job.Job, error) {
	svc := a.service()
	var out []job.Job
	seen := make(map[string]bool)
	for _, ref := range refs {
		_, j, err := svc.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return nil, fmt.Errorf("%q is not a declared job", ref)
		}
		if !seen[j.ID] {
			seen[j.ID] = true
			out = append(out, *j)
		}
	}
	return out, nil
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Check jobs periodically, optionally serving the status API",
		Long: `Run all jobs every daemon.interval, reloading the job declarations and
the channel list before each run. With --listen (or server.listen) the
status API is served on that address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()
			if listen == "" {
				listen = a.cfg.Server.Listen
			}
			if err := a.useChannels(stdoutSpec("text")); err != nil {
				a.logger.Warn("pagewatch: some channels could not be built", "error", err)
			}

			sched := a.scheduler(schedule.Config{RunOnStart: a.cfg.RunOnStart()}, func(ctx context.Context, res *runner.Result) error {
				a.reloadChannels()
				return a.deliver(ctx, res)
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				sched.Run(ctx)
				return nil
			})
			if listen != "" {
				svc := a.service(server.WithScheduler(sched))
				g.Go(func() error {
					return server.ListenAndServe(ctx, listen, svc.Handler(), a.logger)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "status API address (overrides server.listen)")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pagewatch tools over MCP on stdio",
		Long: `Serve pagewatch_list_jobs, pagewatch_history, pagewatch_fetches,
pagewatch_run and pagewatch_reset to an MCP client over stdin/stdout.
Run reports go to the configured channels; the stdout platform writes to
stderr since stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.useChannels(stdoutSpec("text")); err != nil {
				a.logger.Warn("pagewatch: some channels could not be built", "error", err)
			}

			sched := a.scheduler(schedule.Config{Manual: true}, a.deliver)
			go sched.Run(ctx)

			srv := a.service(server.WithScheduler(sched)).NewMCPServer(version)
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
