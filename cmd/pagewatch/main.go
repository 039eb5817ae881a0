// CLAUDE:SUMMARY pagewatch CLI entry point — cobra root, global flags, exit codes.
// Command pagewatch monitors web pages, rendered pages and command output
// for changes and reports unified diffs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// exitError carries a process exit code without an error message.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	jobsPath   string
	dbPath     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "pagewatch:", err)
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pagewatch",
		Short: "Watch web pages and command output for changes",
		Long: `pagewatch retrieves each declared job (URL, rendered page or command),
filters the content, compares it with the stored history and reports what
changed as a unified diff.

Examples:
  # Check every job once and print changes
  pagewatch run

  # Run periodically with the status API
  pagewatch daemon --listen 127.0.0.1:8090

  # Show what a job's filters produce right now
  pagewatch test-filter example-job`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("PAGEWATCH_CONFIG"), "configuration file (YAML)")
	pf.StringVar(&opts.jobsPath, "jobs", "", "job declarations file (overrides config)")
	pf.StringVar(&opts.dbPath, "db", "", `history database, ":memory:" for none (overrides config)`)
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newRunCmd(opts),
		newDaemonCmd(opts),
		newListCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
		newTestFilterCmd(opts),
		newMCPCmd(opts),
	)
	return root
}
