package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagewatch/server"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var orphans, asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared jobs and their history state",
		Long: `List the declared jobs with their id, snapshot count and last check.

With --orphans only stored histories whose job is no longer declared are
listed; remove them with "pagewatch reset <id>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.service().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if orphans {
				if asJSON {
					return writeJSON(out, list.Orphans)
				}
				for _, id := range list.Orphans {
					fmt.Fprintln(out, id)
				}
				return nil
			}
			if asJSON {
				return writeJSON(out, list)
			}
			printJobs(out, list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&orphans, "orphans", false, "list only histories of jobs no longer declared")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printJobs(out io.Writer, list *server.JobList) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tSNAPSHOTS\tLAST CHECKED")
	for _, j := range list.Jobs {
		last := "never"
		switch {
		case j.Error != "":
			last = "history unreadable: " + j.Error
		case !j.LastChecked.IsZero():
			last = j.LastChecked.Local().Format(time.DateTime)
			if j.LastIsError {
				last += " (error)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", j.Short, j.Name, j.Kind, j.Snapshots, last)
	}
	tw.Flush()
	for _, inv := range list.Invalid {
		fmt.Fprintf(out, "invalid job %d (%s): %s\n", inv.Index, inv.Name, inv.Error)
	}
	if n := len(list.Orphans); n > 0 {
		fmt.Fprintf(out, "%d orphaned histories, see --orphans\n", n)
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var content, asJSON bool
	cmd := &cobra.Command{
		Use:   "history <job>",
		Short: "Show the stored snapshots of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.service().History(cmd.Context(), args[0], limit, content)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, h)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTIMESTAMP\tHASH\tSIZE\tERROR")
			for _, s := range h.Snapshots {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\n", s.Position, s.Timestamp.Local().Format(time.DateTime), s.Hash[:12], s.Size, s.IsError)
			}
			tw.Flush()
			if content {
				for _, s := range h.Snapshots {
					fmt.Fprintf(out, "\n--- #%d %s\n%s\n", s.Position, s.Timestamp.Local().Format(time.DateTime), s.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max snapshots (0 for all)")
	cmd.Flags().BoolVar(&content, "content", false, "print snapshot content")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <job>",
		Short: "Delete the stored history of a job",
		Long: `Delete every stored snapshot and fetch-log entry of a job. The next
run treats the job as a first observation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service().Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s: %d snapshots deleted\n", res.ID, res.Deleted)
			return nil
		},
	}
}

func newTestFilterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-filter <job>",
		Short: "Retrieve a job and print its filtered content",
		Long: `Retrieve a job now, apply its filter chain and print the result.
History is neither read nor written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := selectJobs(ctx, a, args)
			if err != nil {
				return err
			}
			content, err := a.runner.Preview(ctx, jobs[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
