package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect or control a remote job by id",
	Long: `Inspect or control a remote job by id.

A job that outlived --timeout keeps running remotely. Use "job resume" to
wait for it again, or "job abort" to stop it.

Kinds: ingest, query, deploy, retrieve.`,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <kind> <id>",
	Short: "Print the current job snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseJobRef(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.jobs.Status(cmd.Context(), kind, id)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobAbortCmd = &cobra.Command{
	Use:   "abort <kind> <id>",
	Short: "Ask the remote system to abort a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseJobRef(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.jobs.Abort(cmd.Context(), kind, id)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <kind> <id>",
	Short: "Wait for an existing job and print its results",
	Long: `Wait for an existing job and print its results.

Ingest results are printed without the original rows, so their indices
follow the order the remote system reports them in.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseJobRef(args)
		if err != nil {
			return err
		}
		opts, err := runOptionsFrom(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if statusOnly, _ := cmd.Flags().GetBool("status-only"); statusOnly {
			final, err := a.jobs.Resume(ctx, kind, id, opts...)
			if err != nil {
				return err
			}
			return printJSON(final)
		}

		job := &domain.Job{ID: id, Kind: kind}
		var result any
		switch kind {
		case domain.KindIngest:
			result, err = a.bulk.Resume(ctx, job, nil, opts...)
		case domain.KindQuery:
			result, err = a.bulk.ResumeQuery(ctx, job, opts...)
		case domain.KindDeploy:
			result, err = a.metadata.ResumeDeploy(ctx, job, opts...)
		case domain.KindRetrieve:
			result, err = a.metadata.ResumeRetrieve(ctx, job, opts...)
		}
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	addRunFlags(jobResumeCmd)
	jobResumeCmd.Flags().Bool("status-only", false, "print only the terminal job snapshot, without fetching results")
	jobCmd.AddCommand(jobStatusCmd, jobAbortCmd, jobResumeCmd)
}

// parseJobRef accepts "<kind> <id>" arguments.
func parseJobRef(args []string) (domain.JobKind, string, error) {
	kind := domain.JobKind(strings.ToLower(args[0]))
	if !domain.ValidKinds[kind] {
		return "", "", fmt.Errorf("unknown job kind %q", args[0])
	}
	id := strings.TrimSpace(args[1])
	if id == "" {
		return "", "", fmt.Errorf("job id is required")
	}
	return kind, id, nil
}
