package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-scan-api/internal/bootstrap"
	"github.com/target/mmk-scan-api/internal/domain/model"
	"github.com/target/mmk-scan-api/internal/service"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultPruneLimit       = 1000
)

type migrateOptions struct {
	Timeout time.Duration
}

type listJobsOptions struct {
	List service.ListScansOptions
	JSON bool
}

type showJobOptions struct {
	ID   string
	JSON bool
}

type pruneOptions struct {
	OlderThan time.Duration
	Limit     int
	Yes       bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return migrateErr
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *adminRuntime) error {
		page, err := rt.Services.Scans.ListScans(ctx, opts.List)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmdCtx.Out, page)
		}
		return printJobTable(cmdCtx.Out, page.Jobs)
	})
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowJobFlags("job", args)
	if err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *adminRuntime) error {
		job, err := rt.Services.Repo.GetByID(ctx, opts.ID)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmdCtx.Out, job)
		}
		return printJobDetail(cmdCtx.Out, job)
	})
}

func runReconcileJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowJobFlags("reconcile", args)
	if err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *adminRuntime) error {
		before, err := rt.Services.Repo.GetByID(ctx, opts.ID)
		if err != nil {
			return err
		}
		if before.Status != model.ScanStatusRunning || !before.HasExternalID() {
			return writef(cmdCtx.Out, "job %s is %s; nothing to reconcile\n", before.ID, before.Status)
		}

		after, err := rt.Services.Reconciler.Reconcile(ctx, before)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmdCtx.Out, after)
		}
		return printReconcileResult(cmdCtx.Out, before, after)
	})
}

func runPrune(cmdCtx *commandContext, args []string) error {
	opts, err := parsePruneFlags(args)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	if !opts.Yes {
		prompt := fmt.Sprintf("Delete up to %d completed/failed scan jobs finished before %s?",
			opts.Limit, cutoff.Format(time.RFC3339))
		if confirmErr := confirm(os.Stdin, cmdCtx.Out, prompt); confirmErr != nil {
			return confirmErr
		}
	}
	return withRuntime(cmdCtx, func(ctx context.Context, rt *adminRuntime) error {
		n, err := rt.Services.Repo.DeleteTerminalBefore(ctx, cutoff, opts.Limit)
		if err != nil {
			return err
		}
		cmdCtx.Logger.Info("prune complete", "deleted", n, "cutoff", cutoff)
		return writef(cmdCtx.Out, "deleted %d scan jobs\n", n)
	})
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   listJobsOptions
		status string
		kind   string
	)
	fs.IntVar(&opts.List.Limit, "limit", service.DefaultListLimit, "Maximum number of jobs to show")
	fs.IntVar(&opts.List.Offset, "offset", 0, "Number of jobs to skip")
	fs.StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed)")
	fs.StringVar(&kind, "kind", "", "Filter by scan kind (SAST, FOSS, DAST)")
	fs.StringVar(&opts.List.Where, "where", "", "JMESPath expression evaluated against each job")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}
	if s := strings.ToLower(strings.TrimSpace(status)); s != "" {
		st := model.ScanStatus(s)
		if !st.Valid() {
			return listJobsOptions{}, fmt.Errorf("invalid --status %q", status)
		}
		opts.List.Status = &st
	}
	if k := strings.TrimSpace(kind); k != "" {
		sk, err := model.ParseScanKind(k)
		if err != nil {
			return listJobsOptions{}, fmt.Errorf("invalid --kind: %w", err)
		}
		opts.List.ScanKind = &sk
	}
	return opts, nil
}

func parseShowJobFlags(name string, args []string) (showJobOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts showJobOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON")

	if err := fs.Parse(args); err != nil {
		return showJobOptions{}, err
	}
	if fs.NArg() != 1 {
		return showJobOptions{}, fmt.Errorf("usage: scanapi-admin %s [--json] <job-id>", name)
	}
	opts.ID = strings.TrimSpace(fs.Arg(0))
	if opts.ID == "" {
		return showJobOptions{}, errors.New("job id is required")
	}
	return opts, nil
}

func parsePruneFlags(args []string) (pruneOptions, error) {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts pruneOptions
	fs.DurationVar(&opts.OlderThan, "older-than", 0, "Delete finished jobs completed before now minus this duration (e.g. 720h)")
	fs.IntVar(&opts.Limit, "limit", defaultPruneLimit, "Maximum number of jobs to delete")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return pruneOptions{}, err
	}
	if opts.OlderThan <= 0 {
		return pruneOptions{}, errors.New("--older-than must be greater than zero")
	}
	if opts.Limit <= 0 {
		return pruneOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) error {
	if err := writef(out, "%s [y/N]: ", prompt); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && resp == "" {
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(w io.Writer, jobs []*model.ScanJob) error {
	if len(jobs) == 0 {
		return writef(w, "no scan jobs\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tKIND\tSTATUS\tEXTERNAL ID\tCREATED\tCOMPLETED\n"); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.ScanKind, j.Status, orDash(j.ExternalIDValue()),
			j.CreatedAt.UTC().Format(time.RFC3339), formatTimePtr(j.CompletedAt)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printJobDetail(w io.Writer, j *model.ScanJob) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", j.ID},
		{"Kind", string(j.ScanKind)},
		{"Status", string(j.Status)},
		{"External ID", orDash(j.ExternalIDValue())},
		{"Runner URL", orDash(derefString(j.RunnerURL))},
		{"Report URL", orDash(derefString(j.ReportURL))},
		{"Summary", orDash(derefString(j.Summary))},
		{"Parameters", orDash(string(j.Parameters))},
		{"Metadata", orDash(string(j.Metadata))},
		{"Revision", fmt.Sprint(j.Revision)},
		{"Created", j.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated", j.UpdatedAt.UTC().Format(time.RFC3339)},
		{"Completed", formatTimePtr(j.CompletedAt)},
	}
	for _, r := range rows {
		if err := writef(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printReconcileResult(w io.Writer, before, after *model.ScanJob) error {
	if after == nil || after.Status == before.Status {
		return writef(w, "job %s: runner reports no change (still %s)\n", before.ID, before.Status)
	}
	return writef(w, "job %s: %s -> %s\n", before.ID, before.Status, after.Status)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" || s == "{}" || s == "null" {
		return "-"
	}
	return s
}
