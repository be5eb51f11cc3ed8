package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/observability/metrics"
	"github.com/target/mmk-scan-api/internal/observability/notify"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
	"golang.org/x/sync/singleflight"
)

// ReconcilerOptions groups dependencies for Reconciler.
type ReconcilerOptions struct {
	Repo            core.ScanJobRepository // Required
	Runner          core.Runner            // Required
	Logger          *slog.Logger           // Optional
	Metrics         statsd.Sink            // Optional: lifecycle metrics
	FailureNotifier core.FailureNotifier   // Optional: Slack/PagerDuty fan-out for failed scans
	Clock           func() time.Time       // Optional: defaults to time.Now
}

// Reconciler owns every status transition of a scan job:
//
//	pending --trigger--> running --callback|poll--> completed | failed
//
// Trigger and poll transitions are compare-and-set on the record revision. Callbacks are
// last-write-wins assertions from the runner.
type Reconciler struct {
	repo     core.ScanJobRepository
	runner   core.Runner
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier core.FailureNotifier
	now      func() time.Time

	polls   singleflight.Group
	pending sync.WaitGroup
}

// NewReconciler constructs a Reconciler.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Repo == nil {
		return nil, errors.New("ScanJobRepository is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("Runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		repo:     opts.Repo,
		runner:   opts.Runner,
		logger:   logger.With("component", "reconciler"),
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
		now:      clock,
	}, nil
}

// MarkRunning records that the runner accepted job as build ref.
func (r *Reconciler) MarkRunning(ctx context.Context, job *model.ScanJob, ref *model.BuildRef) (*model.ScanJob, error) {
	if job == nil || ref == nil || ref.ExternalID == "" {
		return nil, apperrors.Validation("job and build reference are required")
	}
	if job.Status != model.ScanStatusPending {
		return nil, apperrors.Conflictf("scan job %s is %s, not pending", job.ID, job.Status)
	}

	running := model.ScanStatusRunning
	patch := model.ScanJobPatch{
		Status:           &running,
		ExternalID:       &ref.ExternalID,
		ExpectedRevision: &job.Revision,
	}
	if ref.URL != "" {
		patch.RunnerURL = &ref.URL
	}

	updated, err := r.repo.Patch(ctx, job.ID, patch)
	if err != nil {
		r.emit(job, running, metrics.SourceTrigger, err)
		return nil, fmt.Errorf("mark scan job %s running: %w", job.ID, err)
	}
	r.emit(job, running, metrics.SourceTrigger, nil)
	r.logger.InfoContext(ctx, "scan job running",
		"job_id", job.ID,
		"external_id", ref.ExternalID,
		"scan_kind", job.ScanKind,
	)
	return updated, nil
}

// ApplyCallback applies the runner's reported outcome to the job bound to req.ExternalID.
// The reported status always wins; a missing job is a not-found error and is not retried.
func (r *Reconciler) ApplyCallback(ctx context.Context, req model.CallbackRequest) (*model.ScanJob, error) {
	job, err := r.repo.FindByExternalID(ctx, req.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("find scan job for build %s: %w", req.ExternalID, err)
	}

	status := req.Status
	completedAt := r.now().UTC()
	patch := model.ScanJobPatch{
		Status:      &status,
		CompletedAt: &completedAt,
		Metadata:    req.Metadata,
	}
	if req.ReportURL != "" {
		patch.ReportURL = &req.ReportURL
	}
	if req.Summary != "" {
		patch.Summary = &req.Summary
	}

	updated, err := r.repo.Patch(ctx, job.ID, patch)
	if err != nil {
		r.emit(job, status, metrics.SourceCallback, err)
		return nil, fmt.Errorf("apply callback to scan job %s: %w", job.ID, err)
	}
	r.emit(job, status, metrics.SourceCallback, nil)
	r.logger.InfoContext(ctx, "scan job callback applied",
		"job_id", job.ID,
		"external_id", req.ExternalID,
		"from", job.Status,
		"to", status,
	)

	if status == model.ScanStatusFailed && job.Status != model.ScanStatusFailed {
		r.notifyFailure(ctx, updated, notify.SourceCallback)
	}
	return updated, nil
}

// Reconcile consults the runner for a running job and applies an observed terminal outcome.
// Runner failures are logged and the stored record is returned unchanged. Concurrent calls for
// the same job share one runner query.
func (r *Reconciler) Reconcile(ctx context.Context, job *model.ScanJob) (*model.ScanJob, error) {
	if job == nil || job.Status != model.ScanStatusRunning || !job.HasExternalID() {
		return job, nil
	}

	// Detached so a caller that gives up does not fail the callers sharing the flight.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.polls.Do(job.ID, func() (any, error) {
		return r.reconcile(flightCtx, job)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ScanJob), nil
}

func (r *Reconciler) reconcile(ctx context.Context, job *model.ScanJob) (*model.ScanJob, error) {
	observed, err := r.runner.GetStatus(ctx, job.ExternalIDValue())
	if err != nil {
		r.logger.WarnContext(ctx, "runner status unavailable, keeping stored status",
			"job_id", job.ID,
			"external_id", job.ExternalIDValue(),
			"error", err,
		)
		return job, nil
	}

	target, ok := PollTarget(job.Status, observed.Status)
	if !ok {
		return job, nil
	}

	completedAt := r.now().UTC()
	updated, err := r.repo.Patch(ctx, job.ID, model.ScanJobPatch{
		Status:           &target,
		CompletedAt:      &completedAt,
		ExpectedRevision: &job.Revision,
	})
	if apperrors.IsConflict(err) {
		// A callback or another instance's poll got there first.
		r.emit(job, target, metrics.SourcePoll, nil, metrics.ResultNoop)
		fresh, getErr := r.repo.GetByID(ctx, job.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload scan job %s: %w", job.ID, getErr)
		}
		return fresh, nil
	}
	if err != nil {
		r.emit(job, target, metrics.SourcePoll, err)
		return nil, fmt.Errorf("reconcile scan job %s: %w", job.ID, err)
	}

	r.emit(job, target, metrics.SourcePoll, nil)
	r.logger.InfoContext(ctx, "scan job reconciled from runner",
		"job_id", job.ID,
		"external_id", job.ExternalIDValue(),
		"runner_status", observed.Status,
		"runner_result", observed.ResultDetail,
		"to", target,
	)
	if target == model.ScanStatusFailed {
		r.notifyFailure(ctx, updated, notify.SourcePoll)
	}
	return updated, nil
}

// PollTarget decides the poll-driven transition for a stored status and an observed runner
// status. It reports false when the record must be left untouched.
func PollTarget(stored model.ScanStatus, observed model.RunnerStatus) (model.ScanStatus, bool) {
	switch {
	case observed == model.RunnerStatusSuccess && stored != model.ScanStatusCompleted:
		return model.ScanStatusCompleted, true
	case observed == model.RunnerStatusFailure && stored != model.ScanStatusFailed:
		return model.ScanStatusFailed, true
	default:
		return "", false
	}
}

// Wait blocks until in-flight failure notifications finish.
func (r *Reconciler) Wait() {
	r.pending.Wait()
}

func (r *Reconciler) notifyFailure(ctx context.Context, job *model.ScanJob, source string) {
	if r.notifier == nil || job == nil {
		return
	}
	payload := failurePayload(job, source)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.notifier.NotifyScanFailure(context.WithoutCancel(ctx), payload)
	}()
}

func failurePayload(job *model.ScanJob, source string) notify.ScanFailurePayload {
	payload := notify.ScanFailurePayload{
		JobID:      job.ID,
		ExternalID: job.ExternalIDValue(),
		ScanKind:   string(job.ScanKind),
		Source:     source,
		Severity:   notify.SeverityCritical,
		OccurredAt: time.Now().UTC(),
	}
	if job.CompletedAt != nil {
		payload.OccurredAt = *job.CompletedAt
	}
	if job.RunnerURL != nil {
		payload.RunnerURL = *job.RunnerURL
	}
	if job.ReportURL != nil {
		payload.ReportURL = *job.ReportURL
	}
	if job.Summary != nil {
		payload.Summary = *job.Summary
	}
	if meta, err := job.MetadataMap(); err == nil && len(meta) > 0 {
		payload.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			payload.Metadata[k] = fmt.Sprint(v)
		}
	}
	return payload
}

// emit records one transition attempt. An optional result overrides the one derived from err.
func (r *Reconciler) emit(job *model.ScanJob, to model.ScanStatus, source string, err error, result ...string) {
	m := metrics.ScanMetric{
		ScanKind: string(job.ScanKind),
		From:     string(job.Status),
		To:       string(to),
		Source:   source,
		Result:   metrics.ResultSuccess,
		Err:      err,
	}
	if err != nil {
		m.Result = metrics.ResultError
	}
	if len(result) > 0 {
		m.Result = result[0]
	}
	if m.Result == metrics.ResultSuccess && to.Terminal() && !job.CreatedAt.IsZero() {
		m.Duration = r.now().Sub(job.CreatedAt)
	}
	metrics.EmitScanTransition(r.metrics, m)
}
