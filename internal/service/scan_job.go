package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

// Pagination bounds for ListScans.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// TriggerRetryPolicy bounds retries of runner triggers that provably did not reach the runner.
type TriggerRetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultTriggerRetryPolicy returns two retries starting at 500ms, capped at 5s.
func DefaultTriggerRetryPolicy() TriggerRetryPolicy {
	return TriggerRetryPolicy{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// ScanJobServiceOptions groups dependencies for ScanJobService.
type ScanJobServiceOptions struct {
	Repo       core.ScanJobRepository    // Required
	Runner     core.Runner               // Required
	Reconciler *Reconciler               // Required
	Cache      *core.ScanJobCacheService // Optional: idempotency keys and console-log cache
	Evaluator  JMESPathEvaluator         // Optional: defaults to go-jmespath
	Retry      *TriggerRetryPolicy       // Optional: defaults to DefaultTriggerRetryPolicy
	Logger     *slog.Logger              // Optional
	Clock      func() time.Time          // Optional: defaults to time.Now
}

// idempotencyStartWindow bounds how long a pending job without a build number counts as
// still starting. Past it the trigger request has ended and the job needs an operator.
const idempotencyStartWindow = 2 * time.Minute

// ScanJobService is the job lifecycle API used by the HTTP handlers and the admin CLI.
type ScanJobService struct {
	repo       core.ScanJobRepository
	runner     core.Runner
	reconciler *Reconciler
	cache      *core.ScanJobCacheService
	evaluator  JMESPathEvaluator
	retry      TriggerRetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// NewScanJobService constructs a ScanJobService.
func NewScanJobService(opts ScanJobServiceOptions) (*ScanJobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ScanJobRepository is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("Runner is required")
	}
	if opts.Reconciler == nil {
		return nil, errors.New("Reconciler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = NewJMESPathEvaluator()
	}
	retry := DefaultTriggerRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &ScanJobService{
		repo:       opts.Repo,
		runner:     opts.Runner,
		reconciler: opts.Reconciler,
		cache:      opts.Cache,
		evaluator:  evaluator,
		retry:      retry,
		logger:     logger.With("component", "scan_job_service"),
		now:        now,
	}, nil
}

// MustNewScanJobService panics on construction error. Intended for tests.
func MustNewScanJobService(opts ScanJobServiceOptions) *ScanJobService {
	s, err := NewScanJobService(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// TriggerScan records a pending job, starts it on the runner and marks it running.
// When the runner cannot be reached the record stays pending without an external id.
func (s *ScanJobService) TriggerScan(ctx context.Context, req model.TriggerScanRequest) (*model.TriggerResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return nil, apperrors.ValidationField("parameters", "parameters must be JSON encodable")
	}
	var metadata json.RawMessage
	if len(req.Metadata) > 0 {
		if metadata, err = json.Marshal(req.Metadata); err != nil {
			return nil, apperrors.ValidationField("metadata", "metadata must be JSON encodable")
		}
	}

	jobID := uuid.NewString()
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, owned, claimErr := s.claimIdempotencyKey(ctx, key, jobID)
		if claimErr != nil {
			return nil, claimErr
		}
		if existing != nil {
			return existing, nil
		}
		if !owned {
			key = ""
		}
	}

	job, err := s.repo.Create(ctx, &model.ScanJob{
		ID:         jobID,
		ScanKind:   req.ScanKind,
		Status:     model.ScanStatusPending,
		Parameters: params,
		Metadata:   metadata,
	})
	if err != nil {
		s.releaseIdempotencyKey(ctx, key)
		return nil, fmt.Errorf("create scan job: %w", err)
	}

	ref, err := s.triggerWithRetry(ctx, job, req.Parameters)
	if err != nil {
		s.releaseIdempotencyKey(ctx, key)
		s.logger.ErrorContext(ctx, "runner trigger failed, scan job left pending",
			"job_id", job.ID,
			"scan_kind", job.ScanKind,
			"error", err,
		)
		if !apperrors.IsRunnerUnavailable(err) {
			err = apperrors.RunnerUnavailable(err, "trigger")
		}
		return nil, fmt.Errorf("trigger scan job %s: %w", job.ID, err)
	}

	running, err := s.reconciler.MarkRunning(ctx, job, ref)
	if err != nil {
		// The build exists; keeping the key stops a retry from starting a second one.
		s.logger.ErrorContext(ctx, "runner accepted build but scan job was not updated",
			"job_id", job.ID,
			"external_id", ref.ExternalID,
			"error", err,
		)
		return nil, err
	}
	return triggerResult(running), nil
}

func (s *ScanJobService) triggerWithRetry(
	ctx context.Context,
	job *model.ScanJob,
	params map[string]any,
) (*model.BuildRef, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retry.InitialInterval
	eb.MaxInterval = s.retry.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(s.retry.MaxRetries, 0))), ctx)

	attempt := 0
	op := func() (*model.BuildRef, error) {
		attempt++
		ref, err := s.runner.Trigger(ctx, params)
		if err == nil {
			return ref, nil
		}
		if !model.IsRetryableRunnerError(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	onRetry := func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "runner trigger failed, retrying (a duplicate build is possible if the runner did accept it)",
			"job_id", job.ID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return backoff.RetryNotifyWithData(op, policy, onRetry)
}

// claimIdempotencyKey binds key to jobID. It returns the earlier result when the key already
// names a started job, and owned=false when the key could not be reserved and is ignored.
func (s *ScanJobService) claimIdempotencyKey(
	ctx context.Context,
	key, jobID string,
) (existing *model.TriggerResult, owned bool, err error) {
	if !s.cache.Enabled() {
		s.logger.DebugContext(ctx, "idempotency key ignored, cache not configured")
		return nil, false, nil
	}

	for range 2 {
		boundID, reserved, reserveErr := s.cache.ReserveIdempotencyKey(ctx, key, jobID)
		if reserveErr != nil {
			s.logger.WarnContext(ctx, "idempotency key reservation failed, continuing without it", "error", reserveErr)
			return nil, false, nil
		}
		if reserved {
			return nil, true, nil
		}

		job, getErr := s.repo.GetByID(ctx, boundID)
		if apperrors.IsNotFound(getErr) {
			s.releaseIdempotencyKey(ctx, key)
			continue
		}
		if getErr != nil {
			return nil, false, fmt.Errorf("load scan job for idempotency key: %w", getErr)
		}
		if !job.HasExternalID() {
			if s.now().Sub(job.CreatedAt) < idempotencyStartWindow {
				return nil, false, apperrors.Conflictf("scan job %s for this idempotency key is still starting", job.ID)
			}
			s.logger.WarnContext(ctx, "idempotency key bound to a pending job without a build", "job_id", job.ID)
			return nil, false, apperrors.Conflictf(
				"scan job %s for this idempotency key was never marked running and needs operator "+
					"reconciliation; the key stays reserved until it expires", job.ID)
		}
		s.logger.InfoContext(ctx, "idempotent trigger replayed", "job_id", job.ID)
		return triggerResult(job), false, nil
	}
	return nil, false, apperrors.Conflict("idempotency key is in use")
}

func (s *ScanJobService) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.cache.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
	}
}

func triggerResult(job *model.ScanJob) *model.TriggerResult {
	res := &model.TriggerResult{
		JobID:      job.ID,
		ExternalID: job.ExternalIDValue(),
		Status:     job.Status,
		ScanKind:   job.ScanKind,
	}
	if job.RunnerURL != nil {
		res.URL = *job.RunnerURL
	}
	return res
}

// HandleCallback applies a runner's terminal report.
func (s *ScanJobService) HandleCallback(ctx context.Context, req model.CallbackRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := s.reconciler.ApplyCallback(ctx, req)
	return err
}

// GetStatus returns the job, reconciling it with the runner first when it is still running.
func (s *ScanJobService) GetStatus(ctx context.Context, id string) (*model.ScanJob, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || !job.HasExternalID() {
		return job, nil
	}
	return s.reconciler.Reconcile(ctx, job)
}

func (s *ScanJobService) getJob(ctx context.Context, id string) (*model.ScanJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.ValidationField("id", "id is required")
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get scan job %s: %w", id, err)
	}
	return job, nil
}

// ListScansOptions selects a page of jobs. Where is a JMESPath expression evaluated
// against each job's JSON view; jobs for which it is falsy are dropped from the page.
type ListScansOptions struct {
	Limit    int
	Offset   int
	Status   *model.ScanStatus
	ScanKind *model.ScanKind
	Where    string
}

// ScanJobPage is one page of ListScans.
type ScanJobPage struct {
	Jobs   []*model.ScanJob `json:"jobs"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ListScans returns jobs newest first.
func (s *ScanJobService) ListScans(ctx context.Context, opts ListScansOptions) (*ScanJobPage, error) {
	if opts.Offset < 0 {
		return nil, apperrors.ValidationField("offset", "offset cannot be negative")
	}
	if opts.Limit < 0 {
		return nil, apperrors.ValidationField("limit", "limit cannot be negative")
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid status %q", *opts.Status))
	}
	if opts.ScanKind != nil && !opts.ScanKind.Valid() {
		return nil, apperrors.ValidationField("scanKind", fmt.Sprintf("invalid scan kind %q", *opts.ScanKind))
	}
	where := strings.TrimSpace(opts.Where)
	if where != "" {
		if err := s.evaluator.Validate(where); err != nil {
			return nil, apperrors.ValidationField("where", "invalid JMESPath expression: "+err.Error())
		}
	}

	limit := opts.Limit
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	jobs, err := s.repo.List(ctx, model.ScanJobListOptions{
		Limit:    limit,
		Offset:   opts.Offset,
		Status:   opts.Status,
		ScanKind: opts.ScanKind,
	})
	if err != nil {
		return nil, fmt.Errorf("list scan jobs: %w", err)
	}
	if where != "" {
		if jobs, err = s.filterJobs(where, jobs); err != nil {
			return nil, err
		}
	}
	if jobs == nil {
		jobs = []*model.ScanJob{}
	}
	return &ScanJobPage{Jobs: jobs, Limit: limit, Offset: opts.Offset}, nil
}

func (s *ScanJobService) filterJobs(where string, jobs []*model.ScanJob) ([]*model.ScanJob, error) {
	kept := make([]*model.ScanJob, 0, len(jobs))
	for _, job := range jobs {
		doc, err := scanJobDocument(job)
		if err != nil {
			return nil, err
		}
		v, err := s.evaluator.Evaluate(where, doc)
		if err != nil {
			return nil, apperrors.ValidationField("where", "evaluate JMESPath expression: "+err.Error())
		}
		if truthy(v) {
			kept = append(kept, job)
		}
	}
	return kept, nil
}

// GetLog returns the runner's console log for the job. Logs of finished jobs are cached.
func (s *ScanJobService) GetLog(ctx context.Context, id string) (string, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return "", err
	}
	if !job.HasExternalID() {
		return "", apperrors.NotFoundf("scan job %s has no runner build", job.ID)
	}

	terminal := job.Status.Terminal()
	if terminal {
		cached, cacheErr := s.cache.CachedConsoleLog(ctx, job.ID)
		if cacheErr != nil {
			s.logger.WarnContext(ctx, "console log cache read failed", "job_id", job.ID, "error", cacheErr)
		} else if len(cached) > 0 {
			return string(cached), nil
		}
	}

	log, err := s.runner.GetLog(ctx, job.ExternalIDValue())
	if err != nil {
		return "", fmt.Errorf("fetch console log for scan job %s: %w", job.ID, err)
	}
	if terminal {
		if err := s.cache.StoreConsoleLog(ctx, job.ID, log); err != nil {
			s.logger.WarnContext(ctx, "console log cache write failed", "job_id", job.ID, "error", err)
		}
	}
	return log, nil
}
