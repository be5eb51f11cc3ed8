package core

import (
	"context"
	"time"

	"github.com/target/mmk-scan-api/internal/domain/model"
	"github.com/target/mmk-scan-api/internal/observability/notify"
)

// This file contains the ports between the service layer and its adapters.
// Services depend on these interfaces; internal/data and internal/adapters provide implementations.

// ScanJobRepository persists scan job records.
//
// Patch applies a partial update atomically: nil fields are untouched, metadata is merged,
// an already-set external id is never overwritten, updated_at is refreshed and revision
// incremented. When patch.ExpectedRevision is set and stale, Patch fails with a revision
// conflict and changes nothing.
type ScanJobRepository interface {
	Create(ctx context.Context, job *model.ScanJob) (*model.ScanJob, error)
	GetByID(ctx context.Context, id string) (*model.ScanJob, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.ScanJob, error)
	Patch(ctx context.Context, id string, patch model.ScanJobPatch) (*model.ScanJob, error)
	List(ctx context.Context, opts model.ScanJobListOptions) ([]*model.ScanJob, error)
	// DeleteTerminalBefore removes up to limit completed/failed jobs finished before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Runner starts and observes builds on the external job runner.
// Implementations never retry internally; retry policy belongs to the caller.
type Runner interface {
	Trigger(ctx context.Context, params map[string]any) (*model.BuildRef, error)
	GetStatus(ctx context.Context, externalID string) (*model.BuildStatus, error)
	GetLog(ctx context.Context, externalID string) (string, error)
	// IsRunning reports false on any error.
	IsRunning(ctx context.Context, externalID string) bool
}

// FailureNotifier fans out notifications for scans that ended in failure.
type FailureNotifier interface {
	NotifyScanFailure(ctx context.Context, payload notify.ScanFailurePayload)
}
