package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-scan-api/internal/data/database"
	"github.com/target/mmk-scan-api/internal/data/pgxutil"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

const (
	// DefaultScanJobListLimit is applied when ScanJobListOptions.Limit is unset.
	DefaultScanJobListLimit = 50
	// MaxScanJobListLimit caps a single page.
	MaxScanJobListLimit = 1000

	scanJobsTable = "scan_jobs"
)

const scanJobColumns = `
  id,
  external_id,
  scan_kind,
  status,
  parameters,
  report_url,
  summary,
  metadata,
  runner_url,
  revision,
  created_at,
  updated_at,
  completed_at
`

// ScanJobRepoConfig holds optional dependencies for ScanJobRepo.
type ScanJobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// ScanJobRepo persists scan jobs in PostgreSQL.
type ScanJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewScanJobRepo creates a ScanJobRepo backed by db.
func NewScanJobRepo(db *sql.DB, cfg ScanJobRepoConfig) *ScanJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanJobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "scan_job_repo"),
	}
}

// Create inserts a new scan job. A missing id is generated and timestamps are stamped
// from the repository clock.
func (r *ScanJobRepo) Create(ctx context.Context, job *model.ScanJob) (*model.ScanJob, error) {
	if job == nil {
		return nil, apperrors.Validation("scan job is required")
	}
	if !job.ScanKind.Valid() {
		return nil, apperrors.ValidationField("scanKind", fmt.Sprintf("invalid scan kind %q", job.ScanKind))
	}
	status := job.Status
	if status == "" {
		status = model.ScanStatusPending
	}
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.timeProvider.Now()

	query := `INSERT INTO scan_jobs (id, external_id, scan_kind, status, parameters, report_url, summary,
  metadata, runner_url, revision, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9, 0, $10, $10, $11)
RETURNING ` + scanJobColumns

	args := []any{
		id,
		job.ExternalID,
		string(job.ScanKind),
		string(status),
		string(jsonObjectOrEmpty(job.Parameters)),
		job.ReportURL,
		job.Summary,
		string(jsonObjectOrEmpty(job.Metadata)),
		job.RunnerURL,
		now,
		job.CompletedAt,
	}

	out, err := r.queryOne(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("create scan job %s: %w", id, apperrors.MapDBError(err))
	}
	return out, nil
}

// GetByID returns the scan job with the given id.
func (r *ScanJobRepo) GetByID(ctx context.Context, id string) (*model.ScanJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrScanJobNotFound
	}
	out, err := r.queryOne(ctx, `SELECT `+scanJobColumns+` FROM scan_jobs WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScanJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job %s: %w", id, apperrors.MapDBError(err))
	}
	return out, nil
}

// FindByExternalID returns the job bound to a runner build number. When several records
// share the number (runner counter reset), the newest non-terminal one wins.
func (r *ScanJobRepo) FindByExternalID(ctx context.Context, externalID string) (*model.ScanJob, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrScanJobNotFound
	}
	query := `SELECT ` + scanJobColumns + ` FROM scan_jobs
WHERE external_id = $1
ORDER BY (status IN ('pending', 'running')) DESC, created_at DESC
LIMIT 1`
	out, err := r.queryOne(ctx, query, externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScanJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find scan job by external id %s: %w", externalID, apperrors.MapDBError(err))
	}
	return out, nil
}

// Patch applies a partial update in a single UPDATE ... RETURNING statement.
func (r *ScanJobRepo) Patch(ctx context.Context, id string, patch model.ScanJobPatch) (*model.ScanJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrScanJobNotFound
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid status %q", *patch.Status))
	}
	if patch.Empty() && patch.ExpectedRevision == nil {
		return r.GetByID(ctx, id)
	}

	query, args, err := buildPatchQuery(id, patch, r.timeProvider.Now())
	if err != nil {
		return nil, err
	}

	var out *model.ScanJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qErr := tx.Query(ctx, query, args...)
			if qErr != nil {
				return qErr
			}
			job, cErr := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.ScanJob])
			if cErr == nil {
				out = job
				return nil
			}
			if !errors.Is(cErr, pgx.ErrNoRows) {
				return cErr
			}
			if patch.ExpectedRevision == nil {
				return ErrScanJobNotFound
			}
			var exists bool
			if eErr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scan_jobs WHERE id = $1)`, id).
				Scan(&exists); eErr != nil {
				return eErr
			}
			if exists {
				return ErrRevisionConflict
			}
			return ErrScanJobNotFound
		},
	})
	switch {
	case txErr == nil:
		return out, nil
	case errors.Is(txErr, ErrScanJobNotFound), errors.Is(txErr, ErrRevisionConflict):
		return nil, txErr
	default:
		return nil, fmt.Errorf("patch scan job %s: %w", id, apperrors.MapDBError(txErr))
	}
}

// buildPatchQuery renders the UPDATE for patch. updated_at and revision always change.
func buildPatchQuery(id string, patch model.ScanJobPatch, now time.Time) (string, []any, error) {
	args := []any{now}
	sets := []string{"updated_at = $1", "revision = revision + 1"}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Status != nil {
		add("status = $%d", string(*patch.Status))
	}
	if patch.ExternalID != nil {
		add("external_id = COALESCE(external_id, $%d)", *patch.ExternalID)
	}
	if patch.RunnerURL != nil {
		add("runner_url = $%d", *patch.RunnerURL)
	}
	if patch.ReportURL != nil {
		add("report_url = $%d", *patch.ReportURL)
	}
	if patch.Summary != nil {
		add("summary = $%d", *patch.Summary)
	}
	if len(patch.Metadata) > 0 {
		raw, err := json.Marshal(patch.Metadata)
		if err != nil {
			return "", nil, apperrors.ValidationField("metadata", "metadata is not JSON encodable")
		}
		add("metadata = COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", string(raw))
	}
	if patch.CompletedAt != nil {
		add("completed_at = $%d", *patch.CompletedAt)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.ExpectedRevision != nil {
		args = append(args, *patch.ExpectedRevision)
		where += fmt.Sprintf(" AND revision = $%d", len(args))
	}

	query := `UPDATE scan_jobs SET ` + strings.Join(sets, ", ") +
		` WHERE ` + where + ` RETURNING ` + scanJobColumns
	return query, args, nil
}

// List returns jobs newest first.
func (r *ScanJobRepo) List(ctx context.Context, opts model.ScanJobListOptions) ([]*model.ScanJob, error) {
	limit, offset := NormalizeListPage(opts.Limit, opts.Offset)

	qopts := []database.ListQueryOption{
		database.WithColumns(scanJobColumnNames()...),
		database.WithOrderBy("created_at", "DESC"),
		database.WithOrderBy("id", "DESC"),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if opts.Status != nil {
		qopts = append(qopts, database.WithCondition(database.WhereCond("status", database.Equal, string(*opts.Status))))
	}
	if opts.ScanKind != nil {
		qopts = append(qopts,
			database.WithCondition(database.WhereCond("scan_kind", database.Equal, string(*opts.ScanKind))))
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions(scanJobsTable, qopts...))

	var out []*model.ScanJob
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.ScanJob])
		if err != nil {
			return err
		}
		out = vals
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list scan jobs: %w", apperrors.MapDBError(err))
	}
	if out == nil {
		out = []*model.ScanJob{}
	}
	return out, nil
}

// DeleteTerminalBefore removes up to limit completed or failed jobs whose completed_at is
// before cutoff, oldest first. Only the admin retention command calls it.
func (r *ScanJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	res, err := r.DB.ExecContext(ctx, `
DELETE FROM scan_jobs WHERE id IN (
  SELECT id FROM scan_jobs
  WHERE status IN ('completed', 'failed') AND completed_at < $1
  ORDER BY completed_at
  LIMIT $2
)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete terminal scan jobs: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "pruned scan jobs", "count", n, "cutoff", cutoff)
	}
	return int(n), nil
}

func (r *ScanJobRepo) queryOne(ctx context.Context, query string, args ...any) (*model.ScanJob, error) {
	var out *model.ScanJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		job, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.ScanJob])
		if err != nil {
			return err
		}
		out = job
		return nil
	})
	return out, err
}

// NormalizeListPage applies the default and maximum page size and clamps the offset.
func NormalizeListPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultScanJobListLimit
	case limit > MaxScanJobListLimit:
		limit = MaxScanJobListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanJobColumnNames() []string {
	fields := strings.Split(scanJobColumns, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func jsonObjectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`)
	}
	return raw
}
