package data

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

// MemoryScanJobStore is an in-process ScanJobRepository used by tests and local runs
// without PostgreSQL. Every method holds the store mutex for its whole read-modify-write,
// which gives the same per-record atomicity as a single UPDATE.
type MemoryScanJobStore struct {
	mu           sync.RWMutex
	jobs         map[string]*model.ScanJob
	timeProvider TimeProvider
}

// NewMemoryScanJobStore creates an empty store. A nil tp uses the system clock.
func NewMemoryScanJobStore(tp TimeProvider) *MemoryScanJobStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryScanJobStore{jobs: make(map[string]*model.ScanJob), timeProvider: tp}
}

// Create stores a copy of job and returns it.
func (s *MemoryScanJobStore) Create(_ context.Context, job *model.ScanJob) (*model.ScanJob, error) {
	if job == nil {
		return nil, apperrors.Validation("scan job is required")
	}
	if !job.ScanKind.Valid() {
		return nil, apperrors.ValidationField("scanKind", fmt.Sprintf("invalid scan kind %q", job.ScanKind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneScanJob(job)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.jobs[stored.ID]; exists {
		return nil, apperrors.Conflictf("scan job %s already exists", stored.ID)
	}
	if stored.Status == "" {
		stored.Status = model.ScanStatusPending
	}
	stored.Parameters = jsonObjectOrEmpty(stored.Parameters)
	stored.Metadata = jsonObjectOrEmpty(stored.Metadata)
	stored.Revision = 0
	now := s.timeProvider.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.jobs[stored.ID] = stored
	return cloneScanJob(stored), nil
}

// GetByID returns a copy of the job.
func (s *MemoryScanJobStore) GetByID(_ context.Context, id string) (*model.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrScanJobNotFound
	}
	return cloneScanJob(job), nil
}

// FindByExternalID prefers the newest non-terminal match, then the newest match.
func (s *MemoryScanJobStore) FindByExternalID(_ context.Context, externalID string) (*model.ScanJob, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrScanJobNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.ScanJob
	for _, job := range s.jobs {
		if job.ExternalIDValue() != externalID {
			continue
		}
		if best == nil || externalMatchBetter(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrScanJobNotFound
	}
	return cloneScanJob(best), nil
}

func externalMatchBetter(candidate, current *model.ScanJob) bool {
	ca, cu := !candidate.Status.Terminal(), !current.Status.Terminal()
	if ca != cu {
		return ca
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

// Patch applies patch under the store lock.
func (s *MemoryScanJobStore) Patch(_ context.Context, id string, patch model.ScanJobPatch) (*model.ScanJob, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("invalid status %q", *patch.Status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrScanJobNotFound
	}
	if patch.Empty() && patch.ExpectedRevision == nil {
		return cloneScanJob(job), nil
	}
	if patch.ExpectedRevision != nil && *patch.ExpectedRevision != job.Revision {
		return nil, ErrRevisionConflict
	}

	next := cloneScanJob(job)
	if len(patch.Metadata) > 0 {
		merged, err := mergeMetadata(next.Metadata, patch.Metadata)
		if err != nil {
			return nil, err
		}
		next.Metadata = merged
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.ExternalID != nil && !next.HasExternalID() {
		v := *patch.ExternalID
		next.ExternalID = &v
	}
	if patch.RunnerURL != nil {
		next.RunnerURL = stringPtr(*patch.RunnerURL)
	}
	if patch.ReportURL != nil {
		next.ReportURL = stringPtr(*patch.ReportURL)
	}
	if patch.Summary != nil {
		next.Summary = stringPtr(*patch.Summary)
	}
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		next.CompletedAt = &at
	}
	if next.Status.Terminal() != (next.CompletedAt != nil) {
		return nil, apperrors.ValidationField("completed_at", "completed_at must be set exactly when status is terminal")
	}
	next.UpdatedAt = s.timeProvider.Now()
	next.Revision++

	s.jobs[id] = next
	return cloneScanJob(next), nil
}

// List returns jobs newest first.
func (s *MemoryScanJobStore) List(_ context.Context, opts model.ScanJobListOptions) ([]*model.ScanJob, error) {
	limit, offset := NormalizeListPage(opts.Limit, opts.Offset)

	s.mu.RLock()
	matched := make([]*model.ScanJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		if opts.ScanKind != nil && job.ScanKind != *opts.ScanKind {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *model.ScanJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	if offset >= len(matched) {
		return []*model.ScanJob{}, nil
	}
	end := min(offset+limit, len(matched))
	out := make([]*model.ScanJob, 0, end-offset)
	for _, job := range matched[offset:end] {
		out = append(out, cloneScanJob(job))
	}
	return out, nil
}

// DeleteTerminalBefore removes up to limit terminal jobs completed before cutoff, oldest first.
func (s *MemoryScanJobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*model.ScanJob
	for _, job := range s.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			victims = append(victims, job)
		}
	}
	slices.SortFunc(victims, func(a, b *model.ScanJob) int { return a.CompletedAt.Compare(*b.CompletedAt) })
	if len(victims) > limit {
		victims = victims[:limit]
	}
	for _, job := range victims {
		delete(s.jobs, job.ID)
	}
	return len(victims), nil
}

// mergeMetadata shallow-merges patch into the stored object; patch keys win.
func mergeMetadata(stored json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	base := map[string]any{}
	if len(stored) > 0 && string(stored) != "null" {
		if err := json.Unmarshal(stored, &base); err != nil {
			return nil, fmt.Errorf("decode stored metadata: %w", err)
		}
	}
	maps.Copy(base, patch)
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, apperrors.ValidationField("metadata", "metadata is not JSON encodable")
	}
	return raw, nil
}

func cloneScanJob(j *model.ScanJob) *model.ScanJob {
	c := *j
	c.Parameters = slices.Clone(j.Parameters)
	c.Metadata = slices.Clone(j.Metadata)
	if j.ExternalID != nil {
		c.ExternalID = stringPtr(*j.ExternalID)
	}
	if j.ReportURL != nil {
		c.ReportURL = stringPtr(*j.ReportURL)
	}
	if j.Summary != nil {
		c.Summary = stringPtr(*j.Summary)
	}
	if j.RunnerURL != nil {
		c.RunnerURL = stringPtr(*j.RunnerURL)
	}
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func stringPtr(s string) *string { return &s }
