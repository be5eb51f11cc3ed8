package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-scan-api/internal/domain/model"
)

// ScanJobBuilder provides a fluent interface for building ScanJob fixtures.
type ScanJobBuilder struct {
	job *model.ScanJob
}

// NewScanJob creates a pending SAST job with a fresh id and TestTime timestamps.
func NewScanJob() *ScanJobBuilder {
	now := TestTime()
	return &ScanJobBuilder{
		job: &model.ScanJob{
			ID:         uuid.NewString(),
			ScanKind:   model.ScanKindSAST,
			Status:     model.ScanStatusPending,
			Parameters: json.RawMessage(`{"repo":"x"}`),
			Metadata:   json.RawMessage(`{}`),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// WithID sets the job id.
func (b *ScanJobBuilder) WithID(id string) *ScanJobBuilder {
	b.job.ID = id
	return b
}

// WithKind sets the scan kind.
func (b *ScanJobBuilder) WithKind(kind model.ScanKind) *ScanJobBuilder {
	b.job.ScanKind = kind
	return b
}

// WithParameters sets the runner parameters from a JSON string.
func (b *ScanJobBuilder) WithParameters(raw string) *ScanJobBuilder {
	b.job.Parameters = json.RawMessage(raw)
	return b
}

// WithMetadata sets the metadata from a JSON string.
func (b *ScanJobBuilder) WithMetadata(raw string) *ScanJobBuilder {
	b.job.Metadata = json.RawMessage(raw)
	return b
}

// Running marks the job as accepted by the runner with the given build number.
func (b *ScanJobBuilder) Running(externalID string) *ScanJobBuilder {
	b.job.Status = model.ScanStatusRunning
	b.job.ExternalID = StringPtr(externalID)
	b.job.RunnerURL = StringPtr("http://jenkins.test/job/scan-pipeline/" + externalID)
	return b
}

// Completed marks the job as finished successfully at TestTime plus one minute.
func (b *ScanJobBuilder) Completed() *ScanJobBuilder {
	return b.terminal(model.ScanStatusCompleted)
}

// Failed marks the job as finished unsuccessfully at TestTime plus one minute.
func (b *ScanJobBuilder) Failed() *ScanJobBuilder {
	return b.terminal(model.ScanStatusFailed)
}

func (b *ScanJobBuilder) terminal(status model.ScanStatus) *ScanJobBuilder {
	at := TestTime().Add(time.Minute)
	b.job.Status = status
	b.job.CompletedAt = TimePtr(at)
	b.job.UpdatedAt = at
	return b
}

// WithRevision sets the revision counter.
func (b *ScanJobBuilder) WithRevision(rev int64) *ScanJobBuilder {
	b.job.Revision = rev
	return b
}

// CreatedAt overrides creation and update timestamps.
func (b *ScanJobBuilder) CreatedAt(t time.Time) *ScanJobBuilder {
	b.job.CreatedAt = t
	b.job.UpdatedAt = t
	return b
}

// Build returns the constructed job.
func (b *ScanJobBuilder) Build() *model.ScanJob {
	return b.job
}
