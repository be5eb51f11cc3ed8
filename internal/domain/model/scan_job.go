// Package model defines the core data types shared by the scan job store, runner client and API.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScanKind identifies the kind of security scan a job runs.
// Request bodies must use the exact upper-case names.
type ScanKind string

// ScanStatus is the stored lifecycle status of a scan job.
type ScanStatus string

const (
	// ScanKindSAST is static application security testing.
	ScanKindSAST ScanKind = "SAST"
	// ScanKindFOSS is open-source dependency scanning.
	ScanKindFOSS ScanKind = "FOSS"
	// ScanKindDAST is dynamic application security testing.
	ScanKindDAST ScanKind = "DAST"

	// ScanStatusPending indicates the job is recorded but the runner has not accepted it.
	ScanStatusPending ScanStatus = "pending"
	// ScanStatusRunning indicates the runner accepted the job and assigned an external id.
	ScanStatusRunning ScanStatus = "running"
	// ScanStatusCompleted indicates the scan finished successfully.
	ScanStatusCompleted ScanStatus = "completed"
	// ScanStatusFailed indicates the scan finished unsuccessfully.
	ScanStatusFailed ScanStatus = "failed"
)

// ScanKinds returns every supported scan kind.
func ScanKinds() []ScanKind {
	return []ScanKind{ScanKindSAST, ScanKindFOSS, ScanKindDAST}
}

// Valid returns true if the ScanKind is one of the supported kinds.
func (k ScanKind) Valid() bool {
	return k == ScanKindSAST || k == ScanKindFOSS || k == ScanKindDAST
}

// ParseScanKind parses a kind case-insensitively for query strings and CLI flags.
func ParseScanKind(raw string) (ScanKind, error) {
	k := ScanKind(strings.ToUpper(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("invalid ScanKind: %q", raw)
	}
	return k, nil
}

// Valid returns true if the ScanStatus is a known status.
func (s ScanStatus) Valid() bool {
	return s == ScanStatusPending || s == ScanStatusRunning || s == ScanStatusCompleted ||
		s == ScanStatusFailed
}

// Terminal reports whether no further transitions apply to the status.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanJob is the unit of truth for one scan execution.
type ScanJob struct {
	ID          string          `json:"id"                    db:"id"`
	ExternalID  *string         `json:"externalId,omitempty"  db:"external_id"`
	ScanKind    ScanKind        `json:"scanKind"              db:"scan_kind"`
	Status      ScanStatus      `json:"status"                db:"status"`
	Parameters  json.RawMessage `json:"parameters"            db:"parameters"`
	ReportURL   *string         `json:"reportUrl,omitempty"   db:"report_url"`
	Summary     *string         `json:"summary,omitempty"     db:"summary"`
	Metadata    json.RawMessage `json:"metadata,omitempty"    db:"metadata"`
	RunnerURL   *string         `json:"url,omitempty"         db:"runner_url"`
	Revision    int64           `json:"revision"              db:"revision"`
	CreatedAt   time.Time       `json:"createdAt"             db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt"             db:"updated_at"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// HasExternalID reports whether the runner has assigned an identifier.
func (j *ScanJob) HasExternalID() bool {
	return j != nil && j.ExternalID != nil && *j.ExternalID != ""
}

// ExternalIDValue returns the external id or an empty string.
func (j *ScanJob) ExternalIDValue() string {
	if !j.HasExternalID() {
		return ""
	}
	return *j.ExternalID
}

// ParameterMap decodes the stored runner parameters.
func (j *ScanJob) ParameterMap() (map[string]any, error) {
	return decodeObject(j.Parameters)
}

// MetadataMap decodes the stored metadata.
func (j *ScanJob) MetadataMap() (map[string]any, error) {
	return decodeObject(j.Metadata)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return out, nil
}

// ScanJobPatch describes a partial update. Nil fields are left untouched.
// Metadata is merged into the stored object; keys present in the patch win.
type ScanJobPatch struct {
	Status      *ScanStatus
	ExternalID  *string
	RunnerURL   *string
	ReportURL   *string
	Summary     *string
	Metadata    map[string]any
	CompletedAt *time.Time

	// ExpectedRevision, when set, turns the patch into a compare-and-set on Revision.
	ExpectedRevision *int64
}

// Empty reports whether the patch changes no column.
func (p *ScanJobPatch) Empty() bool {
	return p.Status == nil && p.ExternalID == nil && p.RunnerURL == nil && p.ReportURL == nil &&
		p.Summary == nil && len(p.Metadata) == 0 && p.CompletedAt == nil
}

// ScanJobListOptions controls pagination and filtering when listing jobs.
type ScanJobListOptions struct {
	Limit    int
	Offset   int
	Status   *ScanStatus
	ScanKind *ScanKind
}
