package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

func TestParseScanKind(t *testing.T) {
	k, err := ParseScanKind(" sast ")
	require.NoError(t, err)
	assert.Equal(t, ScanKindSAST, k)

	_, err = ParseScanKind("IAST")
	require.Error(t, err)
}

func TestTriggerScanRequest_KindIsCaseSensitive(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		wantErr bool
	}{
		{name: "exact", kind: "FOSS"},
		{name: "lower case", kind: "sast", wantErr: true},
		{name: "padded", kind: " DAST ", wantErr: true},
		{name: "unknown", kind: "IAST", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req TriggerScanRequest
			body := fmt.Sprintf(`{"scanKind":%q,"parameters":{"repo":"x"}}`, tt.kind)
			require.NoError(t, json.Unmarshal([]byte(body), &req))

			err := req.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
			assert.Equal(t, "scanKind", appErr.Field)
		})
	}
}

func TestScanStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   ScanStatus
		terminal bool
	}{
		{ScanStatusPending, false},
		{ScanStatusRunning, false},
		{ScanStatusCompleted, true},
		{ScanStatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
	assert.False(t, ScanStatus("queued").Valid())
}

func TestNormalizeRunnerStatus(t *testing.T) {
	tests := []struct {
		name     string
		building bool
		result   string
		want     RunnerStatus
	}{
		{"building wins over result", true, "SUCCESS", RunnerStatusInProgress},
		{"building without result", true, "", RunnerStatusInProgress},
		{"success", false, "SUCCESS", RunnerStatusSuccess},
		{"failure", false, "FAILURE", RunnerStatusFailure},
		{"unstable maps to aborted", false, "UNSTABLE", RunnerStatusAborted},
		{"aborted", false, "ABORTED", RunnerStatusAborted},
		{"empty result", false, "", RunnerStatusAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRunnerStatus(tt.building, tt.result))
		})
	}
}

func TestTriggerScanRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       TriggerScanRequest
		wantField string
	}{
		{
			name: "valid",
			req:  TriggerScanRequest{ScanKind: ScanKindSAST, Parameters: map[string]any{"repo": "x"}},
		},
		{
			name: "empty parameters object is allowed",
			req:  TriggerScanRequest{ScanKind: ScanKindDAST, Parameters: map[string]any{}},
		},
		{
			name:      "unknown kind",
			req:       TriggerScanRequest{ScanKind: "IAST", Parameters: map[string]any{}},
			wantField: "scanKind",
		},
		{
			name:      "missing kind",
			req:       TriggerScanRequest{Parameters: map[string]any{}},
			wantField: "scanKind",
		},
		{
			name:      "missing parameters",
			req:       TriggerScanRequest{ScanKind: ScanKindFOSS},
			wantField: "parameters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.wantField, apperrors.GetField(err))
		})
	}
}

func TestCallbackRequest_Validate(t *testing.T) {
	ok := CallbackRequest{ExternalID: " 123 ", Status: ScanStatusCompleted, ReportURL: "http://r/1"}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "123", ok.ExternalID)

	running := CallbackRequest{ExternalID: "123", Status: ScanStatusRunning}
	err := running.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "status", apperrors.GetField(err))

	badURL := CallbackRequest{ExternalID: "123", Status: ScanStatusFailed, ReportURL: "not a url"}
	err = badURL.Validate()
	require.Error(t, err)
	assert.Equal(t, "reportUrl", apperrors.GetField(err))
}

func TestCallbackRequest_LegacyJobIDAlias(t *testing.T) {
	var req CallbackRequest
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"42","status":"failed"}`), &req))
	assert.Equal(t, "42", req.ExternalID)
	assert.Equal(t, ScanStatusFailed, req.Status)

	var both CallbackRequest
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"1","externalId":"2","status":"completed"}`), &both))
	assert.Equal(t, "2", both.ExternalID)
}

func TestScanJob_Accessors(t *testing.T) {
	var nilJob *ScanJob
	assert.False(t, nilJob.HasExternalID())

	ext := "7"
	job := &ScanJob{
		ExternalID: &ext,
		Parameters: json.RawMessage(`{"repo":"x"}`),
	}
	assert.Equal(t, "7", job.ExternalIDValue())

	params, err := job.ParameterMap()
	require.NoError(t, err)
	assert.Equal(t, "x", params["repo"])

	meta, err := job.MetadataMap()
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestRunnerError(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("trigger: %w", &RunnerError{Op: "trigger", Retryable: true, Err: base})

	assert.ErrorIs(t, err, ErrRunnerRequest)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsRetryableRunnerError(err))
	assert.False(t, IsRetryableRunnerError(&RunnerError{Op: "status", StatusCode: 500}))
	assert.Equal(t, "runner status: status 500", (&RunnerError{Op: "status", StatusCode: 500}).Error())
}
