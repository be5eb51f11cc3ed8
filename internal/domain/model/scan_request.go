package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

// TriggerScanRequest asks the service to start a new scan.
type TriggerScanRequest struct {
	ScanKind   ScanKind       `json:"scanKind"           validate:"required,oneof=SAST FOSS DAST"`
	Parameters map[string]any `json:"parameters"         validate:"required"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// IdempotencyKey is taken from the Idempotency-Key header, never from the body.
	IdempotencyKey string `json:"-" validate:"omitempty,max=255"`
}

// Validate checks the request and returns a validation AppError on failure.
func (r *TriggerScanRequest) Validate() error {
	if r == nil {
		return apperrors.Validation("trigger request is required")
	}
	return validateStruct(r)
}

// CallbackRequest is the runner's push notification of a terminal outcome.
type CallbackRequest struct {
	ExternalID string         `json:"externalId"          validate:"required"`
	Status     ScanStatus     `json:"status"              validate:"required,oneof=completed failed"`
	ReportURL  string         `json:"reportUrl,omitempty" validate:"omitempty,url"`
	Summary    string         `json:"summary,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts the legacy "jobId" field as an alias for externalId.
func (r *CallbackRequest) UnmarshalJSON(b []byte) error {
	type alias CallbackRequest
	aux := struct {
		*alias
		JobID string `json:"jobId,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.ExternalID == "" {
		r.ExternalID = aux.JobID
	}
	return nil
}

// Validate checks the callback and returns a validation AppError on failure.
func (r *CallbackRequest) Validate() error {
	if r == nil {
		return apperrors.Validation("callback request is required")
	}
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	return validateStruct(r)
}

// TriggerResult is returned to the client after a successful trigger.
type TriggerResult struct {
	JobID      string     `json:"jobId"`
	ExternalID string     `json:"externalId"`
	Status     ScanStatus `json:"status"`
	ScanKind   ScanKind   `json:"scanKind"`
	URL        string     `json:"url"`
}

func validateStruct(v any) error {
	err := requestValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request")
	}
	first := verrs[0]
	return apperrors.ValidationField(first.Field(), describeFieldError(first))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		return fe.Field() + " must be a valid URL"
	case "max":
		return fe.Field() + " cannot exceed " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
