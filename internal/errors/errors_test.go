package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "scan job not found"},
			want: "scan job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeRunnerUnavailable,
				Message: "runner trigger failed",
				Cause:   errors.New("connection refused"),
			},
			want: "runner trigger failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := fmt.Errorf("get status: %w", Wrap(cause, ErrCodeInternal, "wrapped"))

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is through AppError = false, want true")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode ErrorCode
		wantMsg  string
	}{
		{"not found", NotFound("missing"), ErrCodeNotFound, "missing"},
		{"not foundf", NotFoundf("job %s", "j1"), ErrCodeNotFound, "job j1"},
		{"conflict", Conflict("dup"), ErrCodeConflict, "dup"},
		{"conflictf", Conflictf("dup %d", 2), ErrCodeConflict, "dup 2"},
		{"validation", Validation("bad"), ErrCodeValidation, "bad"},
		{"validationf", Validationf("bad %s", "kind"), ErrCodeValidation, "bad kind"},
		{"internal", Internal("boom"), ErrCodeInternal, "boom"},
		{"internalf", Internalf("boom %s", "x"), ErrCodeInternal, "boom x"},
		{"wrapf", Wrapf(errors.New("c"), ErrCodeTimeout, "slow %s", "db"), ErrCodeTimeout, "slow db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("scanKind", "scanKind must be one of: SAST, FOSS, DAST")
	if !IsValidation(err) {
		t.Fatalf("IsValidation() = false")
	}
	if got := GetField(err); got != "scanKind" {
		t.Errorf("GetField() = %q, want scanKind", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField(plain) = %q, want empty", got)
	}
}

func TestRunnerUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("trigger scan: %w", RunnerUnavailable(cause, "trigger"))

	if !IsRunnerUnavailable(err) {
		t.Fatalf("IsRunnerUnavailable() = false")
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not reachable through errors.Is")
	}
	if got := PublicMessage(err, "fallback"); got != "runner trigger failed" {
		t.Errorf("PublicMessage() = %q", got)
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "wrapped"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"not found direct", NotFound("x"), IsNotFound, true},
		{"not found wrapped", fmt.Errorf("ctx: %w", NotFound("x")), IsNotFound, true},
		{"not found mismatch", Conflict("x"), IsNotFound, false},
		{"conflict", Conflict("x"), IsConflict, true},
		{"validation", Validation("x"), IsValidation, true},
		{"internal", Internal("x"), IsInternal, true},
		{"timeout", &AppError{Code: ErrCodeTimeout}, IsTimeout, true},
		{"canceled", &AppError{Code: ErrCodeCanceled}, IsCanceled, true},
		{"plain error", errors.New("x"), IsInternal, false},
		{"nil error", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Validation("x"), true},
		{NotFound("x"), true},
		{Conflict("x"), true},
		{RunnerUnavailable(errors.New("x"), "status"), false},
		{Internal("x"), false},
		{errors.New("x"), false},
	}

	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(errors.New("pq: secret detail"), "Internal error"); got != "Internal error" {
		t.Errorf("PublicMessage(plain) = %q, want fallback", got)
	}
	if got := PublicMessage(Validation("scanKind is required"), "x"); got != "scanKind is required" {
		t.Errorf("PublicMessage(validation) = %q", got)
	}
}
