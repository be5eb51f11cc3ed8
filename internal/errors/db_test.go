package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{name: "wrapped deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), wantCode: ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(MapDBError(tt.err)); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	if err := MapDBError(pgx.ErrNoRows); !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
}

func TestMapDBError_PgErrors(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantCode  ErrorCode
		wantField string
	}{
		{
			name:      "duplicate primary key",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "scan_jobs_pkey"},
			wantCode:  ErrCodeConflict,
			wantField: "id",
		},
		{
			name: "unique violation with detail",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (external_id)=(12) already exists.`,
			},
			wantCode:  ErrCodeConflict,
			wantField: "external_id",
		},
		{
			name:      "unique violation column wins",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "id", ConstraintName: "scan_jobs_x_key"},
			wantCode:  ErrCodeConflict,
			wantField: "id",
		},
		{
			name:      "check violation",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "status"},
			wantCode:  ErrCodeValidation,
			wantField: "status",
		},
		{
			name:      "not null violation",
			pgErr:     &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "scan_kind"},
			wantCode:  ErrCodeValidation,
			wantField: "scan_kind",
		},
		{
			name:     "malformed uuid",
			pgErr:    &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unknown code",
			pgErr:    &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(fmt.Errorf("exec: %w", tt.pgErr))
			if got := GetCode(err); got != tt.wantCode {
				t.Fatalf("code = %v, want %v", got, tt.wantCode)
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				t.Errorf("PgError cause not preserved")
			}
		})
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	plain := errors.New("some error")
	if err := MapDBError(plain); !errors.Is(err, plain) || GetCode(err) != "" {
		t.Errorf("MapDBError(plain) = %v, want unchanged", err)
	}
}

func TestInferFieldFromConstraint(t *testing.T) {
	tests := []struct {
		constraint string
		want       string
	}{
		{"scan_jobs_pkey", "id"},
		{"scan_jobs_external_id_key", "external_id"},
		{"scan_jobs_idempotency_key_unique", "idempotency_key"},
		{"scan_jobs_status_check", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			if got := inferFieldFromConstraint(tt.constraint); got != tt.want {
				t.Errorf("inferFieldFromConstraint(%q) = %q, want %q", tt.constraint, got, tt.want)
			}
		})
	}
}
