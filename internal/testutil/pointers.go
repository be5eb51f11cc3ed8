package testutil

import (
	"time"

	"github.com/target/mmk-scan-api/internal/domain/model"
)

// StringPtr returns a pointer to the given string value.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to the given int64 value, for ScanJobPatch.ExpectedRevision.
func Int64Ptr(i int64) *int64 {
	return &i
}

// TimePtr returns a pointer to the given time value.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// StatusPtr returns a pointer to the given scan status.
func StatusPtr(s model.ScanStatus) *model.ScanStatus {
	return &s
}
