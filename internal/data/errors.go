package data

import apperrors "github.com/target/mmk-scan-api/internal/errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrScanJobNotFound is returned when no scan job matches the lookup.
	ErrScanJobNotFound = apperrors.NotFound("scan job not found")
	// ErrRevisionConflict is returned when a compare-and-set patch loses to a concurrent writer.
	ErrRevisionConflict = apperrors.Conflict("scan job was modified concurrently")
)
