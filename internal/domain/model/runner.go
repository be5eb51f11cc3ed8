package model

import (
	"errors"
	"fmt"
	"time"
)

// RunnerStatus is the runner's build status normalized to four values.
type RunnerStatus string

const (
	// RunnerStatusInProgress means the build is still executing.
	RunnerStatusInProgress RunnerStatus = "IN_PROGRESS"
	// RunnerStatusSuccess means the build finished with a SUCCESS result.
	RunnerStatusSuccess RunnerStatus = "SUCCESS"
	// RunnerStatusFailure means the build finished with a FAILURE result.
	RunnerStatusFailure RunnerStatus = "FAILURE"
	// RunnerStatusAborted covers every other finished result, including none.
	RunnerStatusAborted RunnerStatus = "ABORTED"
)

// NormalizeRunnerStatus maps the runner's native building flag and result onto RunnerStatus.
func NormalizeRunnerStatus(building bool, result string) RunnerStatus {
	if building {
		return RunnerStatusInProgress
	}
	switch result {
	case string(RunnerStatusSuccess):
		return RunnerStatusSuccess
	case string(RunnerStatusFailure):
		return RunnerStatusFailure
	default:
		return RunnerStatusAborted
	}
}

// BuildRef identifies a build the runner accepted.
type BuildRef struct {
	ExternalID string       `json:"externalId"`
	Status     RunnerStatus `json:"status"`
	URL        string       `json:"url"`
}

// BuildStatus is a point-in-time view of a runner build.
type BuildStatus struct {
	ExternalID   string       `json:"externalId"`
	Status       RunnerStatus `json:"status"`
	ResultDetail string       `json:"resultDetail,omitempty"`
	URL          string       `json:"url"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ErrRunnerRequest is the sentinel matched by every RunnerError.
var ErrRunnerRequest = errors.New("runner request failed")

// RunnerError describes a failed call to the runner.
type RunnerError struct {
	Op         string
	StatusCode int
	// Retryable is true only when the runner cannot have accepted the request.
	Retryable bool
	Err       error
}

func (e *RunnerError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("runner %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("runner %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("runner %s: %v", e.Op, e.Err)
	default:
		return "runner " + e.Op + " failed"
	}
}

func (e *RunnerError) Unwrap() error { return e.Err }

// Is matches ErrRunnerRequest.
func (e *RunnerError) Is(target error) bool { return target == ErrRunnerRequest }

// IsRetryableRunnerError reports whether err carries a RunnerError safe to retry.
func IsRetryableRunnerError(err error) bool {
	var re *RunnerError
	return errors.As(err, &re) && re.Retryable
}
