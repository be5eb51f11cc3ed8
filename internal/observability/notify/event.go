// Package notify defines the failed-scan notification payload and the sink contract.
package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
)

// Source values describe which path observed the failure.
const (
	SourceCallback = "callback"
	SourcePoll     = "poll"
)

// ScanFailurePayload captures the data emitted when a scan job ends in failed.
type ScanFailurePayload struct {
	JobID      string
	ExternalID string
	ScanKind   string
	RunnerURL  string
	ReportURL  string
	Summary    string
	Source     string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming scan failure notifications.
type Sink interface {
	SendScanFailure(ctx context.Context, payload ScanFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload ScanFailurePayload) error

// SendScanFailure implements the Sink interface.
func (f SinkFunc) SendScanFailure(ctx context.Context, payload ScanFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// deliveryInterval is the first wait between webhook attempts.
const deliveryInterval = 200 * time.Millisecond

// Deliver runs send up to retryLimit+1 times with exponential backoff, stopping when ctx ends.
func Deliver(ctx context.Context, retryLimit int, send func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = deliveryInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(retryLimit, 0))), ctx)
	return backoff.Retry(send, policy)
}
