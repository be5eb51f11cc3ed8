// Package metrics emits the scan job lifecycle and runner call metrics.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/mmk-scan-api/internal/observability/errors"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition sources.
const (
	SourceTrigger  = "trigger"
	SourceCallback = "callback"
	SourcePoll     = "poll"
)

// ScanMetric captures one attempted status transition of a scan job.
type ScanMetric struct {
	ScanKind string
	From     string
	To       string
	Source   string
	Result   string
	// Duration is the job's age at the transition; terminal transitions only.
	Duration time.Duration
	Err      error
}

// EmitScanTransition emits scan.transition and, for timed transitions, scan.duration.
func EmitScanTransition(sink statsd.Sink, in ScanMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"scan_kind": in.ScanKind,
		"from":      in.From,
		"to":        in.To,
		"source":    in.Source,
		"result":    in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("scan.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("scan.duration", in.Duration, CloneTags(tags))
	}
}

// RunnerMetric captures one call to the job runner.
type RunnerMetric struct {
	Op       string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitRunnerCall emits runner.call and runner.latency.
func EmitRunnerCall(sink statsd.Sink, in RunnerMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"op":     in.Op,
		"result": in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("runner.call", 1, tags)
	if in.Duration > 0 {
		sink.Timing("runner.latency", in.Duration, CloneTags(tags))
	}
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
