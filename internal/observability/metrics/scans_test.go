package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
)

func TestEmitScanTransition(t *testing.T) {
	var rec statsd.Recorder
	EmitScanTransition(&rec, ScanMetric{
		ScanKind: "SAST",
		From:     "running",
		To:       "completed",
		Source:   SourcePoll,
		Result:   ResultSuccess,
		Duration: 2 * time.Second,
	})

	assert.Equal(t, []string{
		"scan.transition:1|c|#from:running,result:success,scan_kind:SAST,source:poll,to:completed",
		"scan.duration:2000|ms|#from:running,result:success,scan_kind:SAST,source:poll,to:completed",
	}, rec.Lines())
}

func TestEmitRunnerCallTagsErrorClass(t *testing.T) {
	var rec statsd.Recorder
	EmitRunnerCall(&rec, RunnerMetric{
		Op:     "trigger",
		Result: ResultError,
		Err:    apperrors.RunnerUnavailable(errors.New("dial"), "trigger"),
	})

	lines := rec.Lines()
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "error_class:runner_unavailable")
}

func TestEmitNilSink(t *testing.T) {
	EmitScanTransition(nil, ScanMetric{})
	EmitRunnerCall(nil, RunnerMetric{})
}
