package config

import (
	"strings"
	"time"
)

// RunnerConfig configures the Jenkins client that executes scans.
type RunnerConfig struct {
	URL     string `env:"JENKINS_URL"      envDefault:"http://localhost:8080"`
	User    string `env:"JENKINS_USER"     envDefault:"admin"`
	Token   string `env:"JENKINS_TOKEN"`
	JobName string `env:"JENKINS_JOB_NAME" envDefault:"scan-pipeline"`

	// Timeout bounds every individual Jenkins request.
	Timeout time.Duration `env:"RUNNER_TIMEOUT" envDefault:"10s"`

	// TriggerRetries is the number of extra trigger attempts after a retryable failure.
	TriggerRetries       int           `env:"RUNNER_TRIGGER_RETRIES"        envDefault:"2"`
	RetryInitialInterval time.Duration `env:"RUNNER_RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RUNNER_RETRY_MAX_INTERVAL"     envDefault:"5s"`

	// MaxLogBytes caps how much console output is read per log request.
	MaxLogBytes int64 `env:"RUNNER_MAX_LOG_BYTES" envDefault:"5242880"`
}

// Sanitize trims connection settings and clamps retry values.
func (r *RunnerConfig) Sanitize() {
	r.URL = strings.TrimRight(strings.TrimSpace(r.URL), "/")
	r.User = strings.TrimSpace(r.User)
	r.Token = strings.TrimSpace(r.Token)
	r.JobName = strings.TrimSpace(r.JobName)
	if r.TriggerRetries < 0 {
		r.TriggerRetries = 0
	}
	if r.RetryInitialInterval <= 0 {
		r.RetryInitialInterval = 500 * time.Millisecond
	}
	if r.RetryMaxInterval < r.RetryInitialInterval {
		r.RetryMaxInterval = r.RetryInitialInterval
	}
}
