// Package jenkins implements core.Runner against the Jenkins remote access API.
package jenkins

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/observability/metrics"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
)

// Operation names used in errors, logs and metrics.
const (
	OpTrigger         = "trigger"
	OpNextBuildNumber = "next_build_number"
	OpGetStatus       = "get_status"
	OpGetLog          = "get_log"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxLogBytes = 5 << 20
	truncatedMarker    = "\n[console log truncated]\n"
)

var errInvalidBuildNumber = errors.New("invalid build number")

// Config configures the Jenkins client.
type Config struct {
	BaseURL string
	User    string
	Token   string
	JobName string
	Timeout time.Duration

	// MaxLogBytes caps GetLog; larger logs are truncated.
	MaxLogBytes int64

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// Client talks to a single Jenkins job. It never retries; callers own the retry policy.
type Client struct {
	baseURL     string
	jobName     string
	authHeader  string
	maxLogBytes int64
	http        *http.Client
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewClient validates cfg and builds a Client. The basic auth header is computed once here.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("jenkins base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse jenkins base url: %w", err)
	}
	job := strings.TrimSpace(cfg.JobName)
	if job == "" {
		return nil, errors.New("jenkins job name is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	maxLog := cfg.MaxLogBytes
	if maxLog <= 0 {
		maxLog = defaultMaxLogBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	creds := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Token))
	return &Client{
		baseURL:     base,
		jobName:     job,
		authHeader:  "Basic " + creds,
		maxLogBytes: maxLog,
		http:        hc,
		logger:      logger.With("component", "jenkins", "job", job),
		metrics:     cfg.Metrics,
	}, nil
}

// Trigger queues a build with params and returns the build number Jenkins will assign next.
func (c *Client) Trigger(ctx context.Context, params map[string]any) (*model.BuildRef, error) {
	query, err := EncodeParameters(params)
	if err != nil {
		return nil, c.fail(ctx, OpTrigger, &model.RunnerError{Op: OpTrigger, Err: err}, time.Time{})
	}
	endpoint := c.jobURL() + "/buildWithParameters"
	if query != "" {
		endpoint += "?" + query
	}

	c.logger.InfoContext(ctx, "triggering build", "param_keys", sortedKeys(params))
	start := time.Now()
	if _, err := c.do(ctx, OpTrigger, http.MethodPost, endpoint, 4096); err != nil {
		return nil, c.fail(ctx, OpTrigger, err, start)
	}
	c.record(OpTrigger, nil, start)

	var info struct {
		NextBuildNumber int64 `json:"nextBuildNumber"`
	}
	start = time.Now()
	if err := c.getJSON(ctx, OpNextBuildNumber, c.jobURL()+"/api/json?tree=nextBuildNumber", &info); err != nil {
		// The build is already queued; retrying Trigger would start another one.
		var re *model.RunnerError
		if errors.As(err, &re) {
			re.Retryable = false
		}
		return nil, c.fail(ctx, OpNextBuildNumber, err, start)
	}
	if info.NextBuildNumber <= 0 {
		return nil, c.fail(ctx, OpNextBuildNumber, &model.RunnerError{
			Op:  OpNextBuildNumber,
			Err: errors.New("missing nextBuildNumber"),
		}, start)
	}
	c.record(OpNextBuildNumber, nil, start)

	n := strconv.FormatInt(info.NextBuildNumber, 10)
	return &model.BuildRef{
		ExternalID: n,
		Status:     model.RunnerStatusInProgress,
		URL:        c.jobURL() + "/" + n,
	}, nil
}

type buildInfo struct {
	ID        string  `json:"id"`
	Result    *string `json:"result"`
	Building  bool    `json:"building"`
	Timestamp int64   `json:"timestamp"`
	URL       string  `json:"url"`
}

// GetStatus returns the normalized status of a build.
func (c *Client) GetStatus(ctx context.Context, externalID string) (*model.BuildStatus, error) {
	start := time.Now()
	n, err := buildNumber(OpGetStatus, externalID)
	if err != nil {
		return nil, c.fail(ctx, OpGetStatus, err, start)
	}

	var info buildInfo
	endpoint := c.jobURL() + "/" + n + "/api/json?tree=id,result,building,timestamp,url"
	if err := c.getJSON(ctx, OpGetStatus, endpoint, &info); err != nil {
		return nil, c.fail(ctx, OpGetStatus, err, start)
	}
	c.record(OpGetStatus, nil, start)

	result := ""
	if info.Result != nil {
		result = *info.Result
	}
	status := &model.BuildStatus{
		ExternalID:   info.ID,
		Status:       model.NormalizeRunnerStatus(info.Building, result),
		ResultDetail: result,
		URL:          info.URL,
	}
	if status.ExternalID == "" {
		status.ExternalID = n
	}
	if info.Timestamp > 0 {
		status.Timestamp = time.UnixMilli(info.Timestamp).UTC()
	}
	return status, nil
}

// GetLog returns the console text of a build, truncated to the configured cap.
func (c *Client) GetLog(ctx context.Context, externalID string) (string, error) {
	start := time.Now()
	n, err := buildNumber(OpGetLog, externalID)
	if err != nil {
		return "", c.fail(ctx, OpGetLog, err, start)
	}

	body, err := c.do(ctx, OpGetLog, http.MethodGet, c.jobURL()+"/"+n+"/consoleText", c.maxLogBytes+1)
	if err != nil {
		return "", c.fail(ctx, OpGetLog, err, start)
	}
	c.record(OpGetLog, nil, start)

	if int64(len(body)) > c.maxLogBytes {
		c.logger.WarnContext(ctx, "console log truncated", "build", n, "max_bytes", c.maxLogBytes)
		return string(body[:c.maxLogBytes]) + truncatedMarker, nil
	}
	return string(body), nil
}

// IsRunning reports whether the build is still executing. Any error reports false.
func (c *Client) IsRunning(ctx context.Context, externalID string) bool {
	st, err := c.GetStatus(ctx, externalID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to check build status", "build", externalID, "err", err)
		return false
	}
	return st.Status == model.RunnerStatusInProgress
}

func (c *Client) jobURL() string {
	return c.baseURL + "/job/" + url.PathEscape(c.jobName)
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, dst any) error {
	body, err := c.do(ctx, op, http.MethodGet, endpoint, 1<<20)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &model.RunnerError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do performs one request and returns at most limit bytes of a 2xx body.
func (c *Client) do(ctx context.Context, op, method, endpoint string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, &model.RunnerError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.RunnerError{Op: op, Retryable: isDialError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &model.RunnerError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &model.RunnerError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, nil
}

func (c *Client) fail(ctx context.Context, op string, err error, start time.Time) error {
	c.record(op, err, start)
	c.logger.ErrorContext(ctx, "jenkins request failed", "op", op, "err", err)
	return apperrors.RunnerUnavailable(err, op)
}

func (c *Client) record(op string, err error, start time.Time) {
	m := metrics.RunnerMetric{Op: op, Result: metrics.ResultSuccess}
	if err != nil {
		m.Result = metrics.ResultError
		m.Err = err
	}
	if !start.IsZero() {
		m.Duration = time.Since(start)
	}
	metrics.EmitRunnerCall(c.metrics, m)
}

// EncodeParameters renders params as a query string: keys sorted, keys and values
// percent-encoded with %20 for spaces, non-scalar values JSON-encoded.
func EncodeParameters(params map[string]any) (string, error) {
	keys := sortedKeys(params)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := stringifyParam(params[k])
		if err != nil {
			return "", fmt.Errorf("encode parameter %q: %w", k, err)
		}
		pairs = append(pairs, escapeComponent(k)+"="+escapeComponent(v))
	}
	return strings.Join(pairs, "&"), nil
}

func stringifyParam(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(t), nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

func escapeComponent(s string) string {
	// QueryEscape encodes a literal '+' as %2B, so the only '+' left are spaces.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildNumber(op, externalID string) (string, error) {
	id := strings.TrimSpace(externalID)
	if n, err := strconv.ParseUint(id, 10, 64); err != nil || n == 0 {
		return "", &model.RunnerError{Op: op, Err: fmt.Errorf("%w: %q", errInvalidBuildNumber, externalID)}
	}
	return id, nil
}

// isDialError reports failures where the request never reached Jenkins.
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
