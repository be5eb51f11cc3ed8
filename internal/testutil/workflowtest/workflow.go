// Package workflowtest wires the whole scan API (HTTP router, services, store and a fake
// Jenkins) for end-to-end tests.
package workflowtest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-scan-api/internal/adapters/jenkins"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/data"
	"github.com/target/mmk-scan-api/internal/domain/model"
	httpx "github.com/target/mmk-scan-api/internal/http"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
	"github.com/target/mmk-scan-api/internal/service"
	"github.com/target/mmk-scan-api/internal/testutil"
)

// DefaultAPIKey is the key the harness client sends unless overridden.
const DefaultAPIKey = "workflow-test-key"

// WorkflowTestHarness runs the scan API against a fake Jenkins.
//
//nolint:revive // WorkflowTestHarness is intentionally verbose for clarity in test code.
type WorkflowTestHarness struct {
	t  testutil.TestingTB
	ts *httptest.Server

	Jenkins    *FakeJenkins
	Repo       core.ScanJobRepository
	Runner     *jenkins.Client
	Reconciler *service.Reconciler
	Scans      *service.ScanJobService
	Cache      *core.ScanJobCacheService
	Metrics    *statsd.Recorder

	RedisClient *redis.Client
}

// WorkflowTestOptions configures the workflow test harness.
//
//nolint:revive // WorkflowTestOptions is intentionally verbose for clarity in test code.
type WorkflowTestOptions struct {
	// DB backs the job store with Postgres; nil uses the in-memory store.
	DB *sql.DB
	// EnableRedis turns on idempotency keys and the console-log cache (skips when Redis is unavailable).
	EnableRedis bool
	// FailureNotifier receives failed-scan notifications. Optional.
	FailureNotifier core.FailureNotifier
	// TriggerRetries is the number of trigger retries after a retryable runner error.
	TriggerRetries int
	// RateLimit optionally limits requests per client.
	RateLimit httpx.RateLimitConfig
}

// NewWorkflowTestHarness creates a new workflow test harness with all components wired up.
func NewWorkflowTestHarness(t testutil.TestingTB, opts WorkflowTestOptions) *WorkflowTestHarness {
	t.Helper()

	h := &WorkflowTestHarness{
		t:       t,
		Jenkins: NewFakeJenkins("scan-pipeline"),
		Metrics: &statsd.Recorder{},
	}

	runner, err := jenkins.NewClient(jenkins.Config{
		BaseURL: h.Jenkins.URL(),
		User:    "admin",
		Token:   "token",
		JobName: h.Jenkins.JobName,
		Timeout: 5 * time.Second,
		Logger:  testutil.DiscardLogger(),
		Metrics: h.Metrics,
	})
	if err != nil {
		h.Jenkins.Close()
		t.Fatalf("create jenkins client: %v", err)
	}
	h.Runner = runner

	if opts.DB != nil {
		h.Repo = data.NewScanJobRepo(opts.DB, data.ScanJobRepoConfig{Logger: testutil.DiscardLogger()})
	} else {
		h.Repo = data.NewMemoryScanJobStore(nil)
	}

	if opts.EnableRedis {
		h.RedisClient = testutil.SetupTestRedis(t)
		h.Cache = core.NewScanJobCacheService(data.NewRedisCacheRepo(h.RedisClient), core.DefaultScanJobCacheConfig())
	}

	h.Reconciler, err = service.NewReconciler(service.ReconcilerOptions{
		Repo:            h.Repo,
		Runner:          h.Runner,
		Logger:          testutil.DiscardLogger(),
		Metrics:         h.Metrics,
		FailureNotifier: opts.FailureNotifier,
	})
	if err != nil {
		h.Close()
		t.Fatalf("create reconciler: %v", err)
	}

	h.Scans, err = service.NewScanJobService(service.ScanJobServiceOptions{
		Repo:       h.Repo,
		Runner:     h.Runner,
		Reconciler: h.Reconciler,
		Cache:      h.Cache,
		Retry: &service.TriggerRetryPolicy{
			MaxRetries:      opts.TriggerRetries,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		Logger: testutil.DiscardLogger(),
	})
	if err != nil {
		h.Close()
		t.Fatalf("create scan job service: %v", err)
	}

	h.ts = httptest.NewServer(httpx.NewRouter(httpx.RouterServices{
		Scans:     h.Scans,
		APIKey:    httpx.APIKeyConfig{Key: DefaultAPIKey},
		RateLimit: opts.RateLimit,
		Logger:    testutil.DiscardLogger(),
	}))

	return h
}

// Close stops the servers and waits for queued failure notifications.
func (h *WorkflowTestHarness) Close() {
	if h.ts != nil {
		h.ts.Close()
	}
	if h.Reconciler != nil {
		h.Reconciler.Wait()
	}
	if h.Jenkins != nil {
		h.Jenkins.Close()
	}
}

// BaseURL returns the scan API base URL.
func (h *WorkflowTestHarness) BaseURL() string {
	return h.ts.URL
}

// WithWorkflowHarness runs fn with a harness that is closed afterwards.
func WithWorkflowHarness(t testutil.TestingTB, opts WorkflowTestOptions, fn func(*WorkflowTestHarness)) {
	t.Helper()
	h := NewWorkflowTestHarness(t, opts)
	defer h.Close()
	fn(h)
}

// HTTPClient issues requests against the harness with the API key attached.
type HTTPClient struct {
	h      *WorkflowTestHarness
	client *http.Client
	APIKey string
}

// NewHTTPClient returns a client that authenticates with DefaultAPIKey.
func (h *WorkflowTestHarness) NewHTTPClient() *HTTPClient {
	return &HTTPClient{h: h, client: h.ts.Client(), APIKey: DefaultAPIKey}
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v, failing the test on error.
func (r *Response) Decode(t testutil.TestingTB, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("decode response %q: %v", string(r.Body), err)
	}
}

// Do sends a request with an optional JSON payload and extra headers.
func (c *HTTPClient) Do(method, path string, payload any, headers map[string]string) *Response {
	c.h.t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.h.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.h.BaseURL()+path, body)
	if err != nil {
		c.h.t.Fatalf("create request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set(httpx.DefaultAPIKeyHeader, c.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.h.t.Fatalf("read response: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
}

// TriggerScan posts a trigger and requires 201.
func (c *HTTPClient) TriggerScan(kind model.ScanKind, params map[string]any) model.TriggerResult {
	c.h.t.Helper()
	resp := c.Do(http.MethodPost, "/scan/trigger", map[string]any{
		"scanKind":   kind,
		"parameters": params,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.h.t.Fatalf("trigger: expected 201, got %d: %s", resp.StatusCode, string(resp.Body))
	}
	var res model.TriggerResult
	resp.Decode(c.h.t, &res)
	return res
}

// Callback posts a runner callback and requires 200.
func (c *HTTPClient) Callback(req model.CallbackRequest) {
	c.h.t.Helper()
	resp := c.Do(http.MethodPost, "/scan/callback", req, nil)
	if resp.StatusCode != http.StatusOK {
		c.h.t.Fatalf("callback: expected 200, got %d: %s", resp.StatusCode, string(resp.Body))
	}
}

// Status fetches a job through GET /scan/status/{id} and requires 200.
func (c *HTTPClient) Status(id string) model.ScanJob {
	c.h.t.Helper()
	resp := c.Do(http.MethodGet, "/scan/status/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		c.h.t.Fatalf("status: expected 200, got %d: %s", resp.StatusCode, string(resp.Body))
	}
	var job model.ScanJob
	resp.Decode(c.h.t, &job)
	return job
}
