package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/target/mmk-scan-api/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.ScanFailurePayload{
		JobID:      "job-123",
		ExternalID: "42",
		ScanKind:   "SAST",
		RunnerURL:  "http://jenkins/job/scan-pipeline/42",
		Summary:    "3 <critical> findings",
		Source:     notify.SourceCallback,
		Metadata:   map[string]string{"team": "payments"},
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#alerts" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	for _, want := range []string{
		"Scan failed",
		"SAST",
		"job-123",
		"<http://jenkins/job/scan-pipeline/42|42>",
		"3 &lt;critical&gt; findings",
		"callback",
		"team: payments",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message text missing %q: %s", want, text)
		}
	}
}

func TestFormatLink(t *testing.T) {
	tcs := []struct {
		url, label, want string
	}{
		{"http://r/1", "1", "<http://r/1|1>"},
		{"http://r/1", "", "<http://r/1>"},
		{"", "7", "7"},
		{"", "", ""},
	}
	for _, tc := range tcs {
		if got := formatLink(tc.url, tc.label); got != tc.want {
			t.Fatalf("formatLink(%q,%q) = %q, want %q", tc.url, tc.label, got, tc.want)
		}
	}
}

func TestSendScanFailureRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendScanFailure(context.Background(), notify.ScanFailurePayload{JobID: "j"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
