package workflowtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// FakeJenkins is an in-process double of the Jenkins endpoints the runner client uses:
// buildWithParameters, job api/json (nextBuildNumber), build api/json and consoleText.
//
// A triggered build waits in the queue and does not advance nextBuildNumber until the
// following trigger, so the number read right after a trigger is the queued build's.
type FakeJenkins struct {
	JobName string
	Server  *httptest.Server

	mu              sync.Mutex
	next            int64
	queued          bool
	builds          map[int64]*FakeBuild
	triggerFailures int
	statusFailures  int
	jobInfoFailures int
}

// FakeBuild is one build known to FakeJenkins.
type FakeBuild struct {
	Number    int64
	Params    url.Values
	Result    string // empty while building
	Log       string
	StartedAt time.Time
}

// NewFakeJenkins starts a fake Jenkins serving jobName. Call Close when done.
func NewFakeJenkins(jobName string) *FakeJenkins {
	f := &FakeJenkins{
		JobName: jobName,
		next:    1,
		builds:  make(map[int64]*FakeBuild),
	}
	mux := http.NewServeMux()
	prefix := "/job/" + jobName
	mux.HandleFunc("POST "+prefix+"/buildWithParameters", f.handleTrigger)
	mux.HandleFunc("GET "+prefix+"/api/json", f.handleJobInfo)
	mux.HandleFunc("GET "+prefix+"/{n}/api/json", f.handleBuildInfo)
	mux.HandleFunc("GET "+prefix+"/{n}/consoleText", f.handleConsole)
	f.Server = httptest.NewServer(mux)
	return f
}

// URL returns the Jenkins base URL.
func (f *FakeJenkins) URL() string { return f.Server.URL }

// Close shuts the server down.
func (f *FakeJenkins) Close() { f.Server.Close() }

// FailNextTriggers makes the next n triggers answer 503.
func (f *FakeJenkins) FailNextTriggers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerFailures = n
}

// FailNextJobInfo makes the next n nextBuildNumber reads answer 503.
func (f *FakeJenkins) FailNextJobInfo(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobInfoFailures = n
}

// FailNextStatusChecks makes the next n build status reads answer 500.
func (f *FakeJenkins) FailNextStatusChecks(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFailures = n
}

// Finish records the result (SUCCESS, FAILURE, ABORTED, ...) and console log of a build.
func (f *FakeJenkins) Finish(number int64, result, log string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[number]
	if !ok {
		panic(fmt.Sprintf("fake jenkins: unknown build %d", number))
	}
	b.Result = result
	b.Log = log
	if f.queued && number == f.next {
		f.next++
		f.queued = false
	}
}

// Build returns a copy of a build, or nil.
func (f *FakeJenkins) Build(number int64) *FakeBuild {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[number]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// BuildCount returns how many builds were triggered.
func (f *FakeJenkins) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds)
}

func (f *FakeJenkins) handleTrigger(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.triggerFailures > 0 {
		f.triggerFailures--
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if f.queued {
		f.next++
	}
	f.builds[f.next] = &FakeBuild{
		Number:    f.next,
		Params:    r.URL.Query(),
		StartedAt: time.Now().UTC(),
	}
	f.queued = true
	w.WriteHeader(http.StatusCreated)
}

func (f *FakeJenkins) handleJobInfo(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	if f.jobInfoFailures > 0 {
		f.jobInfoFailures--
		f.mu.Unlock()
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	next := f.next
	f.mu.Unlock()
	writeJSON(w, map[string]any{"nextBuildNumber": next})
}

func (f *FakeJenkins) handleBuildInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.statusFailures > 0 {
		f.statusFailures--
		f.mu.Unlock()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	b := f.lookup(r.PathValue("n"))
	f.mu.Unlock()
	if b == nil {
		http.NotFound(w, r)
		return
	}

	var result any
	if b.Result != "" {
		result = b.Result
	}
	writeJSON(w, map[string]any{
		"id":        strconv.FormatInt(b.Number, 10),
		"result":    result,
		"building":  b.Result == "",
		"timestamp": b.StartedAt.UnixMilli(),
		"url":       f.Server.URL + "/job/" + f.JobName + "/" + strconv.FormatInt(b.Number, 10) + "/",
	})
}

func (f *FakeJenkins) handleConsole(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	b := f.lookup(r.PathValue("n"))
	f.mu.Unlock()
	if b == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(b.Log))
}

// lookup must be called with f.mu held; it returns a copy.
func (f *FakeJenkins) lookup(raw string) *FakeBuild {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	b, ok := f.builds[n]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
