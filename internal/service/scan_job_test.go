package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/data"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/mocks"
	"github.com/target/mmk-scan-api/internal/testutil"
	"go.uber.org/mock/gomock"
)

// memoryCache is a map-backed core.CacheRepository that ignores TTLs.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache { return &memoryCache{data: map[string][]byte{}} }

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok, nil
}

func (c *memoryCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (c *memoryCache) Health(context.Context) error { return nil }

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type scanJobHarness struct {
	svc    *ScanJobService
	store  *data.MemoryScanJobStore
	runner *mocks.MockRunner
	clock  *data.FixedTimeProvider
}

func newScanJobHarness(t *testing.T, cache core.CacheRepository) *scanJobHarness {
	t.Helper()
	ctrl := gomock.NewController(t)
	clock := data.NewFixedTimeProvider(testutil.TestTime())
	store := data.NewMemoryScanJobStore(clock)
	runner := mocks.NewMockRunner(ctrl)

	reconciler, err := NewReconciler(ReconcilerOptions{Repo: store, Runner: runner, Clock: clock.Now})
	require.NoError(t, err)

	var cacheSvc *core.ScanJobCacheService
	if cache != nil {
		cacheSvc = core.NewScanJobCacheService(cache, core.DefaultScanJobCacheConfig())
	}
	svc := MustNewScanJobService(ScanJobServiceOptions{
		Repo:       store,
		Runner:     runner,
		Reconciler: reconciler,
		Cache:      cacheSvc,
		Retry: &TriggerRetryPolicy{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
		Clock: clock.Now,
	})
	return &scanJobHarness{svc: svc, store: store, runner: runner, clock: clock}
}

func (h *scanJobHarness) allJobs(t *testing.T) []*model.ScanJob {
	t.Helper()
	jobs, err := h.store.List(context.Background(), model.ScanJobListOptions{Limit: 1000})
	require.NoError(t, err)
	return jobs
}

func sastRequest() model.TriggerScanRequest {
	return model.TriggerScanRequest{
		ScanKind:   model.ScanKindSAST,
		Parameters: map[string]any{"repo": "x"},
	}
}

func buildRef(n string) *model.BuildRef {
	return &model.BuildRef{
		ExternalID: n,
		Status:     model.RunnerStatusInProgress,
		URL:        "http://jenkins/job/scan-pipeline/" + n,
	}
}

func retryableErr() error {
	return apperrors.RunnerUnavailable(&model.RunnerError{Op: "trigger", StatusCode: 503, Retryable: true}, "trigger")
}

func TestNewScanJobService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockScanJobRepository(ctrl)
	runner := mocks.NewMockRunner(ctrl)

	_, err := NewScanJobService(ScanJobServiceOptions{Runner: runner})
	require.Error(t, err)
	_, err = NewScanJobService(ScanJobServiceOptions{Repo: repo})
	require.Error(t, err)
	_, err = NewScanJobService(ScanJobServiceOptions{Repo: repo, Runner: runner})
	require.Error(t, err)
}

func TestScanJobService_SASTScenario(t *testing.T) {
	h := newScanJobHarness(t, nil)
	ctx := context.Background()

	h.runner.EXPECT().Trigger(gomock.Any(), map[string]any{"repo": "x"}).
		DoAndReturn(func(context.Context, map[string]any) (*model.BuildRef, error) {
			jobs := h.allJobs(t)
			require.Len(t, jobs, 1)
			assert.Equal(t, model.ScanStatusPending, jobs[0].Status)
			assert.False(t, jobs[0].HasExternalID())
			return buildRef("123"), nil
		})

	res, err := h.svc.TriggerScan(ctx, sastRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, "123", res.ExternalID)
	assert.Equal(t, model.ScanStatusRunning, res.Status)
	assert.Equal(t, model.ScanKindSAST, res.ScanKind)
	assert.Equal(t, "http://jenkins/job/scan-pipeline/123", res.URL)

	stored, err := h.store.GetByID(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusRunning, stored.Status)
	assert.Equal(t, "123", stored.ExternalIDValue())

	h.clock.AddTime(time.Minute)
	require.NoError(t, h.svc.HandleCallback(ctx, model.CallbackRequest{
		ExternalID: "123",
		Status:     model.ScanStatusCompleted,
		ReportURL:  "http://r/1",
	}))

	got, err := h.svc.GetStatus(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusCompleted, got.Status)
	require.NotNil(t, got.ReportURL)
	assert.Equal(t, "http://r/1", *got.ReportURL)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Summary)
}

func TestScanJobService_TriggerRejectsInvalidKind(t *testing.T) {
	h := newScanJobHarness(t, nil)

	for _, kind := range []model.ScanKind{"", "IAST", "sast"} {
		_, err := h.svc.TriggerScan(context.Background(), model.TriggerScanRequest{
			ScanKind:   kind,
			Parameters: map[string]any{"repo": "x"},
		})
		require.Error(t, err, "kind %q", kind)
		assert.True(t, apperrors.IsValidation(err))
		assert.Equal(t, "scanKind", apperrors.GetField(err))
	}
	assert.Empty(t, h.allJobs(t))
}

func TestScanJobService_TriggerRunnerFailureLeavesPending(t *testing.T) {
	h := newScanJobHarness(t, nil)
	permanent := apperrors.RunnerUnavailable(&model.RunnerError{Op: "trigger", StatusCode: 500}, "trigger")

	h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(nil, permanent).Times(1)

	_, err := h.svc.TriggerScan(context.Background(), sastRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsRunnerUnavailable(err))

	jobs := h.allJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ScanStatusPending, jobs[0].Status)
	assert.False(t, jobs[0].HasExternalID())
}

func TestScanJobService_TriggerRetriesRetryableErrors(t *testing.T) {
	t.Run("succeeds after retry", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		gomock.InOrder(
			h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(nil, retryableErr()),
			h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("9"), nil),
		)

		res, err := h.svc.TriggerScan(context.Background(), sastRequest())
		require.NoError(t, err)
		assert.Equal(t, "9", res.ExternalID)
		assert.Len(t, h.allJobs(t), 1)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(nil, retryableErr()).Times(3)

		_, err := h.svc.TriggerScan(context.Background(), sastRequest())
		require.Error(t, err)
		assert.True(t, apperrors.IsRunnerUnavailable(err))
	})
}

func TestScanJobService_TriggerIdempotency(t *testing.T) {
	t.Run("replay returns the first result", func(t *testing.T) {
		cache := newMemoryCache()
		h := newScanJobHarness(t, cache)
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("10"), nil).Times(1)

		req := sastRequest()
		req.IdempotencyKey = "abc"
		first, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)
		second, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Len(t, h.allJobs(t), 1)
	})

	t.Run("key released after runner failure", func(t *testing.T) {
		cache := newMemoryCache()
		h := newScanJobHarness(t, cache)
		permanent := apperrors.RunnerUnavailable(&model.RunnerError{Op: "trigger", StatusCode: 403}, "trigger")
		gomock.InOrder(
			h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(nil, permanent),
			h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("11"), nil),
		)

		req := sastRequest()
		req.IdempotencyKey = "retry-me"
		_, err := h.svc.TriggerScan(context.Background(), req)
		require.Error(t, err)
		assert.False(t, cache.has("scanjob:idem:retry-me"))

		res, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "11", res.ExternalID)
	})

	t.Run("key bound to a pending job conflicts", func(t *testing.T) {
		tests := []struct {
			name    string
			age     time.Duration
			wantMsg string
		}{
			{name: "still starting", age: 10 * time.Second, wantMsg: "still starting"},
			{name: "stuck after the start window", age: time.Hour, wantMsg: "needs operator reconciliation"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cache := newMemoryCache()
				h := newScanJobHarness(t, cache)
				pending, err := h.store.Create(context.Background(), testutil.NewScanJob().Build())
				require.NoError(t, err)
				require.NoError(t, cache.Set(context.Background(), "scanjob:idem:busy", []byte(pending.ID), 0))

				h.clock.AddTime(tt.age)

				req := sastRequest()
				req.IdempotencyKey = "busy"
				_, err = h.svc.TriggerScan(context.Background(), req)
				require.Error(t, err)
				assert.True(t, apperrors.IsConflict(err))
				assert.Contains(t, err.Error(), tt.wantMsg)
				assert.True(t, cache.has("scanjob:idem:busy"), "the key stays bound")
			})
		}
	})

	t.Run("key bound to a vanished job is reclaimed", func(t *testing.T) {
		cache := newMemoryCache()
		h := newScanJobHarness(t, cache)
		require.NoError(t, cache.Set(context.Background(), "scanjob:idem:stale", []byte("gone"), 0))
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("12"), nil)

		req := sastRequest()
		req.IdempotencyKey = "stale"
		res, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)

		bound, err := cache.Get(context.Background(), "scanjob:idem:stale")
		require.NoError(t, err)
		assert.Equal(t, res.JobID, string(bound))
	})

	t.Run("ignored without cache", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("13"), nil)
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("14"), nil)

		req := sastRequest()
		req.IdempotencyKey = "abc"
		_, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)
		_, err = h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)
		assert.Len(t, h.allJobs(t), 2)
	})

	t.Run("cache failure fails open", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		cache := mocks.NewMockCacheRepository(ctrl)
		cache.EXPECT().SetIfNotExists(gomock.Any(), "scanjob:idem:abc", gomock.Any(), gomock.Any()).
			Return(false, errors.New("redis down"))
		h := newScanJobHarness(t, cache)
		h.runner.EXPECT().Trigger(gomock.Any(), gomock.Any()).Return(buildRef("15"), nil)

		req := sastRequest()
		req.IdempotencyKey = "abc"
		res, err := h.svc.TriggerScan(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "15", res.ExternalID)
	})
}

func TestScanJobService_HandleCallback(t *testing.T) {
	h := newScanJobHarness(t, nil)
	ctx := context.Background()

	err := h.svc.HandleCallback(ctx, model.CallbackRequest{ExternalID: "1", Status: model.ScanStatusRunning})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	err = h.svc.HandleCallback(ctx, model.CallbackRequest{Status: model.ScanStatusCompleted})
	assert.True(t, apperrors.IsValidation(err))

	err = h.svc.HandleCallback(ctx, model.CallbackRequest{ExternalID: "404", Status: model.ScanStatusCompleted})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, h.allJobs(t))
}

func TestScanJobService_CallbackMergesMetadataAndWins(t *testing.T) {
	h := newScanJobHarness(t, nil)
	ctx := context.Background()
	job, err := h.store.Create(ctx, testutil.NewScanJob().Running("5").WithMetadata(`{"team":"red","n":1}`).Build())
	require.NoError(t, err)

	require.NoError(t, h.svc.HandleCallback(ctx, model.CallbackRequest{
		ExternalID: "5",
		Status:     model.ScanStatusCompleted,
		Summary:    "clean",
		Metadata:   map[string]any{"n": 2},
	}))
	require.NoError(t, h.svc.HandleCallback(ctx, model.CallbackRequest{
		ExternalID: "5",
		Status:     model.ScanStatusFailed,
	}))

	got, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusFailed, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "clean", *got.Summary)
	meta, err := got.MetadataMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"team": "red", "n": float64(2)}, meta)
}

func TestScanJobService_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		_, err := h.svc.GetStatus(ctx, "nope")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		_, err = h.svc.GetStatus(ctx, " ")
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("poll completes then is a no-op", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("21").Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetStatus(gomock.Any(), "21").
			Return(&model.BuildStatus{ExternalID: "21", Status: model.RunnerStatusSuccess}, nil).Times(1)

		first, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusCompleted, first.Status)
		require.NotNil(t, first.CompletedAt)

		h.clock.AddTime(time.Hour)
		second, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusCompleted, second.Status)
		assert.Equal(t, *first.CompletedAt, *second.CompletedAt)
		assert.Equal(t, first.Revision, second.Revision)
	})

	t.Run("runner error returns stored running record", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("22").Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetStatus(gomock.Any(), "22").Return(nil, retryableErr())

		got, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusRunning, got.Status)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("pending without external id is not polled", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Build())
		require.NoError(t, err)

		got, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusPending, got.Status)
	})

	t.Run("callback after poll overrides", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("23").Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetStatus(gomock.Any(), "23").
			Return(&model.BuildStatus{Status: model.RunnerStatusFailure}, nil)

		polled, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusFailed, polled.Status)

		require.NoError(t, h.svc.HandleCallback(ctx, model.CallbackRequest{
			ExternalID: "23",
			Status:     model.ScanStatusCompleted,
			ReportURL:  "http://r/23",
		}))
		got, err := h.svc.GetStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusCompleted, got.Status)
	})
}

func TestScanJobService_ListScans(t *testing.T) {
	h := newScanJobHarness(t, nil)
	ctx := context.Background()

	for i, b := range []*testutil.ScanJobBuilder{
		testutil.NewScanJob().WithMetadata(`{"team":"red"}`),
		testutil.NewScanJob().WithKind(model.ScanKindDAST).Running("2").WithMetadata(`{"team":"blue"}`),
		testutil.NewScanJob().Running("3").Completed().WithMetadata(`{"team":"red","tags":["pci"]}`),
	} {
		h.clock.SetTime(testutil.TestTime().Add(time.Duration(i) * time.Minute))
		_, err := h.store.Create(ctx, b.Build())
		require.NoError(t, err)
	}

	page, err := h.svc.ListScans(ctx, ListScansOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, page.Limit)
	require.Len(t, page.Jobs, 3)
	assert.Equal(t, "3", page.Jobs[0].ExternalIDValue())

	page, err = h.svc.ListScans(ctx, ListScansOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, "2", page.Jobs[0].ExternalIDValue())

	dast := model.ScanKindDAST
	page, err = h.svc.ListScans(ctx, ListScansOptions{ScanKind: &dast})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)

	page, err = h.svc.ListScans(ctx, ListScansOptions{Where: "metadata.team == 'red'"})
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 2)

	page, err = h.svc.ListScans(ctx, ListScansOptions{Where: "metadata.tags"})
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 1)

	page, err = h.svc.ListScans(ctx, ListScansOptions{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, page.Limit)

	running := model.ScanStatusRunning
	page, err = h.svc.ListScans(ctx, ListScansOptions{Status: &running, Where: "scanKind == 'SAST'"})
	require.NoError(t, err)
	assert.Empty(t, page.Jobs)
	assert.NotNil(t, page.Jobs)
}

func TestScanJobService_ListScansValidation(t *testing.T) {
	h := newScanJobHarness(t, nil)
	bogus := model.ScanStatus("queued")

	tests := []struct {
		name  string
		opts  ListScansOptions
		field string
	}{
		{name: "negative offset", opts: ListScansOptions{Offset: -1}, field: "offset"},
		{name: "negative limit", opts: ListScansOptions{Limit: -5}, field: "limit"},
		{name: "bad status", opts: ListScansOptions{Status: &bogus}, field: "status"},
		{name: "bad expression", opts: ListScansOptions{Where: "metadata.[["}, field: "where"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.ListScans(context.Background(), tt.opts)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
		})
	}
}

func TestScanJobService_GetLog(t *testing.T) {
	ctx := context.Background()

	t.Run("no runner build", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Build())
		require.NoError(t, err)

		_, err = h.svc.GetLog(ctx, job.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("running jobs are not cached", func(t *testing.T) {
		cache := newMemoryCache()
		h := newScanJobHarness(t, cache)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("31").Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetLog(gomock.Any(), "31").Return("partial", nil).Times(2)

		for range 2 {
			log, err := h.svc.GetLog(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, "partial", log)
		}
		assert.False(t, cache.has("scanjob:log:"+job.ID))
	})

	t.Run("terminal jobs are cached", func(t *testing.T) {
		cache := newMemoryCache()
		h := newScanJobHarness(t, cache)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("32").Completed().Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetLog(gomock.Any(), "32").Return("done\n", nil).Times(1)

		for range 2 {
			log, err := h.svc.GetLog(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, "done\n", log)
		}
	})

	t.Run("runner error", func(t *testing.T) {
		h := newScanJobHarness(t, nil)
		job, err := h.store.Create(ctx, testutil.NewScanJob().Running("33").Build())
		require.NoError(t, err)
		h.runner.EXPECT().GetLog(gomock.Any(), "33").Return("", retryableErr())

		_, err = h.svc.GetLog(ctx, job.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsRunnerUnavailable(err))
	})
}
