package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/testutil"
)

// storeFactory returns a fresh, empty repository driven by the given clock.
type storeFactory func(t *testing.T, tp TimeProvider) core.ScanJobRepository

// runScanJobStoreContract exercises behavior both ScanJobRepository implementations share.
func runScanJobStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("create assigns id and defaults", func(t *testing.T) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		store := newStore(t, clock)

		job, err := store.Create(context.Background(), &model.ScanJob{
			ScanKind:   model.ScanKindSAST,
			Parameters: json.RawMessage(`{"repo":"x"}`),
		})
		require.NoError(t, err)

		_, parseErr := uuid.Parse(job.ID)
		require.NoError(t, parseErr)
		assert.Equal(t, model.ScanStatusPending, job.Status)
		assert.Nil(t, job.ExternalID)
		assert.Nil(t, job.CompletedAt)
		assert.Equal(t, int64(0), job.Revision)
		assert.JSONEq(t, `{"repo":"x"}`, string(job.Parameters))
		assert.JSONEq(t, `{}`, string(job.Metadata))
		assert.True(t, job.CreatedAt.Equal(clock.Now()))
	})

	t.Run("create duplicate id conflicts", func(t *testing.T) {
		store := newStore(t, nil)
		fixture := testutil.NewScanJob().Build()

		_, err := store.Create(context.Background(), fixture)
		require.NoError(t, err)
		_, err = store.Create(context.Background(), fixture)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})

	t.Run("create rejects unknown scan kind", func(t *testing.T) {
		store := newStore(t, nil)
		_, err := store.Create(context.Background(), testutil.NewScanJob().WithKind("IAST").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		store := newStore(t, nil)
		_, err := store.GetByID(context.Background(), uuid.NewString())
		require.ErrorIs(t, err, ErrScanJobNotFound)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("patch transitions and stamps", func(t *testing.T) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		store := newStore(t, clock)
		ctx := context.Background()

		job, err := store.Create(ctx, testutil.NewScanJob().Build())
		require.NoError(t, err)

		clock.AddTime(time.Second)
		job, err = store.Patch(ctx, job.ID, model.ScanJobPatch{
			Status:           testutil.StatusPtr(model.ScanStatusRunning),
			ExternalID:       testutil.StringPtr("123"),
			RunnerURL:        testutil.StringPtr("http://jenkins.test/job/scan-pipeline/123"),
			ExpectedRevision: testutil.Int64Ptr(job.Revision),
		})
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusRunning, job.Status)
		assert.Equal(t, "123", job.ExternalIDValue())
		assert.Equal(t, int64(1), job.Revision)
		assert.True(t, job.UpdatedAt.Equal(clock.Now()))

		clock.AddTime(time.Minute)
		doneAt := clock.Now()
		job, err = store.Patch(ctx, job.ID, model.ScanJobPatch{
			Status:      testutil.StatusPtr(model.ScanStatusCompleted),
			ReportURL:   testutil.StringPtr("http://r/1"),
			CompletedAt: testutil.TimePtr(doneAt),
		})
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.True(t, job.CompletedAt.Equal(doneAt))
		assert.Equal(t, "http://r/1", *job.ReportURL)
		assert.Equal(t, int64(2), job.Revision)
	})

	t.Run("external id is write once", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		job, err := store.Create(ctx, testutil.NewScanJob().Running("7").Build())
		require.NoError(t, err)

		job, err = store.Patch(ctx, job.ID, model.ScanJobPatch{ExternalID: testutil.StringPtr("8")})
		require.NoError(t, err)
		assert.Equal(t, "7", job.ExternalIDValue())
	})

	t.Run("metadata is merged", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		job, err := store.Create(ctx, testutil.NewScanJob().WithMetadata(`{"team":"sec","attempt":1}`).Build())
		require.NoError(t, err)

		job, err = store.Patch(ctx, job.ID, model.ScanJobPatch{Metadata: map[string]any{"attempt": 2, "branch": "main"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"team":"sec","attempt":2,"branch":"main"}`, string(job.Metadata))
	})

	t.Run("stale revision conflicts and changes nothing", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		job, err := store.Create(ctx, testutil.NewScanJob().Running("9").Build())
		require.NoError(t, err)

		_, err = store.Patch(ctx, job.ID, model.ScanJobPatch{Summary: testutil.StringPtr("first")})
		require.NoError(t, err)

		_, err = store.Patch(ctx, job.ID, model.ScanJobPatch{
			Summary:          testutil.StringPtr("second"),
			ExpectedRevision: testutil.Int64Ptr(0),
		})
		require.ErrorIs(t, err, ErrRevisionConflict)

		got, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", *got.Summary)
		assert.Equal(t, int64(1), got.Revision)
	})

	t.Run("patch missing returns not found", func(t *testing.T) {
		store := newStore(t, nil)
		_, err := store.Patch(context.Background(), uuid.NewString(), model.ScanJobPatch{Summary: testutil.StringPtr("x")})
		require.ErrorIs(t, err, ErrScanJobNotFound)
		_, err = store.Patch(context.Background(), uuid.NewString(),
			model.ScanJobPatch{Summary: testutil.StringPtr("x"), ExpectedRevision: testutil.Int64Ptr(0)})
		require.ErrorIs(t, err, ErrScanJobNotFound)
	})

	t.Run("find by external id prefers active record", func(t *testing.T) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		store := newStore(t, clock)
		ctx := context.Background()

		old, err := store.Create(ctx, testutil.NewScanJob().Running("42").Failed().Build())
		require.NoError(t, err)
		clock.AddTime(time.Minute)
		active, err := store.Create(ctx, testutil.NewScanJob().Running("42").Build())
		require.NoError(t, err)

		got, err := store.FindByExternalID(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, active.ID, got.ID)
		assert.NotEqual(t, old.ID, got.ID)

		_, err = store.FindByExternalID(ctx, "43")
		require.ErrorIs(t, err, ErrScanJobNotFound)
	})

	t.Run("list filters and pages newest first", func(t *testing.T) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		store := newStore(t, clock)
		ctx := context.Background()

		var ids []string
		for _, kind := range []model.ScanKind{model.ScanKindSAST, model.ScanKindFOSS, model.ScanKindSAST} {
			clock.AddTime(time.Second)
			job, err := store.Create(ctx, testutil.NewScanJob().WithKind(kind).Build())
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}

		all, err := store.List(ctx, model.ScanJobListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		sast := model.ScanKindSAST
		filtered, err := store.List(ctx, model.ScanJobListOptions{ScanKind: &sast, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, ids[0], filtered[0].ID)

		running := model.ScanStatusRunning
		none, err := store.List(ctx, model.ScanJobListOptions{Status: &running})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		done, err := store.Create(ctx, testutil.NewScanJob().Running("1").Completed().Build())
		require.NoError(t, err)
		live, err := store.Create(ctx, testutil.NewScanJob().Running("2").Build())
		require.NoError(t, err)

		n, err := store.DeleteTerminalBefore(ctx, testutil.TestTime().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.GetByID(ctx, done.ID)
		require.ErrorIs(t, err, ErrScanJobNotFound)
		_, err = store.GetByID(ctx, live.ID)
		require.NoError(t, err)
	})
}
