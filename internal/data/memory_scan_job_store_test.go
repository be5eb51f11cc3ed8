package data

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/domain/model"
	"github.com/target/mmk-scan-api/internal/testutil"
)

func TestMemoryScanJobStore(t *testing.T) {
	runScanJobStoreContract(t, func(_ *testing.T, tp TimeProvider) core.ScanJobRepository {
		return NewMemoryScanJobStore(tp)
	})
}

func TestMemoryScanJobStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryScanJobStore(nil)
	ctx := context.Background()

	job, err := store.Create(ctx, testutil.NewScanJob().Build())
	require.NoError(t, err)

	job.Status = model.ScanStatusFailed
	job.Metadata[0] = 'x'

	got, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusPending, got.Status)
	assert.JSONEq(t, `{}`, string(got.Metadata))
}

func TestMemoryScanJobStore_RejectsTerminalWithoutCompletedAt(t *testing.T) {
	store := NewMemoryScanJobStore(nil)
	ctx := context.Background()

	job, err := store.Create(ctx, testutil.NewScanJob().Running("5").Build())
	require.NoError(t, err)

	failed := model.ScanStatusFailed
	_, err = store.Patch(ctx, job.ID, model.ScanJobPatch{Status: &failed})
	require.Error(t, err)
}

func TestMemoryScanJobStore_ConcurrentCompareAndSet(t *testing.T) {
	store := NewMemoryScanJobStore(nil)
	ctx := context.Background()

	job, err := store.Create(ctx, testutil.NewScanJob().Running("77").Build())
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary := "winner"
			if _, patchErr := store.Patch(ctx, job.ID, model.ScanJobPatch{
				Summary:          &summary,
				ExpectedRevision: &job.Revision,
			}); patchErr == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
}
