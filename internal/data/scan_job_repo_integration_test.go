package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/domain/model"
	"github.com/target/mmk-scan-api/internal/testutil"
)

func TestScanJobRepo_Integration(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	runScanJobStoreContract(t, func(t *testing.T, tp TimeProvider) core.ScanJobRepository {
		db := testutil.SetupAutoDB(t)
		t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
		return NewScanJobRepo(db, ScanJobRepoConfig{TimeProvider: tp})
	})
}

func TestScanJobRepo_Integration_InvalidIDIsNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScanJobRepo(db, ScanJobRepoConfig{})
		_, err := repo.GetByID(context.Background(), "not-a-uuid")
		require.ErrorIs(t, err, ErrScanJobNotFound)
	})
}

func TestScanJobRepo_Integration_CompletedAtConstraint(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScanJobRepo(db, ScanJobRepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewScanJob().Running("11").Build())
		require.NoError(t, err)

		completed := model.ScanStatusCompleted
		_, err = repo.Patch(ctx, job.ID, model.ScanJobPatch{Status: &completed})
		require.Error(t, err)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusRunning, got.Status)
		testutil.LogScanJobStates(t, db, "after rejected patch")
	})
}

func TestScanJobRepo_Integration_ConcurrentCompareAndSet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScanJobRepo(db, ScanJobRepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, testutil.NewScanJob().Running("12").Build())
		require.NoError(t, err)

		patch := func() error {
			s := "done"
			_, perr := repo.Patch(ctx, job.ID, model.ScanJobPatch{Summary: &s, ExpectedRevision: &job.Revision})
			return perr
		}
		errs := testutil.RunConcurrent(patch, patch, patch, patch)

		var ok, conflicts int
		for _, e := range errs {
			switch {
			case e == nil:
				ok++
			case errors.Is(e, ErrRevisionConflict):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 3, conflicts)
	})
}
