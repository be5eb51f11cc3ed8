package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-scan-api/internal/mocks"
	"go.uber.org/mock/gomock"
)

func TestScanJobCacheService_ReserveIdempotencyKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		key          string
		setup        func(*mocks.MockCacheRepository)
		wantExisting string
		wantReserved bool
		wantErr      bool
	}{
		{
			name:         "empty key is always reserved",
			key:          "  ",
			setup:        func(*mocks.MockCacheRepository) {},
			wantReserved: true,
		},
		{
			name: "fresh key reserved",
			key:  "abc",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "scanjob:idem:abc", []byte("job-1"), 24*time.Hour).
					Return(true, nil)
			},
			wantReserved: true,
		},
		{
			name: "existing key returns bound job",
			key:  "abc",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().SetIfNotExists(gomock.Any(), "scanjob:idem:abc", gomock.Any(), gomock.Any()).
					Return(false, nil)
				cache.EXPECT().Get(gomock.Any(), "scanjob:idem:abc").Return([]byte("job-0"), nil)
			},
			wantExisting: "job-0",
		},
		{
			name: "binding expired between calls",
			key:  "abc",
			setup: func(cache *mocks.MockCacheRepository) {
				gomock.InOrder(
					cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
						Return(false, nil),
					cache.EXPECT().Get(gomock.Any(), "scanjob:idem:abc").Return(nil, nil),
					cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
						Return(true, nil),
				)
			},
			wantReserved: true,
		},
		{
			name: "redis error",
			key:  "abc",
			setup: func(cache *mocks.MockCacheRepository) {
				cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(false, errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cache := mocks.NewMockCacheRepository(ctrl)
			tt.setup(cache)

			svc := NewScanJobCacheService(cache, ScanJobCacheConfig{})
			existing, reserved, err := svc.ReserveIdempotencyKey(context.Background(), tt.key, "job-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExisting, existing)
			assert.Equal(t, tt.wantReserved, reserved)
		})
	}
}

func TestScanJobCacheService_ConsoleLog(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := NewScanJobCacheService(cache, ScanJobCacheConfig{LogTTL: time.Minute})
	ctx := context.Background()

	cache.EXPECT().Set(gomock.Any(), "scanjob:log:job-1", []byte("line1\n"), time.Minute).Return(nil)
	cache.EXPECT().Get(gomock.Any(), "scanjob:log:job-1").Return([]byte("line1\n"), nil)

	require.NoError(t, svc.StoreConsoleLog(ctx, "job-1", "line1\n"))
	got, err := svc.CachedConsoleLog(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "line1\n", string(got))
}

func TestScanJobCacheService_NilIsDisabled(t *testing.T) {
	var svc *ScanJobCacheService
	ctx := context.Background()

	assert.False(t, svc.Enabled())
	_, reserved, err := svc.ReserveIdempotencyKey(ctx, "k", "job")
	require.NoError(t, err)
	assert.True(t, reserved)
	require.NoError(t, svc.ReleaseIdempotencyKey(ctx, "k"))
	require.NoError(t, svc.StoreConsoleLog(ctx, "job", "log"))
	got, err := svc.CachedConsoleLog(ctx, "job")
	require.NoError(t, err)
	assert.Nil(t, got)
}
