// Package mocks provides mock implementations of the core ports for testing the scan job services.
//
// This package uses go.uber.org/mock (gomock). The mocks are generated using go:generate directives.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockScanJobRepository(ctrl)
//	repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
package mocks

// Generate mock for ScanJobRepository interface from internal/core package.
// Create, GetByID, FindByExternalID, Patch, List, DeleteTerminalBefore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=scan_job_repository_mock.go github.com/target/mmk-scan-api/internal/core ScanJobRepository

// Generate mock for Runner interface from internal/core package.
// Trigger, GetStatus, GetLog, IsRunning
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=runner_mock.go github.com/target/mmk-scan-api/internal/core Runner

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/mmk-scan-api/internal/core CacheRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=failure_notifier_mock.go github.com/target/mmk-scan-api/internal/core FailureNotifier
