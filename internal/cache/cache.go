package cache

import (
	"context"
	"time"

	"elektromart/backend/internal/domain"
)

// ReportCache holds the derived restock report between stock commits.
//
// Every invalidation bumps a generation. A report built from a read taken at
// generation g is only stored while the generation is still g, so a commit
// that lands mid-build cannot leave a stale report behind.
type ReportCache interface {
	GetRestockReport(ctx context.Context) (*domain.RestockReport, bool, error)
	RestockGeneration(ctx context.Context) (int64, error)
	// SetRestockReport reports whether the report was stored.
	SetRestockReport(ctx context.Context, report *domain.RestockReport, generation int64, ttl time.Duration) (bool, error)
	InvalidateRestockReport(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetRestockReport(_ context.Context) (*domain.RestockReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) RestockGeneration(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) SetRestockReport(_ context.Context, _ *domain.RestockReport, _ int64, _ time.Duration) (bool, error) {
	return false, nil
}

func (NoopReportCache) InvalidateRestockReport(_ context.Context) error {
	return nil
}
