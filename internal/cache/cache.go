package cache

import (
	"context"
	"time"

	"martpos/backend/internal/domain"
)

type StockReportCache interface {
	Get(ctx context.Context, key string) (*domain.StockReport, bool, error)
	Set(ctx context.Context, key string, value *domain.StockReport, ttl time.Duration) error
}

type NoopStockReportCache struct{}

func (NoopStockReportCache) Get(_ context.Context, _ string) (*domain.StockReport, bool, error) {
	return nil, false, nil
}

func (NoopStockReportCache) Set(_ context.Context, _ string, _ *domain.StockReport, _ time.Duration) error {
	return nil
}
