package reporting

import (
	"context"
	"fmt"
	"time"

	"martpos/backend/internal/cache"
	"martpos/backend/internal/domain"
	"martpos/backend/internal/store"
)

const defaultWindowDays = 7

// Engine builds the stock health report: products at or below their
// minimum stock threshold and lots expiring within the window. Results
// are cached because the back office polls this view.
type Engine struct {
	repo     store.Repository
	cache    cache.StockReportCache
	cacheTTL time.Duration
}

func NewEngine(repo store.Repository, cacheStore cache.StockReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopStockReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

func (e *Engine) StockReport(ctx context.Context, windowDays int) (domain.StockReport, error) {
	if windowDays < 1 {
		windowDays = defaultWindowDays
	}

	cacheKey := buildCacheKey(windowDays)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	lowStock, err := e.repo.LowStockProducts(ctx)
	if err != nil {
		return domain.StockReport{}, err
	}

	cutoff := time.Now().UTC().Add(time.Duration(windowDays) * 24 * time.Hour)
	expiring, err := e.repo.ExpiringLots(ctx, cutoff)
	if err != nil {
		return domain.StockReport{}, err
	}

	report := domain.StockReport{
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		WindowDays:   windowDays,
		LowStock:     lowStock,
		ExpiringLots: expiring,
	}
	_ = e.cache.Set(ctx, cacheKey, &report, e.cacheTTL)
	return report, nil
}

func buildCacheKey(windowDays int) string {
	return fmt.Sprintf("pos:stock-report:%d", windowDays)
}
