package port

import (
	"context"

	"xoracle/internal/domain/model"
)

// Notifier receives ledger events after they have been committed.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event) error
}

// LatestPriceCache 最新价格缓存（例如 redis hash）
type LatestPriceCache interface {
	UpsertLatestPrice(ctx context.Context, index uint64, e model.PriceEntry) error
}
