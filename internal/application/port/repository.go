package port

import (
	"context"

	"xoracle/internal/domain/model"
)

// HistoryStore 价格历史的持久化端口（只追加）
type HistoryStore interface {
	// Append persists e at position index. beforeCommit runs inside the same
	// transaction; if it returns an error nothing is persisted.
	Append(ctx context.Context, index uint64, e model.PriceEntry, beforeCommit func(context.Context) error) error

	// Load returns the full history in index order.
	Load(ctx context.Context) ([]model.PriceEntry, error)

	// Range returns entries [start, end) in index order.
	Range(ctx context.Context, start, end uint64) ([]model.PriceEntry, error)

	SaveHeartbeat(ctx context.Context, seconds uint64) error

	// LoadHeartbeat reports ok=false when no heartbeat has been persisted.
	LoadHeartbeat(ctx context.Context) (seconds uint64, ok bool, err error)

	Close() error
}
