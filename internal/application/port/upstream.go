package port

import (
	"context"

	"xoracle/internal/domain/model"
)

// Upstream 旧版预言机合约的调用端口；调用同步完成，失败必须中止外层写入
type Upstream interface {
	// UpdatePrice mirrors price to the legacy oracle and returns the value it reports back.
	UpdatePrice(ctx context.Context, price uint64) (uint64, error)
	TransferOwnership(ctx context.Context, newOwner model.Identity) error
}
