package port

import "xoracle/internal/domain/model"

// LedgerMetrics 账本指标上报端口
type LedgerMetrics interface {
	// ObserveOp records the outcome of a ledger operation ("record_price", "get_price", ...).
	ObserveOp(op string, err error)
	// ObserveState is called after every committed mutation and on restore.
	ObserveState(length uint64, latest model.PriceEntry, heartbeatSec uint64)
	ObserveNotifyFailure()
}
