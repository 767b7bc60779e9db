package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHeartbeat 最新价格的默认最大存活时长
const DefaultHeartbeat = 60 * time.Minute

// DefaultHeartbeatSec is DefaultHeartbeat in whole seconds.
const DefaultHeartbeatSec = uint64(DefaultHeartbeat / time.Second)

// DefaultPriceDecimals 定点美元价格的默认小数位
const DefaultPriceDecimals = 8

// PriceEntry 单条价格记录，写入后不可变
type PriceEntry struct {
	Price      uint64 `json:"price"`       // 定点美元价格
	RecordedAt int64  `json:"recorded_at"` // unix 秒
}

// Time returns RecordedAt as a time.Time.
func (e PriceEntry) Time() time.Time {
	return time.Unix(e.RecordedAt, 0).UTC()
}

// AgeAt returns how many whole seconds old the entry is at now.
func (e PriceEntry) AgeAt(now time.Time) int64 {
	return now.Unix() - e.RecordedAt
}

// StaleAt reports whether the entry is older than heartbeatSec at now.
// An age equal to the heartbeat is still fresh; an entry from the future never is stale.
func (e PriceEntry) StaleAt(now time.Time, heartbeatSec uint64) bool {
	age := e.AgeAt(now)
	if age <= 0 {
		return false
	}
	return uint64(age) > heartbeatSec
}

// FormatPrice renders a fixed-point price with the given number of decimals, e.g. 12345 with 2 -> "123.45".
func FormatPrice(price uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(price), -decimals)
	return d.StringFixed(decimals)
}
