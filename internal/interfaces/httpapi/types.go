package httpapi

// 价格以十进制字符串传输，避免 JSON 数字丢失 uint64 精度

type PriceResponse struct {
	Price        string `json:"price"`
	Formatted    string `json:"formatted"`
	RecordedAt   int64  `json:"recorded_at"`
	HeartbeatSec uint64 `json:"heartbeat_sec"`
}

type EntryResponse struct {
	Index      uint64 `json:"index"`
	Price      string `json:"price"`
	Formatted  string `json:"formatted"`
	RecordedAt int64  `json:"recorded_at"`
}

type RangeResponse struct {
	Start   uint64          `json:"start"`
	End     uint64          `json:"end"`
	Entries []EntryResponse `json:"entries"`
}

type LengthResponse struct {
	Length uint64 `json:"length"`
}

type HeartbeatResponse struct {
	HeartbeatSec uint64 `json:"heartbeat_sec"`
}

type StatusResponse struct {
	Length       uint64         `json:"length"`
	HeartbeatSec uint64         `json:"heartbeat_sec"`
	Latest       *EntryResponse `json:"latest,omitempty"`
	AgeSec       int64          `json:"age_sec"`
	Stale        bool           `json:"stale"`
}

type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

type MembersResponse struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}
