package model

import "time"

type EventType string

const (
	EventPriceUpdate  EventType = "price_update"
	EventSetHeartbeat EventType = "set_heartbeat"
)

// PriceUpdate is emitted after a price has been committed to the ledger.
type PriceUpdate struct {
	Index      uint64 `json:"index"`
	Price      uint64 `json:"price"`
	RecordedAt int64  `json:"recorded_at"`
}

// SetHeartbeat is emitted after the heartbeat has been replaced.
type SetHeartbeat struct {
	Seconds uint64 `json:"seconds"`
}

// Event 对外通知的统一信封
type Event struct {
	Type         EventType     `json:"type"`
	PriceUpdate  *PriceUpdate  `json:"price_update,omitempty"`
	SetHeartbeat *SetHeartbeat `json:"set_heartbeat,omitempty"`
	EmittedAt    time.Time     `json:"emitted_at"`
}

func NewPriceUpdateEvent(index uint64, e PriceEntry, at time.Time) Event {
	return Event{
		Type:        EventPriceUpdate,
		PriceUpdate: &PriceUpdate{Index: index, Price: e.Price, RecordedAt: e.RecordedAt},
		EmittedAt:   at,
	}
}

func NewSetHeartbeatEvent(seconds uint64, at time.Time) Event {
	return Event{
		Type:         EventSetHeartbeat,
		SetHeartbeat: &SetHeartbeat{Seconds: seconds},
		EmittedAt:    at,
	}
}
