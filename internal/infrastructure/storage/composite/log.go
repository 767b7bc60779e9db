package composite

import (
	"context"

	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/domain/model"
)

// LogNotifier 把事件写入日志
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev model.Event) error {
	e := log.Info().Str("event", string(ev.Type)).Time("emitted_at", ev.EmittedAt)
	switch {
	case ev.PriceUpdate != nil:
		e = e.Uint64("index", ev.PriceUpdate.Index).
			Uint64("price", ev.PriceUpdate.Price).
			Int64("recorded_at", ev.PriceUpdate.RecordedAt)
	case ev.SetHeartbeat != nil:
		e = e.Uint64("heartbeat_sec", ev.SetHeartbeat.Seconds)
	}
	e.Msg("ledger event")
	return nil
}

var _ port.Notifier = LogNotifier{}
