package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"xoracle/internal/application/port"
	"xoracle/internal/domain/model"
)

// Repo 将账本事件镜像到 Redis：最新价格写 hash，事件写 stream 并 publish
type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyLatest   string // prefix + ":latest"
	eventStream string
	eventChan   string
}

type LatestPrice struct {
	Index      uint64 `json:"index"`
	Price      string `json:"price"`
	RecordedAt int64  `json:"recorded_at"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventStream, eventChan string) *Repo {
	if strings.TrimSpace(eventStream) == "" {
		eventStream = prefix + ":events"
	}
	if strings.TrimSpace(eventChan) == "" {
		eventChan = prefix + ":events:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyLatest:   prefix + ":latest",
		eventStream: eventStream,
		eventChan:   eventChan,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, index uint64, e model.PriceEntry) error {
	lp := LatestPrice{Index: index, Price: strconv.FormatUint(e.Price, 10), RecordedAt: e.RecordedAt}
	b, _ := json.Marshal(lp)

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, "price", string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) Notify(ctx context.Context, ev model.Event) error {
	if ev.Type == model.EventPriceUpdate && ev.PriceUpdate != nil {
		pu := ev.PriceUpdate
		if err := r.UpsertLatestPrice(ctx, pu.Index, model.PriceEntry{Price: pu.Price, RecordedAt: pu.RecordedAt}); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * type payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.eventStream,
		Values: map[string]any{
			"type":       string(ev.Type),
			"emitted_ms": ev.EmittedAt.UnixMilli(),
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.eventChan, payload).Err()
}

var (
	_ port.Notifier         = (*Repo)(nil)
	_ port.LatestPriceCache = (*Repo)(nil)
)
