package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/domain/model"
)

const (
	DefaultEventBuffer   = 1024
	DefaultNotifyTimeout = 2 * time.Second
)

var (
	errEventQueueFull = errors.New("event queue full")
	errLedgerClosed   = errors.New("price ledger closed")
)

type queuedEvent struct {
	ctx  context.Context
	ev   model.Event
	done chan struct{} // flush marker when non-nil
}

// eventQueue 按提交顺序投递事件；单个 goroutine 消费，通知器变慢不会拖住账本锁
type eventQueue struct {
	ch       chan queuedEvent
	stopped  chan struct{}
	notifier port.Notifier
	metrics  port.LedgerMetrics
	timeout  time.Duration
}

func newEventQueue(notifier port.Notifier, metrics port.LedgerMetrics, size int, timeout time.Duration) *eventQueue {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	q := &eventQueue{
		ch:       make(chan queuedEvent, size),
		stopped:  make(chan struct{}),
		notifier: notifier,
		metrics:  metrics,
		timeout:  timeout,
	}
	go q.run()
	return q
}

// push never blocks. Callers hold the ledger write lock, which fixes the order.
func (q *eventQueue) push(ctx context.Context, ev model.Event) {
	select {
	case q.ch <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		q.fail(ev, errEventQueueFull)
	}
}

// mark queues a marker that is closed once everything queued before it has been delivered.
func (q *eventQueue) mark(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	select {
	case q.ch <- queuedEvent{done: done}:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdown stops accepting events; no push or flush may follow it.
func (q *eventQueue) shutdown() { close(q.ch) }

// wait blocks until the backlog queued before shutdown has been delivered.
func (q *eventQueue) wait(ctx context.Context) error {
	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *eventQueue) run() {
	defer close(q.stopped)
	for item := range q.ch {
		if item.done != nil {
			close(item.done)
			continue
		}
		q.deliver(item)
	}
}

func (q *eventQueue) deliver(item queuedEvent) {
	ctx := item.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.notifier.Notify(ctx, item.ev); err != nil {
		q.fail(item.ev, err)
	}
}

func (q *eventQueue) fail(ev model.Event, err error) {
	q.metrics.ObserveNotifyFailure()
	log.Warn().Err(err).Str("event", string(ev.Type)).Msg("notify failed")
}
