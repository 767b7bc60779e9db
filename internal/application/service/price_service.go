package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

var (
	errNoUpstream   = errors.New("legacy oracle not configured")
	errNoPriorPrice = errors.New("no earlier price to restore")
)

// LedgerDeps 账本依赖；Store 与 Auth 必填，其余可选
type LedgerDeps struct {
	Store    port.HistoryStore
	Auth     port.Authorizer
	Upstream port.Upstream
	Notifier port.Notifier
	Clock    port.Clock
	Metrics  port.LedgerMetrics

	// HeartbeatSec is used until a persisted heartbeat is restored or one is set.
	HeartbeatSec uint64

	// EventBuffer bounds the queue between commits and the notifier; a full queue drops events.
	EventBuffer int
	// NotifyTimeout bounds a single Notify call. Zero means DefaultNotifyTimeout.
	NotifyTimeout time.Duration
}

// PriceLedger 价格账本：keeper 写入、心跳校验读取、只追加历史。
// 所有写操作在同一把写锁下串行执行，读操作共享读锁并返回拷贝。
type PriceLedger struct {
	mu        sync.RWMutex
	history   []model.PriceEntry
	heartbeat uint64
	closed    bool // written under both mu and queueMu

	// queueMu keeps blocking queue sends (Flush) off mu so they never stall readers.
	queueMu sync.RWMutex

	store    port.HistoryStore
	auth     port.Authorizer
	upstream port.Upstream
	clock    port.Clock
	metrics  port.LedgerMetrics
	events   *eventQueue
}

// Snapshot is a consistent point-in-time view of the ledger.
type Snapshot struct {
	Length       uint64
	Latest       model.PriceEntry
	HasLatest    bool
	HeartbeatSec uint64
	AgeSec       int64 // age of Latest at snapshot time, 0 without a latest price
	Stale        bool
}

func NewPriceLedger(deps LedgerDeps) (*PriceLedger, error) {
	if deps.Store == nil {
		return nil, errors.New("price ledger: store is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("price ledger: authorizer is required")
	}
	l := &PriceLedger{
		history:   make([]model.PriceEntry, 0),
		heartbeat: deps.HeartbeatSec,
		store:     deps.Store,
		auth:      deps.Auth,
		upstream:  deps.Upstream,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
	}
	if l.clock == nil {
		l.clock = port.SystemClock{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if l.metrics == nil {
		l.metrics = noopMetrics{}
	}
	timeout := deps.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	l.events = newEventQueue(notifier, l.metrics, deps.EventBuffer, timeout)
	return l, nil
}

// Flush waits until every event committed before the call has reached the notifier.
func (l *PriceLedger) Flush(ctx context.Context) error {
	l.queueMu.RLock()
	if l.closed {
		l.queueMu.RUnlock()
		return errLedgerClosed
	}
	done, err := l.events.mark(ctx)
	l.queueMu.RUnlock()
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops event delivery after draining the queue. The ledger stays readable;
// later mutations still commit but their events are dropped.
func (l *PriceLedger) Close(ctx context.Context) error {
	l.queueMu.Lock()
	l.mu.Lock()
	wasClosed := l.closed
	if !wasClosed {
		l.closed = true
		l.events.shutdown()
	}
	l.mu.Unlock()
	l.queueMu.Unlock()
	if wasClosed {
		return nil
	}

	return l.events.wait(ctx)
}

// Restore rebuilds in-memory state from the store. It must run before the ledger serves traffic.
func (l *PriceLedger) Restore(ctx context.Context) error {
	entries, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	hb, ok, err := l.store.LoadHeartbeat(ctx)
	if err != nil {
		return fmt.Errorf("restore heartbeat: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(make([]model.PriceEntry, 0, len(entries)), entries...)
	if ok {
		l.heartbeat = hb
	}
	l.observeStateLocked()

	log.Info().
		Int("entries", len(entries)).
		Uint64("heartbeat_sec", l.heartbeat).
		Bool("heartbeat_persisted", ok).
		Msg("ledger restored")
	return nil
}

// RecordPrice appends price with the current time and returns the new history length.
// The legacy oracle mirror runs inside the store transaction: if it fails nothing is recorded.
func (l *PriceLedger) RecordPrice(ctx context.Context, caller model.Identity, price uint64) (n uint64, err error) {
	defer func() { l.metrics.ObserveOp("record_price", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.authorize(ctx, model.RoleKeeper, caller); err != nil {
		return 0, err
	}

	entry := model.PriceEntry{Price: price, RecordedAt: l.clock.Now().Unix()}
	index := uint64(len(l.history))

	mirrored := false
	if err := l.store.Append(ctx, index, entry, l.mirror(price, &mirrored)); err != nil {
		log.Error().Err(err).
			Str("caller", caller.String()).
			Uint64("price", price).
			Uint64("index", index).
			Msg("record price failed")
		if mirrored {
			l.compensate(ctx, price)
		}
		return 0, fmt.Errorf("record price: %w", err)
	}

	l.history = append(l.history, entry)
	n = uint64(len(l.history))
	l.observeStateLocked()

	log.Info().
		Str("caller", caller.String()).
		Uint64("price", price).
		Int64("recorded_at", entry.RecordedAt).
		Uint64("length", n).
		Msg("price recorded")

	l.emit(ctx, model.NewPriceUpdateEvent(index, entry, l.clock.Now()))
	return n, nil
}

// GetPrice returns the latest price if one is set and it is not older than the heartbeat.
func (l *PriceLedger) GetPrice(ctx context.Context) (uint64, error) {
	e, err := l.latest("get_price")
	if err != nil {
		return 0, err
	}
	return e.Price, nil
}

// LatestPrice is GetPrice returning the whole entry.
func (l *PriceLedger) LatestPrice(ctx context.Context) (model.PriceEntry, error) {
	return l.latest("latest_price")
}

func (l *PriceLedger) latest(op string) (e model.PriceEntry, err error) {
	defer func() { l.metrics.ObserveOp(op, err) }()

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.history) == 0 {
		return model.PriceEntry{}, domain.ErrNoPriceSet
	}
	e = l.history[len(l.history)-1]
	if e.StaleAt(l.clock.Now(), l.heartbeat) {
		return model.PriceEntry{}, fmt.Errorf("%w: recorded_at=%d heartbeat=%ds", domain.ErrStaleData, e.RecordedAt, l.heartbeat)
	}
	return e, nil
}

// GetPriceRange returns a copy of history[start:end].
func (l *PriceLedger) GetPriceRange(ctx context.Context, start, end uint64) (out []model.PriceEntry, err error) {
	defer func() { l.metrics.ObserveOp("get_price_range", err) }()

	l.mu.RLock()
	defer l.mu.RUnlock()

	length := uint64(len(l.history))
	if start > end || end > length {
		return nil, fmt.Errorf("%w: [%d, %d) with length %d", domain.ErrIndexOutOfRange, start, end, length)
	}
	out = make([]model.PriceEntry, end-start)
	copy(out, l.history[start:end])
	return out, nil
}

// Length returns the number of entries ever recorded.
func (l *PriceLedger) Length() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.history))
}

// SetHeartbeat replaces the heartbeat. Any value, including zero, is accepted.
func (l *PriceLedger) SetHeartbeat(ctx context.Context, caller model.Identity, seconds uint64) (err error) {
	defer func() { l.metrics.ObserveOp("set_heartbeat", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.authorize(ctx, model.RoleAdmin, caller); err != nil {
		return err
	}
	if err := l.store.SaveHeartbeat(ctx, seconds); err != nil {
		return fmt.Errorf("set heartbeat: %w", err)
	}

	prev := l.heartbeat
	l.heartbeat = seconds
	l.observeStateLocked()

	log.Info().
		Str("caller", caller.String()).
		Uint64("prev_sec", prev).
		Uint64("heartbeat_sec", seconds).
		Msg("heartbeat set")

	l.emit(ctx, model.NewSetHeartbeatEvent(seconds, l.clock.Now()))
	return nil
}

func (l *PriceLedger) Heartbeat() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.heartbeat
}

// TransferUpstreamOwnership hands the legacy oracle over to newOwner. No local state changes.
func (l *PriceLedger) TransferUpstreamOwnership(ctx context.Context, caller, newOwner model.Identity) (err error) {
	defer func() { l.metrics.ObserveOp("transfer_upstream_ownership", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.authorize(ctx, model.RoleAdmin, caller); err != nil {
		return err
	}
	if newOwner == "" {
		return domain.ErrInvalidOwner
	}
	if l.upstream == nil {
		return domain.NewUpstreamError("transfer_ownership", errNoUpstream)
	}
	if err := l.upstream.TransferOwnership(ctx, newOwner); err != nil {
		log.Error().Err(err).
			Str("caller", caller.String()).
			Str("new_owner", newOwner.String()).
			Msg("upstream ownership transfer failed")
		return asUpstreamError("transfer_ownership", err)
	}

	log.Info().
		Str("caller", caller.String()).
		Str("new_owner", newOwner.String()).
		Msg("upstream ownership transferred")
	return nil
}

// Snapshot returns length, latest entry and heartbeat under one read lock.
func (l *PriceLedger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{Length: uint64(len(l.history)), HeartbeatSec: l.heartbeat}
	if s.Length > 0 {
		now := l.clock.Now()
		s.Latest = l.history[s.Length-1]
		s.HasLatest = true
		s.AgeSec = s.Latest.AgeAt(now)
		s.Stale = s.Latest.StaleAt(now, l.heartbeat)
	}
	return s
}

func (l *PriceLedger) authorize(ctx context.Context, role model.Role, caller model.Identity) error {
	ok, err := l.auth.HasRole(ctx, role, caller)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role, err)
	}
	if !ok {
		log.Warn().
			Str("caller", caller.String()).
			Str("role", string(role)).
			Msg("unauthorized caller")
		return fmt.Errorf("%w: %q lacks role %s", domain.ErrUnauthorized, caller, role)
	}
	return nil
}

func (l *PriceLedger) mirror(price uint64, mirrored *bool) func(context.Context) error {
	if l.upstream == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if _, err := l.upstream.UpdatePrice(ctx, price); err != nil {
			return asUpstreamError("update_price", err)
		}
		*mirrored = true
		return nil
	}
}

// compensate runs when the legacy oracle accepted a price whose store commit then failed.
// It mirrors the last committed price back; with an empty history the divergence is only reported.
func (l *PriceLedger) compensate(ctx context.Context, rejected uint64) {
	var err error
	defer func() { l.metrics.ObserveOp("upstream_compensate", err) }()

	if len(l.history) == 0 {
		err = errNoPriorPrice
		log.Error().Uint64("rejected", rejected).Msg("legacy oracle holds a price the ledger did not record")
		return
	}
	prev := l.history[len(l.history)-1].Price
	if _, err = l.upstream.UpdatePrice(context.WithoutCancel(ctx), prev); err != nil {
		log.Error().Err(err).
			Uint64("rejected", rejected).
			Uint64("restore", prev).
			Msg("legacy oracle diverged from ledger")
		return
	}
	log.Warn().
		Uint64("rejected", rejected).
		Uint64("restored", prev).
		Msg("legacy oracle restored after failed commit")
}

// emit must be called with the write lock held so events are queued in commit order.
// Delivery happens on the queue goroutine after the lock is released.
func (l *PriceLedger) emit(ctx context.Context, ev model.Event) {
	if l.closed {
		l.events.fail(ev, errLedgerClosed)
		return
	}
	l.events.push(ctx, ev)
}

func (l *PriceLedger) observeStateLocked() {
	var latest model.PriceEntry
	if n := len(l.history); n > 0 {
		latest = l.history[n-1]
	}
	l.metrics.ObserveState(uint64(len(l.history)), latest, l.heartbeat)
}

func asUpstreamError(op string, err error) error {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return domain.NewUpstreamError(op, err)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, model.Event) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveOp(string, error) {}
func (noopMetrics) ObserveState(uint64, model.PriceEntry, uint64) {}
func (noopMetrics) ObserveNotifyFailure() {}
