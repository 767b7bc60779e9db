package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

type mockStore struct {
	entries      []model.PriceEntry
	heartbeat    uint64
	hasHeartbeat bool
	appendErr    error
	commitErr    error // returned after beforeCommit succeeded
	saveHBErr    error
}

func (m *mockStore) Append(ctx context.Context, index uint64, e model.PriceEntry, beforeCommit func(context.Context) error) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	if index != uint64(len(m.entries)) {
		return fmt.Errorf("unexpected index %d", index)
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}
	if m.commitErr != nil {
		return m.commitErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockStore) Load(ctx context.Context) ([]model.PriceEntry, error) {
	return append([]model.PriceEntry(nil), m.entries...), nil
}

func (m *mockStore) Range(ctx context.Context, start, end uint64) ([]model.PriceEntry, error) {
	if start > end || end > uint64(len(m.entries)) {
		return nil, domain.ErrIndexOutOfRange
	}
	return append([]model.PriceEntry(nil), m.entries[start:end]...), nil
}

func (m *mockStore) SaveHeartbeat(ctx context.Context, seconds uint64) error {
	if m.saveHBErr != nil {
		return m.saveHBErr
	}
	m.heartbeat, m.hasHeartbeat = seconds, true
	return nil
}

func (m *mockStore) LoadHeartbeat(ctx context.Context) (uint64, bool, error) {
	return m.heartbeat, m.hasHeartbeat, nil
}

func (m *mockStore) Close() error { return nil }

type mockAuth struct {
	roles map[model.Role]map[model.Identity]bool
	err   error
}

func newMockAuth() *mockAuth {
	return &mockAuth{roles: map[model.Role]map[model.Identity]bool{
		model.RoleKeeper: {"keeper": true},
		model.RoleAdmin:  {"admin": true},
	}}
}

func (m *mockAuth) HasRole(ctx context.Context, role model.Role, caller model.Identity) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.roles[role][caller], nil
}

type mockUpstream struct {
	prices   []uint64
	owner    model.Identity
	priceErr error
	ownerErr error
}

func (m *mockUpstream) UpdatePrice(ctx context.Context, price uint64) (uint64, error) {
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	m.prices = append(m.prices, price)
	return price, nil
}

func (m *mockUpstream) TransferOwnership(ctx context.Context, newOwner model.Identity) error {
	if m.ownerErr != nil {
		return m.ownerErr
	}
	m.owner = newOwner
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (m *mockNotifier) Notify(ctx context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockNotifier) received() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...)
}

// blockingNotifier holds every Notify until release is closed.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingNotifier) Notify(ctx context.Context, ev model.Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(sec int64) {
	c.mu.Lock()
	c.now = sec
	c.mu.Unlock()
}

type mockMetrics struct {
	mu             sync.Mutex
	ops            map[string]int
	failures       map[string]int
	lastLength     uint64
	notifyFailures int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{ops: map[string]int{}, failures: map[string]int{}}
}

func (m *mockMetrics) ObserveOp(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
	if err != nil {
		m.failures[op]++
	}
}

func (m *mockMetrics) ObserveState(length uint64, latest model.PriceEntry, heartbeatSec uint64) {
	m.lastLength = length
}

func (m *mockMetrics) ObserveNotifyFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyFailures++
}

func (m *mockMetrics) notifyFailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifyFailures
}

func (m *mockMetrics) counts(op string) (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[op], m.failures[op]
}

type ledgerFixture struct {
	ledger   *PriceLedger
	store    *mockStore
	auth     *mockAuth
	upstream *mockUpstream
	notifier *mockNotifier
	clock    *fakeClock
	metrics  *mockMetrics
}

func newLedgerFixture(t *testing.T, heartbeat uint64) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		store:    &mockStore{},
		auth:     newMockAuth(),
		upstream: &mockUpstream{},
		notifier: &mockNotifier{},
		clock:    &fakeClock{},
		metrics:  newMockMetrics(),
	}
	l, err := NewPriceLedger(LedgerDeps{
		Store:        f.store,
		Auth:         f.auth,
		Upstream:     f.upstream,
		Notifier:     f.notifier,
		Clock:        f.clock,
		Metrics:      f.metrics,
		HeartbeatSec: heartbeat,
	})
	if err != nil {
		t.Fatalf("NewPriceLedger failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	f.ledger = l
	return f
}

// events waits for queued deliveries and returns what the notifier saw.
func (f *ledgerFixture) events(t *testing.T) []model.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.ledger.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return f.notifier.received()
}

func TestNewPriceLedgerRequiresDeps(t *testing.T) {
	if _, err := NewPriceLedger(LedgerDeps{Auth: newMockAuth()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := NewPriceLedger(LedgerDeps{Store: &mockStore{}}); err == nil {
		t.Error("expected error without authorizer")
	}
}

func TestGetPriceNoPriceSet(t *testing.T) {
	f := newLedgerFixture(t, model.DefaultHeartbeatSec)

	if _, err := f.ledger.GetPrice(context.Background()); !errors.Is(err, domain.ErrNoPriceSet) {
		t.Errorf("expected ErrNoPriceSet, got %v", err)
	}
	if f.ledger.Length() != 0 {
		t.Errorf("expected empty ledger")
	}
}

func TestRecordPriceHeartbeatBoundary(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	n, err := f.ledger.RecordPrice(ctx, "keeper", 100)
	if err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected length 1, got %d", n)
	}

	f.clock.Set(3600)
	price, err := f.ledger.GetPrice(ctx)
	if err != nil || price != 100 {
		t.Fatalf("expected fresh price 100 at heartbeat edge, got %d, %v", price, err)
	}

	f.clock.Set(3601)
	if _, err := f.ledger.GetPrice(ctx); !errors.Is(err, domain.ErrStaleData) {
		t.Fatalf("expected ErrStaleData past heartbeat, got %v", err)
	}

	if err := f.ledger.SetHeartbeat(ctx, "admin", 7200); err != nil {
		t.Fatalf("SetHeartbeat failed: %v", err)
	}
	price, err = f.ledger.GetPrice(ctx)
	if err != nil || price != 100 {
		t.Errorf("expected price 100 after widening heartbeat, got %d, %v", price, err)
	}
	if !f.store.hasHeartbeat || f.store.heartbeat != 7200 {
		t.Errorf("heartbeat not persisted: %+v", f.store)
	}
}

func TestGetPriceRangeReturnsHistory(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	_, _ = f.ledger.RecordPrice(ctx, "keeper", 50)
	f.clock.Set(10)
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 75)

	got, err := f.ledger.GetPriceRange(ctx, 0, 2)
	if err != nil {
		t.Fatalf("GetPriceRange failed: %v", err)
	}
	want := []model.PriceEntry{{Price: 50, RecordedAt: 0}, {Price: 75, RecordedAt: 10}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	// 返回值是拷贝
	got[0].Price = 999
	again, _ := f.ledger.GetPriceRange(ctx, 0, 1)
	if again[0].Price != 50 {
		t.Errorf("range result aliases ledger history")
	}

	latest, err := f.ledger.LatestPrice(ctx)
	if err != nil || latest != want[1] {
		t.Errorf("LatestPrice = %+v, %v", latest, err)
	}
}

func TestGetPriceRangeBounds(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 1)
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 2)

	cases := []struct {
		start, end uint64
		wantErr    bool
		wantLen    int
	}{
		{0, 0, false, 0},
		{2, 2, false, 0},
		{1, 2, false, 1},
		{0, 3, true, 0},
		{2, 1, true, 0},
		{3, 3, true, 0},
	}
	for _, tc := range cases {
		got, err := f.ledger.GetPriceRange(ctx, tc.start, tc.end)
		if tc.wantErr {
			if !errors.Is(err, domain.ErrIndexOutOfRange) {
				t.Errorf("[%d,%d): expected ErrIndexOutOfRange, got %v", tc.start, tc.end, err)
			}
			continue
		}
		if err != nil || len(got) != tc.wantLen {
			t.Errorf("[%d,%d): got %d entries, err %v", tc.start, tc.end, len(got), err)
		}
	}
}

func TestRecordPriceUnauthorizedLeavesStateUnchanged(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	if _, err := f.ledger.RecordPrice(ctx, "mallory", 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// admin is not implicitly a keeper
	if _, err := f.ledger.RecordPrice(ctx, "admin", 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for admin, got %v", err)
	}
	if f.ledger.Length() != 0 || len(f.store.entries) != 0 || len(f.upstream.prices) != 0 {
		t.Error("unauthorized write changed state")
	}
	if len(f.events(t)) != 0 {
		t.Error("unauthorized write emitted an event")
	}
	if f.metrics.failures["record_price"] != 2 {
		t.Errorf("expected 2 failed record_price ops, got %d", f.metrics.failures["record_price"])
	}
}

func TestSetHeartbeatUnauthorized(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	if err := f.ledger.SetHeartbeat(ctx, "keeper", 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.ledger.Heartbeat() != 3600 || f.store.hasHeartbeat {
		t.Error("unauthorized SetHeartbeat changed state")
	}
}

func TestAuthorizerErrorIsNotUnauthorized(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.auth.err = errors.New("role table unavailable")

	_, err := f.ledger.RecordPrice(context.Background(), "keeper", 1)
	if err == nil || errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected role lookup error, got %v", err)
	}
}

func TestRecordPriceUpstreamFailureLeavesStateUnchanged(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()
	cause := errors.New("connection refused")
	f.upstream.priceErr = cause

	_, err := f.ledger.RecordPrice(ctx, "keeper", 100)
	if !errors.Is(err, domain.ErrUpstreamCallFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected upstream failure wrapping cause, got %v", err)
	}
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Op != "update_price" {
		t.Errorf("expected UpstreamError for update_price, got %v", err)
	}
	if f.ledger.Length() != 0 || len(f.store.entries) != 0 || len(f.events(t)) != 0 {
		t.Error("failed mirror left partial state")
	}

	f.upstream.priceErr = nil
	if _, err := f.ledger.RecordPrice(ctx, "keeper", 100); err != nil {
		t.Fatalf("RecordPrice after recovery failed: %v", err)
	}
	if len(f.upstream.prices) != 1 || f.upstream.prices[0] != 100 {
		t.Errorf("upstream did not receive price: %v", f.upstream.prices)
	}
}

func TestRecordPriceStoreFailure(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.store.appendErr = errors.New("disk full")

	if _, err := f.ledger.RecordPrice(context.Background(), "keeper", 1); err == nil {
		t.Fatal("expected store error")
	}
	if f.ledger.Length() != 0 {
		t.Error("store failure changed in-memory state")
	}
}

func TestRecordPriceWithoutUpstream(t *testing.T) {
	l, err := NewPriceLedger(LedgerDeps{Store: &mockStore{}, Auth: newMockAuth(), Clock: &fakeClock{}, HeartbeatSec: 60})
	if err != nil {
		t.Fatalf("NewPriceLedger failed: %v", err)
	}
	if _, err := l.RecordPrice(context.Background(), "keeper", 5); err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}
	if err := l.TransferUpstreamOwnership(context.Background(), "admin", "bob"); !errors.Is(err, domain.ErrUpstreamCallFailed) {
		t.Errorf("expected ErrUpstreamCallFailed without upstream, got %v", err)
	}
}

func TestZeroPriceIsAValue(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	if _, err := f.ledger.RecordPrice(ctx, "keeper", 0); err != nil {
		t.Fatalf("RecordPrice(0) failed: %v", err)
	}
	price, err := f.ledger.GetPrice(ctx)
	if err != nil || price != 0 {
		t.Errorf("expected recorded zero, got %d, %v", price, err)
	}
}

func TestZeroHeartbeat(t *testing.T) {
	f := newLedgerFixture(t, 0)
	ctx := context.Background()
	f.clock.Set(100)
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 7)

	if _, err := f.ledger.GetPrice(ctx); err != nil {
		t.Errorf("expected same-second read to be fresh, got %v", err)
	}
	f.clock.Set(101)
	if _, err := f.ledger.GetPrice(ctx); !errors.Is(err, domain.ErrStaleData) {
		t.Errorf("expected ErrStaleData, got %v", err)
	}
}

func TestClockBehindRecordIsFresh(t *testing.T) {
	f := newLedgerFixture(t, 10)
	ctx := context.Background()
	f.clock.Set(1000)
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 7)

	f.clock.Set(500)
	if _, err := f.ledger.GetPrice(ctx); err != nil {
		t.Errorf("expected entry from the future to be fresh, got %v", err)
	}
}

func TestEventsEmittedInOrder(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	_, _ = f.ledger.RecordPrice(ctx, "keeper", 10)
	_ = f.ledger.SetHeartbeat(ctx, "admin", 0)
	_, _ = f.ledger.RecordPrice(ctx, "keeper", 20)

	events := f.events(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	first, second, third := events[0], events[1], events[2]
	if first.Type != model.EventPriceUpdate || first.PriceUpdate.Index != 0 || first.PriceUpdate.Price != 10 {
		t.Errorf("unexpected first event: %+v", first)
	}
	if second.Type != model.EventSetHeartbeat || second.SetHeartbeat.Seconds != 0 {
		t.Errorf("unexpected second event: %+v", second)
	}
	if third.PriceUpdate == nil || third.PriceUpdate.Index != 1 {
		t.Errorf("unexpected third event: %+v", third)
	}
}

func TestNotifyFailureDoesNotFailWrite(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.notifier.err = errors.New("redis down")

	if _, err := f.ledger.RecordPrice(context.Background(), "keeper", 1); err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}
	f.events(t)
	if got := f.metrics.notifyFailureCount(); got != 1 {
		t.Errorf("expected 1 notify failure, got %d", got)
	}
}

func TestSetHeartbeatStoreFailure(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.store.saveHBErr = errors.New("readonly")

	if err := f.ledger.SetHeartbeat(context.Background(), "admin", 1); err == nil {
		t.Fatal("expected error")
	}
	if f.ledger.Heartbeat() != 3600 {
		t.Errorf("heartbeat changed after store failure")
	}
}

func TestTransferUpstreamOwnership(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	if err := f.ledger.TransferUpstreamOwnership(ctx, "keeper", "bob"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.ledger.TransferUpstreamOwnership(ctx, "admin", ""); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("expected ErrInvalidOwner, got %v", err)
	}
	if err := f.ledger.TransferUpstreamOwnership(ctx, "admin", "bob"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if f.upstream.owner != "bob" {
		t.Errorf("expected upstream owner bob, got %q", f.upstream.owner)
	}

	f.upstream.ownerErr = errors.New("reverted")
	err := f.ledger.TransferUpstreamOwnership(ctx, "admin", "carol")
	if !errors.Is(err, domain.ErrUpstreamCallFailed) {
		t.Errorf("expected ErrUpstreamCallFailed, got %v", err)
	}
	if f.ledger.Length() != 0 || f.ledger.Heartbeat() != 3600 {
		t.Error("ownership transfer touched ledger state")
	}
}

func TestRestore(t *testing.T) {
	store := &mockStore{
		entries:      []model.PriceEntry{{Price: 50, RecordedAt: 0}, {Price: 75, RecordedAt: 10}},
		heartbeat:    7200,
		hasHeartbeat: true,
	}
	clock := &fakeClock{now: 20}
	l, _ := NewPriceLedger(LedgerDeps{Store: store, Auth: newMockAuth(), Clock: clock, HeartbeatSec: 60})

	if err := l.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	s := l.Snapshot()
	if s.Length != 2 || !s.HasLatest || s.Latest.Price != 75 || s.HeartbeatSec != 7200 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.AgeSec != 10 || s.Stale {
		t.Errorf("unexpected freshness: age=%d stale=%v", s.AgeSec, s.Stale)
	}

	// 已恢复的账本从下一个索引继续追加
	if n, err := l.RecordPrice(context.Background(), "keeper", 80); err != nil || n != 3 {
		t.Errorf("RecordPrice after restore = %d, %v", n, err)
	}
}

func TestRestoreKeepsConfiguredHeartbeat(t *testing.T) {
	l, _ := NewPriceLedger(LedgerDeps{Store: &mockStore{}, Auth: newMockAuth(), HeartbeatSec: 900})
	if err := l.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if l.Heartbeat() != 900 {
		t.Errorf("expected configured heartbeat 900, got %d", l.Heartbeat())
	}
	if s := l.Snapshot(); s.HasLatest || s.Length != 0 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestConcurrentRecordAndRead(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(p uint64) {
			defer wg.Done()
			_, _ = f.ledger.RecordPrice(ctx, "keeper", p)
		}(uint64(i))
		go func() {
			defer wg.Done()
			s := f.ledger.Snapshot()
			if s.Length > 0 && !s.HasLatest {
				t.Error("snapshot without latest")
			}
		}()
	}
	wg.Wait()

	if f.ledger.Length() != 20 {
		t.Errorf("expected 20 entries, got %d", f.ledger.Length())
	}
	for i, ev := range f.events(t) {
		if ev.PriceUpdate.Index != uint64(i) {
			t.Errorf("event %d has index %d", i, ev.PriceUpdate.Index)
		}
	}
}

func TestSlowNotifierDoesNotBlockReads(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	slow := newBlockingNotifier()
	l, err := NewPriceLedger(LedgerDeps{
		Store:        f.store,
		Auth:         f.auth,
		Notifier:     slow,
		Clock:        f.clock,
		HeartbeatSec: 3600,
	})
	if err != nil {
		t.Fatalf("NewPriceLedger failed: %v", err)
	}
	ctx := context.Background()

	if _, err := l.RecordPrice(ctx, "keeper", 42); err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}
	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier never called")
	}

	read := make(chan error, 1)
	go func() {
		_, err := l.GetPrice(ctx)
		read <- err
	}()
	select {
	case err := <-read:
		if err != nil {
			t.Errorf("GetPrice failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetPrice blocked behind the notifier")
	}

	// a second write must not wait for the first delivery either
	if _, err := l.RecordPrice(ctx, "keeper", 43); err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}

	close(slow.release)
	if err := l.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFullEventQueueDropsEvents(t *testing.T) {
	slow := newBlockingNotifier()
	metrics := newMockMetrics()
	l, err := NewPriceLedger(LedgerDeps{
		Store:        &mockStore{},
		Auth:         newMockAuth(),
		Notifier:     slow,
		Clock:        &fakeClock{},
		Metrics:      metrics,
		HeartbeatSec: 3600,
		EventBuffer:  1,
	})
	if err != nil {
		t.Fatalf("NewPriceLedger failed: %v", err)
	}
	ctx := context.Background()

	// first event is taken by the consumer and held there
	_, _ = l.RecordPrice(ctx, "keeper", 1)
	<-slow.started
	// second fills the buffer, third has nowhere to go
	_, _ = l.RecordPrice(ctx, "keeper", 2)
	if _, err := l.RecordPrice(ctx, "keeper", 3); err != nil {
		t.Fatalf("RecordPrice with a full queue failed: %v", err)
	}

	if got := metrics.notifyFailureCount(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
	if l.Length() != 3 {
		t.Errorf("expected 3 entries, got %d", l.Length())
	}
	close(slow.release)
	_ = l.Close(ctx)
}

func TestNotifyTimeoutBoundsDelivery(t *testing.T) {
	var seen time.Duration
	notifier := notifierFunc(func(ctx context.Context, ev model.Event) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		seen = time.Until(deadline)
		return nil
	})
	l, _ := NewPriceLedger(LedgerDeps{
		Store:         &mockStore{},
		Auth:          newMockAuth(),
		Notifier:      notifier,
		Clock:         &fakeClock{},
		Metrics:       newMockMetrics(),
		NotifyTimeout: 250 * time.Millisecond,
	})
	ctx := context.Background()

	_, _ = l.RecordPrice(ctx, "keeper", 1)
	if err := l.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if seen <= 0 || seen > 250*time.Millisecond {
		t.Errorf("unexpected notify deadline %v", seen)
	}
}

func TestCloseDrainsAndDropsLaterEvents(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	_, _ = f.ledger.RecordPrice(ctx, "keeper", 1)
	if err := f.ledger.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(f.notifier.received()); got != 1 {
		t.Fatalf("expected queued event delivered before Close returned, got %d", got)
	}

	// writes still commit, their events are dropped
	if _, err := f.ledger.RecordPrice(ctx, "keeper", 2); err != nil {
		t.Fatalf("RecordPrice after Close failed: %v", err)
	}
	if got := f.metrics.notifyFailureCount(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
	if err := f.ledger.Flush(ctx); err == nil {
		t.Error("expected Flush after Close to fail")
	}
	if err := f.ledger.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestCommitFailureRestoresUpstreamPrice(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	ctx := context.Background()

	if _, err := f.ledger.RecordPrice(ctx, "keeper", 10); err != nil {
		t.Fatalf("RecordPrice failed: %v", err)
	}
	f.store.commitErr = errors.New("disk full")

	if _, err := f.ledger.RecordPrice(ctx, "keeper", 20); err == nil {
		t.Fatal("expected commit failure")
	}
	if f.ledger.Length() != 1 {
		t.Errorf("expected length 1, got %d", f.ledger.Length())
	}
	want := []uint64{10, 20, 10}
	if fmt.Sprint(f.upstream.prices) != fmt.Sprint(want) {
		t.Errorf("upstream prices = %v, want %v", f.upstream.prices, want)
	}
	if total, failed := f.metrics.counts("upstream_compensate"); total != 1 || failed != 0 {
		t.Errorf("compensation counted %d/%d, want 1/0", total, failed)
	}
}

func TestCommitFailureOnEmptyLedgerIsReported(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.store.commitErr = errors.New("disk full")

	if _, err := f.ledger.RecordPrice(context.Background(), "keeper", 20); err == nil {
		t.Fatal("expected commit failure")
	}
	if len(f.upstream.prices) != 1 {
		t.Errorf("expected only the rejected mirror call, got %v", f.upstream.prices)
	}
	if total, failed := f.metrics.counts("upstream_compensate"); total != 1 || failed != 1 {
		t.Errorf("compensation counted %d/%d, want 1/1", total, failed)
	}
}

func TestCommitFailureWithoutMirrorSkipsCompensation(t *testing.T) {
	f := newLedgerFixture(t, 3600)
	f.store.appendErr = errors.New("locked")

	_, _ = f.ledger.RecordPrice(context.Background(), "keeper", 20)
	if total, _ := f.metrics.counts("upstream_compensate"); total != 0 {
		t.Errorf("unexpected compensation after a failure before the mirror")
	}
}

type notifierFunc func(ctx context.Context, ev model.Event) error

func (f notifierFunc) Notify(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

func TestMockStoreRangeMatchesStoreContract(t *testing.T) {
	m := &mockStore{entries: []model.PriceEntry{{Price: 1}, {Price: 2}}}

	if _, err := m.Range(context.Background(), 1, 3); !errors.Is(err, domain.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	got, err := m.Range(context.Background(), 0, 2)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	got[0].Price = 99
	if m.entries[0].Price != 1 {
		t.Error("Range result aliases the stored entries")
	}
}
