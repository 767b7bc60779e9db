package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/application/service"
)

const (
	OutcomeFresh = "fresh"
	OutcomeStale = "stale"
	OutcomeUnset = "unset"
)

// SnapshotSource 只读账本视图
type SnapshotSource interface {
	Snapshot() service.Snapshot
}

// FreshnessObserver 接收每次检查的结果
type FreshnessObserver interface {
	ObserveFreshness(outcome string, ageSec int64, stale bool)
}

type ServiceDeps struct {
	Ledger   SnapshotSource
	Metrics  FreshnessObserver
	Schedule string // cron spec, e.g. "@every 30s"
	Decimals int32
	Sink     port.Sink // optional status line per check
	Clock    port.Clock
}

// Service 定期检查最新价格是否超过心跳，只观察不修改账本
type Service struct {
	deps ServiceDeps
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = port.SystemClock{}
	}
	return &Service{
		deps: deps,
		fmt:  NewFormatter(deps.Decimals),
	}
}

// Run 启动 cron 调度并阻塞到 ctx 取消
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Ledger == nil {
		return errors.New("monitor: ledger is required")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.deps.Schedule, func() { s.Check() }); err != nil {
		return fmt.Errorf("monitor schedule %q: %w", s.deps.Schedule, err)
	}
	c.Start()
	log.Info().Str("schedule", s.deps.Schedule).Msg("staleness watchdog started")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("staleness watchdog stopped")
	return ctx.Err()
}

// Check 执行一次检查并返回结果分类
func (s *Service) Check() string {
	snap := s.deps.Ledger.Snapshot()

	outcome := OutcomeFresh
	switch {
	case !snap.HasLatest:
		outcome = OutcomeUnset
	case snap.Stale:
		outcome = OutcomeStale
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveFreshness(outcome, snap.AgeSec, outcome != OutcomeFresh)
	}
	if s.deps.Sink != nil {
		if err := s.deps.Sink.WriteLine(s.deps.Clock.Now(), s.fmt.Render(snap, true)); err != nil {
			log.Debug().Err(err).Msg("status line write failed")
		}
	}

	switch outcome {
	case OutcomeUnset:
		log.Warn().Uint64("heartbeat_sec", snap.HeartbeatSec).Msg("no price recorded yet")
	case OutcomeStale:
		log.Warn().
			Str("price", s.fmt.Price(snap.Latest.Price)).
			Int64("age_sec", snap.AgeSec).
			Uint64("heartbeat_sec", snap.HeartbeatSec).
			Msg("latest price is stale")
	default:
		log.Debug().Msg(s.fmt.Render(snap, false))
	}
	return outcome
}
