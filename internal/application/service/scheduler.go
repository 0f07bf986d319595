package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

const (
	DefaultRefreshInterval = time.Minute
	DefaultMaxConcurrency  = 4
	pruneSchedule          = "@daily"
)

// HistoryAppender 历史写入（由 HistoryWriter 实现）
type HistoryAppender interface {
	Append(sample domain.PriceSample) bool
}

// HistoryPruner 历史清理（由 HistoryWriter 实现）
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) error
}

// Publisher 广播（由 Broadcaster 实现）
type Publisher interface {
	Publish(ctx context.Context, network string, sample domain.PriceSample) PublishReport
}

// InvariantChecker 订阅表一致性检查（由 subscription.Registry 实现）
type InvariantChecker interface {
	Verify() error
}

// SchedulerConfig 刷新调度参数与依赖
type SchedulerConfig struct {
	Networks       []string
	Interval       time.Duration
	MaxConcurrency int
	// Retention 为 0 时不清理历史
	Retention time.Duration

	Prices    PriceSource
	History   HistoryAppender
	Pruner    HistoryPruner
	Publisher Publisher
	Registry  InvariantChecker
}

// Outcome 单个网络在一次周期中的结果
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// CycleReport 一次周期的结果
type CycleReport struct {
	Outcomes map[string]Outcome
	Reports  map[string]PublishReport
}

// Scheduler 定时刷新所有网络：获取 → 写历史 → 广播
// 同一网络上一轮未完成时本轮跳过，不排队
type Scheduler struct {
	cfg     SchedulerConfig
	running map[string]*atomic.Bool

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	running := make(map[string]*atomic.Bool, len(cfg.Networks))
	for _, n := range cfg.Networks {
		running[n] = new(atomic.Bool)
	}
	return &Scheduler{cfg: cfg, running: running}
}

// Start 注册定时任务并立即执行一次预热周期
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule refresh: %w", err)
	}
	if s.cfg.Retention > 0 && s.cfg.Pruner != nil {
		if _, err := c.AddFunc(pruneSchedule, func() { s.prune(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule prune: %w", err)
		}
	}
	c.Start()
	s.cron = c
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(runCtx)
	}()

	log.Info().Dur("interval", s.cfg.Interval).Strs("networks", s.cfg.Networks).Msg("refresh scheduler started")
	return nil
}

// Stop 停止定时器并等待进行中的周期结束（或 ctx 到期）
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cronDone := c.Stop().Done()
	done := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		log.Info().Msg("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce 执行一次周期；单个网络失败只影响该网络
func (s *Scheduler) RunOnce(ctx context.Context) CycleReport {
	rep := CycleReport{
		Outcomes: make(map[string]Outcome, len(s.cfg.Networks)),
		Reports:  make(map[string]PublishReport, len(s.cfg.Networks)),
	}
	var mu sync.Mutex
	record := func(network string, o Outcome, pr *PublishReport) {
		mu.Lock()
		rep.Outcomes[network] = o
		if pr != nil {
			rep.Reports[network] = *pr
		}
		mu.Unlock()
		metrics.SchedulerCycles.WithLabelValues(network, string(o)).Inc()
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, network := range s.cfg.Networks {
		network := network
		flag := s.running[network]
		if !flag.CompareAndSwap(false, true) {
			log.Warn().Str("network", network).Msg("previous refresh still running, skipping tick")
			record(network, OutcomeSkipped, nil)
			continue
		}
		g.Go(func() error {
			defer flag.Store(false)
			pr, err := s.refresh(ctx, network)
			if err != nil {
				log.Error().Err(err).Str("network", network).Msg("refresh failed, broadcast skipped")
				record(network, OutcomeFailed, nil)
				return nil
			}
			record(network, OutcomeOK, &pr)
			return nil
		})
	}
	_ = g.Wait()

	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.Verify(); err != nil {
			log.Error().Err(err).Msg("subscription registry invariant violated")
		}
	}
	return rep
}

func (s *Scheduler) refresh(ctx context.Context, network string) (PublishReport, error) {
	sample, err := s.cfg.Prices.GetOrFetch(ctx, network)
	if err != nil {
		// 旧值只用于查询降级，不广播
		return PublishReport{}, err
	}
	if s.cfg.History != nil {
		s.cfg.History.Append(sample)
	}
	pr := s.cfg.Publisher.Publish(ctx, network, sample)
	log.Debug().
		Str("network", network).
		Str("source", sample.Source).
		Str("aggregate", sample.Aggregate().String()).
		Int("topics", pr.Topics).
		Int("delivered", pr.Delivered).
		Msg("refresh published")
	return pr, nil
}

func (s *Scheduler) prune(ctx context.Context) {
	before := time.Now().Add(-s.cfg.Retention)
	if err := s.cfg.Pruner.Prune(ctx, before); err != nil {
		log.Error().Err(err).Msg("history prune failed")
	}
}
