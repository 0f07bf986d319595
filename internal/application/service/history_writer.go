package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

const (
	DefaultHistoryQueue = 256
	historyWriteTimeout = 5 * time.Second
)

// HistoryWriter 异步追加历史样本，单个 worker 顺序写入
// 队列满时丢弃并记日志，不阻塞刷新周期
type HistoryWriter struct {
	repo  port.HistoryRepository
	queue chan domain.PriceSample
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewHistoryWriter(repo port.HistoryRepository, queueSize int) *HistoryWriter {
	if queueSize <= 0 {
		queueSize = DefaultHistoryQueue
	}
	w := &HistoryWriter{
		repo:  repo,
		queue: make(chan domain.PriceSample, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Append 入队一个样本；返回 false 表示已丢弃
func (w *HistoryWriter) Append(sample domain.PriceSample) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- sample:
		return true
	default:
		metrics.HistoryWrites.WithLabelValues("dropped").Inc()
		log.Warn().Str("network", sample.Network).Time("observed_at", sample.ObservedAt).Msg("history queue full, sample dropped")
		return false
	}
}

// Query 按时间范围查询，结果按 observedAt 升序
func (w *HistoryWriter) Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to %s before from %s", domain.ErrInvalidRange, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return w.repo.Query(ctx, network, from.UTC(), to.UTC())
}

// Prune 删除早于 before 的样本
func (w *HistoryWriter) Prune(ctx context.Context, before time.Time) error {
	if err := w.repo.DeleteBefore(ctx, before.UTC()); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	log.Debug().Time("before", before).Msg("history pruned")
	return nil
}

// Close 停止接收、写完队列后关闭仓储
func (w *HistoryWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return w.repo.Close()
}

func (w *HistoryWriter) run() {
	defer close(w.done)
	for s := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		err := w.repo.Append(ctx, s)
		cancel()
		if err != nil {
			metrics.HistoryWrites.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("network", s.Network).Msg("history append failed")
			continue
		}
		metrics.HistoryWrites.WithLabelValues("ok").Inc()
	}
}
