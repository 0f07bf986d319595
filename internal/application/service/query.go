package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gasfeed/internal/domain"
)

// PriceSource 读取网络当前样本（由 PriceCache 实现）
type PriceSource interface {
	GetOrFetch(ctx context.Context, network string) (domain.PriceSample, error)
}

// HistoryReader 历史查询（由 HistoryWriter 实现）
type HistoryReader interface {
	Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error)
}

// NetworkCatalog 已配置网络
type NetworkCatalog interface {
	Has(network string) bool
	Networks() []string
}

// QueryService 按需查询入口，供 HTTP 与订阅快照使用
type QueryService struct {
	prices   PriceSource
	history  HistoryReader
	pricer   *Pricer
	networks NetworkCatalog
}

func NewQueryService(prices PriceSource, history HistoryReader, pricer *Pricer, networks NetworkCatalog) *QueryService {
	return &QueryService{prices: prices, history: history, pricer: pricer, networks: networks}
}

// CurrentPrice 返回当前报价；上游失败但有旧值时返回 Stale 报价与 *domain.StaleError
func (q *QueryService) CurrentPrice(ctx context.Context, network, subjectID string) (domain.Quote, error) {
	if !q.networks.Has(network) {
		return domain.Quote{}, fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, network)
	}

	sample, err := q.prices.GetOrFetch(ctx, network)
	stale := errors.Is(err, domain.ErrStaleSample)
	if err != nil && !stale {
		return domain.Quote{}, err
	}

	topic := domain.Topic{Network: network, SubjectID: subjectID}
	quote := domain.Quote{
		PriceSample: sample,
		SubjectID:   subjectID,
		FinalPrice:  q.pricer.Price(ctx, topic, sample),
		Stale:       stale,
	}
	return quote, err
}

func (q *QueryService) HistoricalPrices(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	if !q.networks.Has(network) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, network)
	}
	return q.history.Query(ctx, network, from, to)
}

func (q *QueryService) Networks() []string {
	return q.networks.Networks()
}
