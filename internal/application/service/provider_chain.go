package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

// DefaultProviderTimeout 单个上游调用的默认超时
const DefaultProviderTimeout = 5 * time.Second

// ChainEntry 链中的一个上游及其超时
type ChainEntry struct {
	Provider port.Provider
	Timeout  time.Duration
}

// ProviderChain 按优先级依次调用网络的上游，第一个合法样本即返回
type ProviderChain struct {
	networks map[string][]ChainEntry
	now      func() time.Time
}

var _ port.PriceFetcher = (*ProviderChain)(nil)

func NewProviderChain(networks map[string][]ChainEntry) *ProviderChain {
	cp := make(map[string][]ChainEntry, len(networks))
	for network, entries := range networks {
		list := make([]ChainEntry, 0, len(entries))
		for _, e := range entries {
			if e.Timeout <= 0 {
				e.Timeout = DefaultProviderTimeout
			}
			list = append(list, e)
		}
		cp[network] = list
	}
	return &ProviderChain{networks: cp, now: time.Now}
}

// Has 报告网络是否已配置
func (c *ProviderChain) Has(network string) bool {
	_, ok := c.networks[network]
	return ok
}

// Networks 返回已配置的网络（排序）
func (c *ProviderChain) Networks() []string {
	out := make([]string, 0, len(c.networks))
	for n := range c.networks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fetch 依次尝试各上游；全部失败时返回 *domain.NoProviderError
// 调用方 ctx 被取消时立即返回 ctx.Err()，不计为上游失败
func (c *ProviderChain) Fetch(ctx context.Context, network string) (domain.PriceSample, error) {
	entries, ok := c.networks[network]
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, network)
	}

	attempts := make([]*domain.ProviderError, 0, len(entries))
	for _, e := range entries {
		name := e.Provider.Name()
		sample, err := c.call(ctx, network, e)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.PriceSample{}, ctxErr
		}
		if err == nil {
			metrics.ProviderRequests.WithLabelValues(network, name, "ok").Inc()
			return sample, nil
		}

		pe := classify(network, name, err)
		attempts = append(attempts, pe)
		metrics.ProviderRequests.WithLabelValues(network, name, pe.Reason()).Inc()
		log.Warn().Str("network", network).Str("provider", name).Str("reason", pe.Reason()).Err(err).Msg("provider failed, trying next")
	}

	return domain.PriceSample{}, &domain.NoProviderError{Network: network, Attempts: attempts}
}

func (c *ProviderChain) call(ctx context.Context, network string, e ChainEntry) (domain.PriceSample, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	start := c.now()
	sample, err := e.Provider.Fetch(callCtx, network)
	metrics.ProviderDuration.WithLabelValues(e.Provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.PriceSample{}, fmt.Errorf("%w after %s: %v", domain.ErrProviderTimeout, e.Timeout, err)
		}
		return domain.PriceSample{}, err
	}

	// 统一网络与来源，再做结构校验
	sample.Network = network
	if sample.Source == "" {
		sample.Source = e.Provider.Name()
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = c.now()
	}
	sample.ObservedAt = sample.ObservedAt.UTC().Truncate(time.Millisecond)
	if err := sample.Validate(); err != nil {
		return domain.PriceSample{}, err
	}
	return sample, nil
}

func classify(network, provider string, err error) *domain.ProviderError {
	pe := &domain.ProviderError{Network: network, Provider: provider, Err: err}
	switch {
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		pe.Kind = domain.ErrProviderTimeout
	case errors.Is(err, domain.ErrProviderInvalidResponse):
		pe.Kind = domain.ErrProviderInvalidResponse
	}
	return pe
}
