package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

// DefaultCacheTTL 默认缓存有效期
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	sample    domain.PriceSample
	expiresAt time.Time
}

// PriceCache 按网络缓存最新样本；同一网络的并发未命中只触发一次上游获取
type PriceCache struct {
	fetcher    port.PriceFetcher
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	mirror     port.LatestMirror
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type CacheOption func(*PriceCache)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) CacheOption {
	return func(c *PriceCache) { c.now = now }
}

// WithNetworkTTL 覆盖单个网络的有效期
func WithNetworkTTL(network string, ttl time.Duration) CacheOption {
	return func(c *PriceCache) {
		if ttl > 0 {
			c.ttls[network] = ttl
		}
	}
}

// WithMirror 每次成功获取后写入外部最新值（例如 Redis）
func WithMirror(m port.LatestMirror) CacheOption {
	return func(c *PriceCache) { c.mirror = m }
}

func NewPriceCache(fetcher port.PriceFetcher, defaultTTL time.Duration, opts ...CacheOption) *PriceCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	c := &PriceCache{
		fetcher:    fetcher,
		defaultTTL: defaultTTL,
		ttls:       make(map[string]time.Duration),
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL 返回网络的有效期
func (c *PriceCache) TTL(network string) time.Duration {
	if ttl, ok := c.ttls[network]; ok {
		return ttl
	}
	return c.defaultTTL
}

// GetOrFetch 命中未过期条目则直接返回，否则合并到同一次上游获取。
// 获取失败且存在旧值时返回旧值与 *domain.StaleError；调用方 ctx 取消只影响自身等待。
func (c *PriceCache) GetOrFetch(ctx context.Context, network string) (domain.PriceSample, error) {
	if s, ok := c.fresh(network); ok {
		metrics.CacheLookups.WithLabelValues(network, "hit").Inc()
		return s, nil
	}

	ch := c.group.DoChan(network, func() (any, error) {
		// 等待期间可能已有其他获取完成
		if s, ok := c.fresh(network); ok {
			return s, nil
		}
		s, err := c.fetcher.Fetch(context.WithoutCancel(ctx), network)
		if err != nil {
			return nil, err
		}
		c.store(s)
		c.mirrorLatest(ctx, s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return domain.PriceSample{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if stale, ok := c.peek(network); ok && !errors.Is(res.Err, domain.ErrInvalidNetwork) {
				metrics.CacheLookups.WithLabelValues(network, "stale").Inc()
				return stale.sample, &domain.StaleError{Network: network, Err: res.Err}
			}
			metrics.CacheLookups.WithLabelValues(network, "error").Inc()
			return domain.PriceSample{}, res.Err
		}
		result := "fetch"
		if res.Shared {
			result = "shared"
		}
		metrics.CacheLookups.WithLabelValues(network, result).Inc()
		return res.Val.(domain.PriceSample), nil
	}
}

// Peek 返回当前条目（可能已过期），不触发获取
func (c *PriceCache) Peek(network string) (domain.PriceSample, time.Time, bool) {
	e, ok := c.peek(network)
	return e.sample, e.expiresAt, ok
}

// Invalidate 丢弃网络的缓存条目
func (c *PriceCache) Invalidate(network string) {
	c.mu.Lock()
	delete(c.entries, network)
	c.mu.Unlock()
}

func (c *PriceCache) fresh(network string) (domain.PriceSample, bool) {
	e, ok := c.peek(network)
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.PriceSample{}, false
	}
	return e.sample, true
}

func (c *PriceCache) peek(network string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[network]
	return e, ok
}

func (c *PriceCache) store(s domain.PriceSample) {
	c.mu.Lock()
	c.entries[s.Network] = cacheEntry{sample: s, expiresAt: c.now().Add(c.TTL(s.Network))}
	c.mu.Unlock()
	metrics.GasPrice.WithLabelValues(s.Network, s.Source).Set(s.Aggregate().InexactFloat64())
}

func (c *PriceCache) mirrorLatest(ctx context.Context, s domain.PriceSample) {
	if c.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.mirror.UpsertLatest(mctx, s); err != nil {
		log.Warn().Err(err).Str("network", s.Network).Msg("latest mirror write failed")
	}
}
