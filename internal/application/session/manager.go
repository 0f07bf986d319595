package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

// CloseReason 连接关闭码与原因，沿用 WebSocket 关闭码语义
type CloseReason struct {
	Code int
	Text string
}

var (
	CloseNormal     = CloseReason{Code: 1000, Text: "normal closure"}
	CloseGoingAway  = CloseReason{Code: 1001, Text: "server shutting down"}
	CloseAuthFailed = CloseReason{Code: 1008, Text: "authentication failed"}
	CloseSlowClient = CloseReason{Code: 1013, Text: "slow consumer"}
)

// Transport 单条客户端连接的出站通道
// Send 必须非阻塞：缓冲区满时返回 domain.ErrSlowConsumer，已关闭时返回 domain.ErrConnectionClosed
type Transport interface {
	Send(msg any) error
	Close(reason CloseReason) error
}

// Memberships 订阅关系的存储（由 subscription.Registry 实现）
type Memberships interface {
	Subscribe(connID string, topic domain.Topic) bool
	Unsubscribe(connID string, topic domain.Topic) bool
	RemoveConnection(connID string) []domain.Topic
}

// NetworkSet 判断网络是否已配置
type NetworkSet interface {
	Has(network string) bool
}

// SnapshotSource 订阅成功后提供当前价格
type SnapshotSource interface {
	CurrentPrice(ctx context.Context, network, subjectID string) (domain.Quote, error)
}

// CacheInvalidator 丢弃网络的缓存价格（由 service.PriceCache 实现）
type CacheInvalidator interface {
	Invalidate(network string)
}

// Connection 一条客户端连接；state 只在 mu 下通过 Transition 变更
type Connection struct {
	ID string

	mu        sync.Mutex
	state     State
	identity  domain.Identity
	transport Transport
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Manager 管理连接生命周期：认证、激活、订阅、投递与关闭
type Manager struct {
	verifier    port.Verifier
	authorizer  port.Authorizer
	memberships Memberships
	networks    NetworkSet
	snapshots   SnapshotSource
	invalidator CacheInvalidator
	newID       func() string

	mu    sync.RWMutex
	conns map[string]*Connection
}

type Option func(*Manager)

// WithSnapshots 订阅成功后立即推送一次当前价格
func WithSnapshots(s SnapshotSource) Option {
	return func(m *Manager) { m.snapshots = s }
}

// WithInvalidator 允许客户端通过 blockUpdate 让网络缓存失效
func WithInvalidator(inv CacheInvalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

// WithIDGenerator 替换连接 ID 生成器（测试用）
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

func NewManager(verifier port.Verifier, authorizer port.Authorizer, memberships Memberships, networks NetworkSet, opts ...Option) *Manager {
	m := &Manager{
		verifier:    verifier,
		authorizer:  authorizer,
		memberships: memberships,
		networks:    networks,
		newID:       uuid.NewString,
		conns:       make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.authorizer == nil {
		m.authorizer = port.AuthorizerFunc(func(context.Context, domain.Identity, domain.Topic) error { return nil })
	}
	return m
}

// Open 认证新连接；失败时以 CloseAuthFailed 关闭传输并返回 domain.ErrAuthenticationFailed
func (m *Manager) Open(ctx context.Context, token string, transport Transport) (*Connection, error) {
	c := &Connection{ID: m.newID(), state: StateConnecting, transport: transport}

	var (
		id  domain.Identity
		err error
	)
	if strings.TrimSpace(token) == "" {
		err = errors.New("missing token")
	} else {
		id, err = m.verifier.Verify(ctx, token)
	}
	if err != nil {
		m.apply(c, EventAuthFailed, CloseAuthFailed)
		log.Info().Str("conn", c.ID).Err(err).Msg("connection rejected")
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	if err := m.apply(c, EventAuthSucceeded, CloseReason{}); err != nil {
		return nil, err
	}
	if err := m.apply(c, EventActivated, CloseReason{}); err != nil {
		return nil, err
	}
	log.Debug().Str("conn", c.ID).Str("subject", id.Subject).Msg("connection active")
	return c, nil
}

// Subscribe 校验网络与权限后登记订阅；连接非 Active 时返回 domain.ErrConnectionClosed
func (m *Manager) Subscribe(ctx context.Context, connID string, topic domain.Topic) error {
	if !m.networks.Has(topic.Network) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, topic.Network)
	}
	c := m.Get(connID)
	if c == nil {
		return domain.ErrConnectionClosed
	}
	if err := m.authorizer.Authorize(ctx, c.Identity(), topic); err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrNotAuthorized, err)
	}

	// 与关闭互斥：关闭后不会再留下订阅
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return domain.ErrConnectionClosed
	}
	m.memberships.Subscribe(c.ID, topic)
	return nil
}

func (m *Manager) Unsubscribe(_ context.Context, connID string, topic domain.Topic) error {
	if !m.networks.Has(topic.Network) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, topic.Network)
	}
	c := m.Get(connID)
	if c == nil {
		return domain.ErrConnectionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return domain.ErrConnectionClosed
	}
	m.memberships.Unsubscribe(c.ID, topic)
	return nil
}

// InvalidateCache 新区块到达时丢弃网络缓存，下一次读取重新获取
// 需要与订阅相同的网络权限
func (m *Manager) InvalidateCache(ctx context.Context, connID, network string) error {
	if !m.networks.Has(network) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidNetwork, network)
	}
	c := m.Get(connID)
	if c == nil || c.State() != StateActive {
		return domain.ErrConnectionClosed
	}
	if err := m.authorizer.Authorize(ctx, c.Identity(), domain.Topic{Network: network}); err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrNotAuthorized, err)
	}
	if m.invalidator == nil {
		return nil
	}
	m.invalidator.Invalidate(network)
	log.Debug().Str("conn", c.ID).Str("network", network).Msg("cache invalidated")
	return nil
}

// SendSnapshot 推送主题当前价格；无快照源时不做任何事
func (m *Manager) SendSnapshot(ctx context.Context, connID string, topic domain.Topic) error {
	if m.snapshots == nil {
		return nil
	}
	q, err := m.snapshots.CurrentPrice(ctx, topic.Network, topic.SubjectID)
	if err != nil && !errors.Is(err, domain.ErrStaleSample) {
		return err
	}
	return m.Deliver(connID, domain.NewPriceUpdate(topic, q.PriceSample, q.FinalPrice))
}

// Deliver 向连接投递一条更新，持有连接锁以保证关闭后不再投递
func (m *Manager) Deliver(connID string, update domain.PriceUpdate) error {
	c := m.Get(connID)
	if c == nil {
		return domain.ErrConnectionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return domain.ErrConnectionClosed
	}
	return c.transport.Send(update)
}

// Close 关闭连接，可被多条路径重复调用；清理只执行一次
func (m *Manager) Close(connID string, reason CloseReason) {
	c := m.Get(connID)
	if c == nil {
		return
	}
	if err := m.apply(c, EventDisconnected, reason); err != nil {
		log.Error().Err(err).Str("conn", connID).Msg("close failed")
	}
}

// CloseAll 关闭所有连接（优雅退出）
func (m *Manager) CloseAll(reason CloseReason) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id, reason)
	}
}

func (m *Manager) Get(connID string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[connID]
}

// Count 返回 Active 连接数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// IDs 返回当前连接 ID（排序）
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// apply 在连接锁内执行状态迁移，锁外执行副作用
func (m *Manager) apply(c *Connection, ev Event, reason CloseReason) error {
	c.mu.Lock()
	from := c.state
	next, effects, err := Transition(from, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.mu.Unlock()

	for _, eff := range effects {
		switch eff {
		case EffectRegister:
			m.mu.Lock()
			m.conns[c.ID] = c
			m.mu.Unlock()
			metrics.ActiveConnections.Inc()

		case EffectRemoveMemberships:
			left := m.memberships.RemoveConnection(c.ID)
			if len(left) > 0 {
				log.Debug().Str("conn", c.ID).Int("topics", len(left)).Msg("memberships removed")
			}

		case EffectUnregister:
			m.mu.Lock()
			delete(m.conns, c.ID)
			m.mu.Unlock()
			metrics.ActiveConnections.Dec()

		case EffectCloseTransport:
			if err := c.transport.Close(reason); err != nil {
				log.Debug().Err(err).Str("conn", c.ID).Msg("transport close")
			}
		}
	}
	if from != next {
		log.Debug().Str("conn", c.ID).Stringer("from", from).Stringer("to", next).Msg("connection state")
	}
	return nil
}
