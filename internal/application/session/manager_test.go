package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"gasfeed/internal/application/subscription"
	"gasfeed/internal/domain"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []any
	closed  []CloseReason
	sendErr error
}

func (f *fakeTransport) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close(reason CloseReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, reason)
	return nil
}

func (f *fakeTransport) snapshot() ([]any, []CloseReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...), append([]CloseReason(nil), f.closed...)
}

type tokenVerifier map[string]domain.Identity

func (v tokenVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return domain.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

type networkSet map[string]bool

func (n networkSet) Has(network string) bool { return n[network] }

// countingMemberships records RemoveConnection calls per connection.
type countingMemberships struct {
	*subscription.Registry
	mu      sync.Mutex
	removes map[string]int
}

func newCountingMemberships() *countingMemberships {
	return &countingMemberships{Registry: subscription.NewRegistry(), removes: map[string]int{}}
}

func (c *countingMemberships) RemoveConnection(connID string) []domain.Topic {
	c.mu.Lock()
	c.removes[connID]++
	c.mu.Unlock()
	return c.Registry.RemoveConnection(connID)
}

func (c *countingMemberships) removals(connID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removes[connID]
}

func newTestManager(reg Memberships, opts ...Option) *Manager {
	var n atomic.Int64
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("conn-%d", n.Add(1))
	})}, opts...)
	return NewManager(
		tokenVerifier{"good": {Subject: "alice"}},
		nil,
		reg,
		networkSet{"ethereum": true, "polygon": true},
		opts...,
	)
}

func TestOpenRejectsBadToken(t *testing.T) {
	reg := subscription.NewRegistry()
	m := newTestManager(reg)

	for _, token := range []string{"", "forged"} {
		tr := &fakeTransport{}
		c, err := m.Open(context.Background(), token, tr)
		if !errors.Is(err, domain.ErrAuthenticationFailed) {
			t.Fatalf("token %q: expected ErrAuthenticationFailed, got %v", token, err)
		}
		if c != nil {
			t.Fatalf("token %q: expected no connection", token)
		}
		_, closed := tr.snapshot()
		if len(closed) != 1 || closed[0] != CloseAuthFailed {
			t.Fatalf("token %q: expected auth-failed close, got %v", token, closed)
		}
	}

	if m.Count() != 0 {
		t.Fatalf("rejected connections must not be registered")
	}
	if s := reg.Stats(); s.Memberships != 0 {
		t.Fatalf("expected empty registry, got %+v", s)
	}
}

func TestOpenActivatesConnection(t *testing.T) {
	m := newTestManager(subscription.NewRegistry())
	c, err := m.Open(context.Background(), "good", &fakeTransport{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.State() != StateActive {
		t.Fatalf("expected active, got %s", c.State())
	}
	if c.Identity().Subject != "alice" {
		t.Fatalf("identity not bound: %+v", c.Identity())
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", m.Count())
	}
}

func TestSubscribeValidatesNetwork(t *testing.T) {
	reg := subscription.NewRegistry()
	m := newTestManager(reg)
	c, _ := m.Open(context.Background(), "good", &fakeTransport{})

	err := m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "dogechain"})
	if !errors.Is(err, domain.ErrInvalidNetwork) {
		t.Fatalf("expected ErrInvalidNetwork, got %v", err)
	}
	if err := m.Unsubscribe(context.Background(), c.ID, domain.Topic{Network: "dogechain"}); !errors.Is(err, domain.ErrInvalidNetwork) {
		t.Fatalf("expected ErrInvalidNetwork on unsubscribe, got %v", err)
	}
	if s := reg.Stats(); s.Memberships != 0 {
		t.Fatalf("registry must stay empty, got %+v", s)
	}
}

func TestSubscribeChecksAuthorization(t *testing.T) {
	reg := subscription.NewRegistry()
	m := NewManager(
		tokenVerifier{"good": {Subject: "bob", Networks: []string{"polygon"}}},
		authorizeNetworks{},
		reg,
		networkSet{"ethereum": true, "polygon": true},
	)
	c, err := m.Open(context.Background(), "good", &fakeTransport{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "ethereum"}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "polygon"}); err != nil {
		t.Fatalf("subscribe polygon: %v", err)
	}
	if got := reg.TopicsOf(c.ID); len(got) != 1 || got[0].Network != "polygon" {
		t.Fatalf("unexpected topics %v", got)
	}
}

type authorizeNetworks struct{}

func (authorizeNetworks) Authorize(_ context.Context, id domain.Identity, topic domain.Topic) error {
	for _, n := range id.Networks {
		if n == topic.Network {
			return nil
		}
	}
	return domain.ErrNotAuthorized
}

func TestCloseIsIdempotentAndCleansUpOnce(t *testing.T) {
	reg := newCountingMemberships()
	m := newTestManager(reg)
	tr := &fakeTransport{}
	c, _ := m.Open(context.Background(), "good", tr)

	_ = m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "ethereum"})
	_ = m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "polygon", SubjectID: "pet-1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close(c.ID, CloseNormal)
		}()
	}
	wg.Wait()
	m.Close(c.ID, CloseNormal)

	if got := reg.removals(c.ID); got != 1 {
		t.Fatalf("expected exactly one RemoveConnection, got %d", got)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}
	if s := reg.Stats(); s.Memberships != 0 {
		t.Fatalf("expected no memberships, got %+v", s)
	}
	if m.Count() != 0 {
		t.Fatalf("expected no connections, got %d", m.Count())
	}
	_, closed := tr.snapshot()
	if len(closed) != 1 {
		t.Fatalf("transport should be closed once, got %v", closed)
	}
	if err := reg.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestClosedConnectionRejectsWork(t *testing.T) {
	m := newTestManager(subscription.NewRegistry())
	tr := &fakeTransport{}
	c, _ := m.Open(context.Background(), "good", tr)
	m.Close(c.ID, CloseNormal)

	if err := m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "ethereum"}); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	update := domain.PriceUpdate{Type: domain.MessageTypePriceUpdate, Network: "ethereum"}
	if err := m.Deliver(c.ID, update); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	sent, _ := tr.snapshot()
	if len(sent) != 0 {
		t.Fatalf("nothing may be delivered after close, got %v", sent)
	}
}

func TestDeliverSurfacesSlowConsumer(t *testing.T) {
	m := newTestManager(subscription.NewRegistry())
	tr := &fakeTransport{sendErr: domain.ErrSlowConsumer}
	c, _ := m.Open(context.Background(), "good", tr)

	err := m.Deliver(c.ID, domain.PriceUpdate{Network: "ethereum"})
	if !errors.Is(err, domain.ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
}

type fixedSnapshot struct {
	quote domain.Quote
	err   error
}

func (f fixedSnapshot) CurrentPrice(context.Context, string, string) (domain.Quote, error) {
	return f.quote, f.err
}

func TestSendSnapshot(t *testing.T) {
	q := domain.Quote{
		PriceSample: domain.PriceSample{Network: "ethereum", Source: "P1"},
		FinalPrice:  decimal.NewFromInt(27),
	}
	m := newTestManager(subscription.NewRegistry(), WithSnapshots(fixedSnapshot{quote: q}))
	tr := &fakeTransport{}
	c, _ := m.Open(context.Background(), "good", tr)

	topic := domain.Topic{Network: "ethereum"}
	if err := m.SendSnapshot(context.Background(), c.ID, topic); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	sent, _ := tr.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	u, ok := sent[0].(domain.PriceUpdate)
	if !ok || !u.FinalPrice.Equal(decimal.NewFromInt(27)) || u.Source != "P1" {
		t.Fatalf("unexpected snapshot %#v", sent[0])
	}
}

type recordingInvalidator struct {
	mu       sync.Mutex
	networks []string
}

func (r *recordingInvalidator) Invalidate(network string) {
	r.mu.Lock()
	r.networks = append(r.networks, network)
	r.mu.Unlock()
}

func TestInvalidateCache(t *testing.T) {
	inv := &recordingInvalidator{}
	m := NewManager(
		tokenVerifier{"good": {Subject: "bob", Networks: []string{"polygon"}}},
		authorizeNetworks{},
		subscription.NewRegistry(),
		networkSet{"ethereum": true, "polygon": true},
		WithInvalidator(inv),
	)
	c, err := m.Open(context.Background(), "good", &fakeTransport{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.InvalidateCache(context.Background(), c.ID, "dogechain"); !errors.Is(err, domain.ErrInvalidNetwork) {
		t.Fatalf("expected ErrInvalidNetwork, got %v", err)
	}
	if err := m.InvalidateCache(context.Background(), c.ID, "ethereum"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := m.InvalidateCache(context.Background(), c.ID, "polygon"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	m.Close(c.ID, CloseNormal)
	if err := m.InvalidateCache(context.Background(), c.ID, "polygon"); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.networks) != 1 || inv.networks[0] != "polygon" {
		t.Fatalf("unexpected invalidations %v", inv.networks)
	}
}

func TestCloseAll(t *testing.T) {
	reg := subscription.NewRegistry()
	m := newTestManager(reg)
	for i := 0; i < 5; i++ {
		c, _ := m.Open(context.Background(), "good", &fakeTransport{})
		_ = m.Subscribe(context.Background(), c.ID, domain.Topic{Network: "ethereum"})
	}

	m.CloseAll(CloseGoingAway)

	if m.Count() != 0 {
		t.Fatalf("expected 0 connections, got %d", m.Count())
	}
	if s := reg.Stats(); s != (subscription.Stats{}) {
		t.Fatalf("expected empty registry, got %+v", s)
	}
}
