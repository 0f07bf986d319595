package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"gasfeed/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mkSample(network, source, base, priority, maxFee string) domain.PriceSample {
	return domain.NewPriceSample(network, source, dec(base), dec(priority), dec(maxFee), nil, t0)
}

// fakeProvider returns a fixed sample or error, or blocks until ctx is done.
type fakeProvider struct {
	name   string
	sample domain.PriceSample
	err    error
	block  bool
	calls  atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, network string) (domain.PriceSample, error) {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return domain.PriceSample{}, ctx.Err()
	}
	if p.err != nil {
		return domain.PriceSample{}, p.err
	}
	return p.sample, nil
}

// fakeFetcher counts calls and optionally waits on gate before answering.
type fakeFetcher struct {
	mu      sync.Mutex
	samples map[string]domain.PriceSample
	errs    map[string]error
	gate    chan struct{}
	started chan string
	calls   atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{samples: map[string]domain.PriceSample{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(network string, s domain.PriceSample, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[network] = s
	f.errs[network] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, network string) (domain.PriceSample, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- network
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[network]; err != nil {
		return domain.PriceSample{}, err
	}
	return f.samples[network], nil
}

// memHistory is an in-test HistoryRepository keyed by (network, ms).
type memHistory struct {
	mu      sync.Mutex
	rows    map[string]map[int64]domain.PriceSample
	appends atomic.Int32
	closed  bool
}

func newMemHistory() *memHistory {
	return &memHistory{rows: map[string]map[int64]domain.PriceSample{}}
}

func (m *memHistory) Append(_ context.Context, s domain.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends.Add(1)
	if m.rows[s.Network] == nil {
		m.rows[s.Network] = map[int64]domain.PriceSample{}
	}
	m.rows[s.Network][s.ObservedAt.UnixMilli()] = s
	return nil
}

func (m *memHistory) Query(_ context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceSample
	for _, s := range m.rows[network] {
		if !s.ObservedAt.Before(from) && !s.ObservedAt.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (m *memHistory) DeleteBefore(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rows := range m.rows {
		for k, s := range rows {
			if s.ObservedAt.Before(before) {
				delete(rows, k)
			}
		}
	}
	return nil
}

func (m *memHistory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// recordingDeliverer captures deliveries per connection.
type recordingDeliverer struct {
	mu   sync.Mutex
	got  map[string][]domain.PriceUpdate
	errs map[string]error
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{got: map[string][]domain.PriceUpdate{}, errs: map[string]error{}}
}

func (d *recordingDeliverer) Deliver(connID string, u domain.PriceUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[connID]; err != nil {
		return err
	}
	d.got[connID] = append(d.got[connID], u)
	return nil
}

func (d *recordingDeliverer) updates(connID string) []domain.PriceUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.PriceUpdate(nil), d.got[connID]...)
}

func (d *recordingDeliverer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.got {
		n += len(u)
	}
	return n
}

type staticLookup map[string]domain.Characteristics

func (l staticLookup) Characteristics(_ context.Context, id string) (domain.Characteristics, bool, error) {
	c, ok := l[id]
	return c, ok, nil
}

type networks []string

func (n networks) Has(network string) bool {
	for _, x := range n {
		if x == network {
			return true
		}
	}
	return false
}

func (n networks) Networks() []string { return n }
