package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// MemoryRepo is the default in-process history backend.
// Each network is an ordered map keyed by ObservedAt in milliseconds,
// so re-appending the same observation overwrites it.
type MemoryRepo struct {
	mu       sync.RWMutex
	networks map[string]*btree.Map[int64, domain.PriceSample]
}

var _ port.HistoryRepository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{networks: make(map[string]*btree.Map[int64, domain.PriceSample])}
}

func (r *MemoryRepo) Append(_ context.Context, s domain.PriceSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.networks[s.Network]
	if !ok {
		tr = btree.NewMap[int64, domain.PriceSample](0)
		r.networks[s.Network] = tr
	}
	tr.Set(s.ObservedAt.UnixMilli(), s)
	return nil
}

// Query returns samples with from <= observedAt <= to, ascending.
func (r *MemoryRepo) Query(_ context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PriceSample, 0)
	tr, ok := r.networks[network]
	if !ok {
		return out, nil
	}
	hi := to.UnixMilli()
	tr.Ascend(from.UnixMilli(), func(ms int64, s domain.PriceSample) bool {
		if ms > hi {
			return false
		}
		out = append(out, s)
		return true
	})
	return out, nil
}

func (r *MemoryRepo) DeleteBefore(_ context.Context, before time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := before.UnixMilli()
	for network, tr := range r.networks {
		var old []int64
		tr.Scan(func(ms int64, _ domain.PriceSample) bool {
			if ms >= cutoff {
				return false
			}
			old = append(old, ms)
			return true
		})
		for _, ms := range old {
			tr.Delete(ms)
		}
		if tr.Len() == 0 {
			delete(r.networks, network)
		}
	}
	return nil
}

// Len returns the number of stored samples for network.
func (r *MemoryRepo) Len(network string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tr, ok := r.networks[network]; ok {
		return tr.Len()
	}
	return 0
}

func (r *MemoryRepo) Close() error { return nil }
