package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gasfeed/internal/domain"
)

func at(network string, ts time.Time, base int64) domain.PriceSample {
	return domain.NewPriceSample(network, "P1", decimal.NewFromInt(base), decimal.NewFromInt(1), decimal.NewFromInt(2), nil, ts)
}

func TestMemoryRepoAppendIsIdempotent(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 678_900_000, time.UTC)

	for i := 0; i < 3; i++ {
		if err := r.Append(ctx, at("ethereum", ts, 20)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if n := r.Len("ethereum"); n != 1 {
		t.Fatalf("expected one stored sample, got %d", n)
	}

	got, err := r.Query(ctx, "ethereum", ts, ts)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || !got[0].BasePrice.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestMemoryRepoQueryRangeAndOrder(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// insert out of order
	for _, i := range []int{4, 0, 2, 1, 3} {
		_ = r.Append(ctx, at("polygon", base.Add(time.Duration(i)*time.Minute), int64(i)))
	}
	_ = r.Append(ctx, at("ethereum", base.Add(time.Minute), 99))

	got, _ := r.Query(ctx, "polygon", base.Add(time.Minute), base.Add(3*time.Minute))
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, s := range got {
		if !s.BasePrice.Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("sample %d out of order: %s", i, s.BasePrice)
		}
	}

	empty, _ := r.Query(ctx, "bsc", base, base.Add(time.Hour))
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestMemoryRepoDeleteBefore(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = r.Append(ctx, at("ethereum", base.Add(time.Duration(i)*time.Hour), int64(i)))
	}
	_ = r.Append(ctx, at("bsc", base, 1))

	if err := r.DeleteBefore(ctx, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := r.Len("ethereum"); n != 3 {
		t.Fatalf("expected 3 samples left, got %d", n)
	}
	if n := r.Len("bsc"); n != 0 {
		t.Fatalf("expected bsc pruned, got %d", n)
	}
}
