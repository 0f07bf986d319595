package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gasfeed/internal/domain"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "data", "gas.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sample(network string, ts time.Time, base string) domain.PriceSample {
	block := uint64(19_000_000)
	return domain.NewPriceSample(network, "etherscan",
		decimal.RequireFromString(base), decimal.RequireFromString("1.25"), decimal.RequireFromString("40.000000001"),
		&block, ts)
}

func TestSQLiteRepoRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 10, 0, 0, 123_000_000, time.UTC)

	if err := repo.Append(ctx, sample("ethereum", ts, "20.5")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := repo.Query(ctx, "ethereum", ts, ts)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	s := got[0]
	if !s.ObservedAt.Equal(ts) {
		t.Errorf("observedAt: got %s want %s", s.ObservedAt, ts)
	}
	if !s.BasePrice.Equal(decimal.RequireFromString("20.5")) || !s.MaxFee.Equal(decimal.RequireFromString("40.000000001")) {
		t.Errorf("prices lost precision: %+v", s)
	}
	if s.BlockNumber == nil || *s.BlockNumber != 19_000_000 {
		t.Errorf("block number: %v", s.BlockNumber)
	}
	if s.Source != "etherscan" || s.Network != "ethereum" {
		t.Errorf("unexpected source/network: %s/%s", s.Source, s.Network)
	}
}

func TestSQLiteRepoAppendIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, sample("ethereum", ts, "20")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	got, err := repo.Query(ctx, "ethereum", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one stored sample, got %d", len(got))
	}
}

func TestSQLiteRepoQueryOrderAndBounds(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, i := range []int{3, 1, 0, 2} {
		if err := repo.Append(ctx, sample("polygon", base.Add(time.Duration(i)*time.Minute), "1")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	_ = repo.Append(ctx, sample("ethereum", base.Add(time.Minute), "9"))

	got, err := repo.Query(ctx, "polygon", base.Add(time.Minute), base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if !got[0].ObservedAt.Before(got[1].ObservedAt) {
		t.Errorf("results not ascending: %s, %s", got[0].ObservedAt, got[1].ObservedAt)
	}

	none, err := repo.Query(ctx, "bsc", base, base.Add(time.Hour))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", none, err)
	}
}

func TestSQLiteRepoDeleteBefore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_ = repo.Append(ctx, sample("ethereum", base.Add(time.Duration(i)*time.Hour), "1"))
	}

	if err := repo.DeleteBefore(ctx, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	got, _ := repo.Query(ctx, "ethereum", base, base.Add(24*time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples left, got %d", len(got))
	}
}
