package port

import (
	"context"
	"time"

	"gasfeed/internal/domain"
)

type HistoryRepository interface {
	// Append stores a sample. Same network + observedAt overwrites, never duplicates.
	Append(ctx context.Context, sample domain.PriceSample) error

	// Query returns samples with from <= observedAt <= to, ascending.
	Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error)

	// DeleteBefore removes samples observed before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error

	Close() error
}

// LatestMirror receives every freshly fetched sample for out-of-process readers.
type LatestMirror interface {
	UpsertLatest(ctx context.Context, sample domain.PriceSample) error
}
