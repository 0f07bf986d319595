package port

import (
	"context"

	"gasfeed/internal/domain"
)

// Provider is one upstream gas price source for a network.
// Implementations normalize their response shape into a PriceSample.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, network string) (domain.PriceSample, error)
}

// PriceFetcher fetches a sample for a network, e.g. the ordered provider chain.
type PriceFetcher interface {
	Fetch(ctx context.Context, network string) (domain.PriceSample, error)
}
