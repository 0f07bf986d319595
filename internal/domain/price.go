package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one normalized gas price observation produced by a single upstream provider.
type PriceSample struct {
	Network     string          `json:"network"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	PriorityFee decimal.Decimal `json:"priorityFee"`
	MaxFee      decimal.Decimal `json:"maxFee"`
	BlockNumber *uint64         `json:"blockNumber,omitempty"`
	ObservedAt  time.Time       `json:"observedAt"`
	Source      string          `json:"source"`
}

// NewPriceSample builds a sample with ObservedAt truncated to millisecond precision,
// the resolution every history backend stores.
func NewPriceSample(network, source string, base, priority, maxFee decimal.Decimal, block *uint64, observedAt time.Time) PriceSample {
	return PriceSample{
		Network:     network,
		BasePrice:   base,
		PriorityFee: priority,
		MaxFee:      maxFee,
		BlockNumber: block,
		ObservedAt:  observedAt.UTC().Truncate(time.Millisecond),
		Source:      source,
	}
}

// Aggregate is base + priority + max, the unadjusted price every subject-less topic receives.
func (s PriceSample) Aggregate() decimal.Decimal {
	return s.BasePrice.Add(s.PriorityFee).Add(s.MaxFee)
}

// Validate reports whether the sample is structurally usable.
func (s PriceSample) Validate() error {
	if s.Network == "" {
		return fmt.Errorf("%w: empty network", ErrProviderInvalidResponse)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observation time", ErrProviderInvalidResponse)
	}
	fields := []struct {
		name string
		v    decimal.Decimal
	}{
		{"basePrice", s.BasePrice},
		{"priorityFee", s.PriorityFee},
		{"maxFee", s.MaxFee},
	}
	for _, f := range fields {
		if f.v.IsNegative() {
			return fmt.Errorf("%w: %s is negative (%s)", ErrProviderInvalidResponse, f.name, f.v)
		}
	}
	return nil
}

// Topic is a (network, optional subject) pair connections subscribe to.
// An empty SubjectID means no subject.
type Topic struct {
	Network   string `json:"network"`
	SubjectID string `json:"subjectId,omitempty"`
}

func (t Topic) String() string {
	if t.SubjectID == "" {
		return t.Network
	}
	return t.Network + ":" + t.SubjectID
}

func (t Topic) HasSubject() bool { return t.SubjectID != "" }

// PriceUpdate is the message pushed to subscribed connections.
type PriceUpdate struct {
	Type       string          `json:"type"`
	Network    string          `json:"network"`
	SubjectID  string          `json:"subjectId,omitempty"`
	FinalPrice decimal.Decimal `json:"finalPrice"`
	ObservedAt time.Time       `json:"observedAt"`
	Source     string          `json:"source"`
}

const MessageTypePriceUpdate = "priceUpdate"

func NewPriceUpdate(topic Topic, sample PriceSample, finalPrice decimal.Decimal) PriceUpdate {
	return PriceUpdate{
		Type:       MessageTypePriceUpdate,
		Network:    topic.Network,
		SubjectID:  topic.SubjectID,
		FinalPrice: finalPrice,
		ObservedAt: sample.ObservedAt,
		Source:     sample.Source,
	}
}

// Quote is the on-demand answer of the query surface.
type Quote struct {
	PriceSample
	SubjectID  string          `json:"subjectId,omitempty"`
	FinalPrice decimal.Decimal `json:"finalPrice"`
	Stale      bool            `json:"stale,omitempty"`
}

// Identity is the verified principal bound to a connection.
type Identity struct {
	Subject string
	// Networks restricts subscriptions when non-empty.
	Networks []string
}
