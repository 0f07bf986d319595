package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// StaticProvider 返回配置中的固定价格，用于本地开发
type StaticProvider struct {
	name                   string
	base, priority, maxFee decimal.Decimal
	now                    func() time.Time
}

var _ port.Provider = (*StaticProvider)(nil)

func NewStaticProvider(cfg Config) (*StaticProvider, error) {
	parse := func(field, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("static %s %q: %w", field, v, err)
		}
		return d, nil
	}
	base, err := parse("base", cfg.Base)
	if err != nil {
		return nil, err
	}
	priority, err := parse("priority", cfg.Priority)
	if err != nil {
		return nil, err
	}
	maxFee, err := parse("max", cfg.Max)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "static"
	}
	return &StaticProvider{name: name, base: base, priority: priority, maxFee: maxFee, now: time.Now}, nil
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) Fetch(_ context.Context, network string) (domain.PriceSample, error) {
	return domain.NewPriceSample(network, p.name, p.base, p.priority, p.maxFee, nil, p.now()), nil
}
