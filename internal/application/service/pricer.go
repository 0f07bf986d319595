package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	domainservice "gasfeed/internal/domain/service"
)

// Pricer 将样本与主题（可选对象）映射为最终价格
type Pricer struct {
	calc   *domainservice.AdjustmentCalculator
	lookup port.CharacteristicsLookup
}

// NewPricer lookup 为 nil 时所有主题都使用未调整的聚合价
func NewPricer(calc *domainservice.AdjustmentCalculator, lookup port.CharacteristicsLookup) *Pricer {
	if calc == nil {
		calc = domainservice.NewAdjustmentCalculator(domainservice.DefaultAdjustmentConfig())
	}
	return &Pricer{calc: calc, lookup: lookup}
}

// Price 对象特征未知或查询失败时退化为聚合价
func (p *Pricer) Price(ctx context.Context, topic domain.Topic, sample domain.PriceSample) decimal.Decimal {
	if !topic.HasSubject() || p.lookup == nil {
		return sample.Aggregate()
	}
	chars, found, err := p.lookup.Characteristics(ctx, topic.SubjectID)
	if err != nil {
		log.Warn().Err(err).Str("subject", topic.SubjectID).Msg("characteristics lookup failed, using aggregate")
		return sample.Aggregate()
	}
	if !found {
		return sample.Aggregate()
	}
	return p.calc.Adjust(sample, chars)
}
