package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"gasfeed/internal/domain"
)

// Strategy names a single multiplier source.
type Strategy string

const (
	StrategyWeight   Strategy = "weight"
	StrategyCategory Strategy = "category"
	StrategyActivity Strategy = "activity"
)

// Mode selects how strategies combine.
type Mode string

const (
	// ModeHybrid averages every active strategy (weighted arithmetic mean).
	ModeHybrid   Mode = "hybrid"
	ModeWeight   Mode = Mode(StrategyWeight)
	ModeCategory Mode = Mode(StrategyCategory)
	ModeActivity Mode = Mode(StrategyActivity)
)

var (
	weightKeys   = []string{"weight"}
	categoryKeys = []string{"category", "breed"}
	activityKeys = []string{"activity", "activityLevel", "activity_level"}
)

// AdjustmentConfig holds the tunables of AdjustmentCalculator.
type AdjustmentConfig struct {
	Mode           Mode
	WeightDivisor  decimal.Decimal
	ActivityFactor decimal.Decimal
	Categories     map[string]decimal.Decimal
	// Weights of each strategy in hybrid mode. Missing or non-positive means 1.
	Weights map[Strategy]decimal.Decimal
}

// DefaultAdjustmentConfig mirrors the multipliers the pet calculator shipped with.
func DefaultAdjustmentConfig() AdjustmentConfig {
	return AdjustmentConfig{
		Mode:           ModeHybrid,
		WeightDivisor:  decimal.NewFromInt(100),
		ActivityFactor: decimal.RequireFromString("0.2"),
		Categories: map[string]decimal.Decimal{
			"golden_retriever": decimal.RequireFromString("1.2"),
			"labrador":         decimal.RequireFromString("1.1"),
			"german_shepherd":  decimal.RequireFromString("1.3"),
		},
	}
}

// AdjustmentCalculator maps a sample and optional subject characteristics to a final price.
// It is pure and safe for concurrent use.
type AdjustmentCalculator struct {
	cfg AdjustmentConfig
}

func NewAdjustmentCalculator(cfg AdjustmentConfig) *AdjustmentCalculator {
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	if !cfg.WeightDivisor.IsPositive() {
		cfg.WeightDivisor = decimal.NewFromInt(100)
	}
	categories := make(map[string]decimal.Decimal, len(cfg.Categories))
	for k, v := range cfg.Categories {
		categories[strings.ToLower(strings.TrimSpace(k))] = v
	}
	cfg.Categories = categories
	return &AdjustmentCalculator{cfg: cfg}
}

// Adjust returns sample.Aggregate() scaled by the subject multiplier.
// nil or empty characteristics leave the aggregate unchanged.
func (c *AdjustmentCalculator) Adjust(sample domain.PriceSample, chars domain.Characteristics) decimal.Decimal {
	return sample.Aggregate().Mul(c.Multiplier(chars))
}

// Multiplier combines the active strategy multipliers according to the configured mode.
func (c *AdjustmentCalculator) Multiplier(chars domain.Characteristics) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if len(chars) == 0 {
		return one
	}

	switch c.cfg.Mode {
	case ModeWeight, ModeCategory, ModeActivity:
		m, active := c.strategy(Strategy(c.cfg.Mode), chars)
		if !active {
			return one
		}
		return m
	}

	sum := decimal.Zero
	total := decimal.Zero
	for _, s := range []Strategy{StrategyWeight, StrategyCategory, StrategyActivity} {
		m, active := c.strategy(s, chars)
		if !active {
			continue
		}
		w := c.weight(s)
		sum = sum.Add(m.Mul(w))
		total = total.Add(w)
	}
	if total.IsZero() {
		return one
	}
	return sum.Div(total)
}

// strategy returns the multiplier of s and whether its characteristic is present.
// Present but unusable values yield the neutral multiplier.
func (c *AdjustmentCalculator) strategy(s Strategy, chars domain.Characteristics) (decimal.Decimal, bool) {
	one := decimal.NewFromInt(1)
	switch s {
	case StrategyWeight:
		if !chars.Has(weightKeys...) {
			return one, false
		}
		w, ok := chars.Number(weightKeys...)
		if !ok || w.IsNegative() {
			return one, true
		}
		return one.Add(w.Div(c.cfg.WeightDivisor)), true

	case StrategyCategory:
		if !chars.Has(categoryKeys...) {
			return one, false
		}
		name, ok := chars.String(categoryKeys...)
		if !ok {
			return one, true
		}
		m, known := c.cfg.Categories[name]
		if !known || m.IsNegative() {
			return one, true
		}
		return m, true

	case StrategyActivity:
		if !chars.Has(activityKeys...) {
			return one, false
		}
		a, ok := chars.Number(activityKeys...)
		if !ok || a.IsNegative() {
			return one, true
		}
		return one.Add(a.Mul(c.cfg.ActivityFactor)), true
	}
	return one, false
}

func (c *AdjustmentCalculator) weight(s Strategy) decimal.Decimal {
	if w, ok := c.cfg.Weights[s]; ok && w.IsPositive() {
		return w
	}
	return decimal.NewFromInt(1)
}
