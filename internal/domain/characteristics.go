package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Characteristics is the caller-owned attribute bag of a subject (a pet).
// Values come from config, JSON or a database row, so accessors accept several encodings.
type Characteristics map[string]any

// Number returns the attribute as a decimal. ok is false when missing or not numeric.
func (c Characteristics) Number(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, exists := c[k]
		if !exists || v == nil {
			continue
		}
		switch n := v.(type) {
		case decimal.Decimal:
			return n, true
		case float64:
			return decimal.NewFromFloat(n), true
		case float32:
			return decimal.NewFromFloat32(n), true
		case int:
			return decimal.NewFromInt(int64(n)), true
		case int64:
			return decimal.NewFromInt(n), true
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(n))
			if err != nil {
				return decimal.Zero, false
			}
			return d, true
		default:
			d, err := decimal.NewFromString(fmt.Sprint(n))
			if err != nil {
				return decimal.Zero, false
			}
			return d, true
		}
	}
	return decimal.Zero, false
}

// String returns the attribute as a lower-cased, trimmed string.
func (c Characteristics) String(keys ...string) (string, bool) {
	for _, k := range keys {
		v, exists := c[k]
		if !exists || v == nil {
			continue
		}
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		if s == "" {
			continue
		}
		return s, true
	}
	return "", false
}

// Has reports whether any of the keys is present with a non-nil value.
func (c Characteristics) Has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := c[k]; ok && v != nil {
			return true
		}
	}
	return false
}
