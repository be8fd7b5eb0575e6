// Package rules holds the fixed pricing tables served by the policy service.
package rules

import (
	"strings"

	"taskflow/pkg/config"

	"github.com/shopspring/decimal"
)

var defaultRates = map[string]string{
	"ID": "0.11",
	"MY": "0.08",
	"SG": "0.08",
	"US": "0.00",
	"GB": "0.20",
	"DE": "0.19",
}

const (
	defaultSurchargeBase = "3.50"
	defaultSurchargeUnit = "2.25"
	defaultFeeBase       = "100.0"
	defaultFeePerUnit    = "50.0"
	defaultMaxUnits      = 24
)

type Rules struct {
	rates         map[string]decimal.Decimal
	surchargeBase decimal.Decimal
	surchargeUnit decimal.Decimal
	feeBase       decimal.Decimal
	feePerUnit    decimal.Decimal
	maxUnits      int
}

func Default() *Rules { return New(config.RulesConfig{}) }

// New builds the tables from cfg. Zero or empty fields keep their defaults;
// configured rates are merged over the default table.
func New(cfg config.RulesConfig) *Rules {
	r := &Rules{
		rates:         make(map[string]decimal.Decimal, len(defaultRates)+len(cfg.Rates)),
		surchargeBase: decimal.RequireFromString(defaultSurchargeBase),
		surchargeUnit: decimal.RequireFromString(defaultSurchargeUnit),
		feeBase:       decimal.RequireFromString(defaultFeeBase),
		feePerUnit:    decimal.RequireFromString(defaultFeePerUnit),
		maxUnits:      defaultMaxUnits,
	}
	for code, v := range defaultRates {
		r.rates[code] = decimal.RequireFromString(v)
	}
	for code, v := range cfg.Rates {
		r.rates[CategoryCode(code)] = decimal.NewFromFloat(v)
	}
	if cfg.SurchargeBase > 0 {
		r.surchargeBase = decimal.NewFromFloat(cfg.SurchargeBase)
	}
	if cfg.SurchargeUnit > 0 {
		r.surchargeUnit = decimal.NewFromFloat(cfg.SurchargeUnit)
	}
	if cfg.FeeBase > 0 {
		r.feeBase = decimal.NewFromFloat(cfg.FeeBase)
	}
	if cfg.FeePerUnit > 0 {
		r.feePerUnit = decimal.NewFromFloat(cfg.FeePerUnit)
	}
	if cfg.MaxUnits > 0 {
		r.maxUnits = cfg.MaxUnits
	}
	return r
}

func CategoryCode(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Rate looks up a category code. Unknown codes rate at zero.
func (r *Rules) Rate(category string) decimal.Decimal {
	if v, ok := r.rates[CategoryCode(category)]; ok {
		return v
	}
	return decimal.Zero
}

// Surcharge is base + unit*metric rounded to cents, and zero for metric <= 0.
func (r *Rules) Surcharge(metric decimal.Decimal) decimal.Decimal {
	if !metric.IsPositive() {
		return decimal.Zero
	}
	return r.surchargeBase.Add(r.surchargeUnit.Mul(metric)).Round(2)
}

// Fee is feeBase + feePerUnit*count with count clamped at zero.
func (r *Rules) Fee(count int) decimal.Decimal {
	if count < 0 {
		count = 0
	}
	return r.feeBase.Add(r.feePerUnit.Mul(decimal.NewFromInt(int64(count)))).Round(2)
}

func (r *Rules) MaxUnits() int { return r.maxUnits }
