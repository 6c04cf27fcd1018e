// Package fee computes the platform commission ("bird fee") from a tiered
// bracket configuration stored per service.
package fee

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type FeeType string

const (
	Fixed      FeeType = "FIXED"
	Percentage FeeType = "PERCENTAGE"
)

// Bracket is one fee tier. Nil MinBudget means 0, nil MaxBudget means
// unbounded.
type Bracket struct {
	MinBudget *decimal.Decimal `json:"minBudget,omitempty"`
	MaxBudget *decimal.Decimal `json:"maxBudget,omitempty"`
	FeeType   FeeType          `json:"feeType"`
	FeeValue  decimal.Decimal  `json:"feeValue"`
}

type Config struct {
	FeeStructure []Bracket `json:"feeStructure"`
}

var hundred = decimal.NewFromInt(100)

// Parse decodes a stored JSON fee configuration. A nil or empty raw value
// yields a nil config, which Calculate treats as zero fee.
func Parse(raw *string) *Config {
	if raw == nil || *raw == "" {
		return nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(*raw), &cfg); err != nil {
		return nil
	}
	return &cfg
}

// Calculate returns the fee owed for budget under cfg. The first bracket
// whose min <= budget <= max applies; if none matches, the last bracket in
// the list is the documented fallback. Missing or malformed config returns
// zero, never an error.
func Calculate(budget decimal.Decimal, cfg *Config) decimal.Decimal {
	if cfg == nil || len(cfg.FeeStructure) == 0 {
		return decimal.Zero
	}
	for _, b := range cfg.FeeStructure {
		if matches(budget, b) {
			return apply(budget, b)
		}
	}
	return apply(budget, cfg.FeeStructure[len(cfg.FeeStructure)-1])
}

func matches(budget decimal.Decimal, b Bracket) bool {
	min := decimal.Zero
	if b.MinBudget != nil {
		min = *b.MinBudget
	}
	if budget.LessThan(min) {
		return false
	}
	if b.MaxBudget != nil && budget.GreaterThan(*b.MaxBudget) {
		return false
	}
	return true
}

func apply(budget decimal.Decimal, b Bracket) decimal.Decimal {
	switch b.FeeType {
	case Fixed:
		return b.FeeValue
	case Percentage:
		return budget.Mul(b.FeeValue).Div(hundred)
	}
	return decimal.Zero
}
