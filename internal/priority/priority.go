// Package priority classifies job urgency from the time remaining until the
// deadline, against per-service configurable thresholds.
package priority

import (
	"encoding/json"
	"time"
)

type Priority string

const (
	Immediate Priority = "Immediate"
	High      Priority = "High"
	Standard  Priority = "Standard"
)

// Config holds the classification thresholds in seconds of remaining time.
type Config struct {
	Immediate int64 `json:"immediate"`
	High      int64 `json:"high"`
}

// DefaultConfig: Immediate within 2 days, High within 4 days.
func DefaultConfig() Config {
	return Config{Immediate: 172800, High: 345600}
}

// ParseOverride merges a stored per-service JSON override over the defaults.
func ParseOverride(raw *string) Config {
	cfg := DefaultConfig()
	if raw == nil || *raw == "" {
		return cfg
	}
	var o struct {
		Immediate *int64 `json:"immediate"`
		High      *int64 `json:"high"`
	}
	if err := json.Unmarshal([]byte(*raw), &o); err != nil {
		return cfg
	}
	if o.Immediate != nil {
		cfg.Immediate = *o.Immediate
	}
	if o.High != nil {
		cfg.High = *o.High
	}
	return cfg
}

// Classify buckets a deadline relative to now. A nil deadline is Standard.
func Classify(deadline *time.Time, now time.Time, cfg Config) Priority {
	if deadline == nil {
		return Standard
	}
	remaining := int64(deadline.Sub(now) / time.Second)
	if remaining <= cfg.Immediate {
		return Immediate
	}
	if remaining <= cfg.High {
		return High
	}
	return Standard
}
