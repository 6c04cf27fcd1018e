package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Defaults(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	in := func(d time.Duration) *time.Time {
		tt := now.Add(d)
		return &tt
	}

	assert.Equal(t, Immediate, Classify(in(24*time.Hour), now, cfg))
	assert.Equal(t, Immediate, Classify(in(48*time.Hour), now, cfg))
	assert.Equal(t, High, Classify(in(72*time.Hour), now, cfg))
	assert.Equal(t, High, Classify(in(96*time.Hour), now, cfg))
	assert.Equal(t, Standard, Classify(in(120*time.Hour), now, cfg))
}

func TestClassify_PastDeadlineIsImmediate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	assert.Equal(t, Immediate, Classify(&past, now, DefaultConfig()))
}

func TestClassify_NilDeadline(t *testing.T) {
	assert.Equal(t, Standard, Classify(nil, time.Now(), DefaultConfig()))
}

func TestParseOverride(t *testing.T) {
	raw := `{"immediate":3600,"high":7200}`
	cfg := ParseOverride(&raw)
	assert.Equal(t, int64(3600), cfg.Immediate)
	assert.Equal(t, int64(7200), cfg.High)

	partial := `{"immediate":60}`
	cfg = ParseOverride(&partial)
	assert.Equal(t, int64(60), cfg.Immediate)
	assert.Equal(t, DefaultConfig().High, cfg.High)

	assert.Equal(t, DefaultConfig(), ParseOverride(nil))
	bad := "{"
	assert.Equal(t, DefaultConfig(), ParseOverride(&bad))
}
