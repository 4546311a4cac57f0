package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.FirstScheduleOnly)
	assert.Equal(t, 1, cfg.MaxSchedules)
	assert.False(t, cfg.AllowInameDuplication)
	assert.Equal(t, DefaultSearchNodeBudget, cfg.SearchNodeBudget)
}

func TestConfig_NormalizedFillsZeroes(t *testing.T) {
	n := Config{}.normalized()
	assert.Equal(t, 1, n.MaxSchedules)
	assert.Equal(t, DefaultSearchNodeBudget, n.SearchNodeBudget)
}

func TestConfig_FirstScheduleOnlyCapsMaxSchedules(t *testing.T) {
	n := Config{FirstScheduleOnly: true, MaxSchedules: 10}.normalized()
	assert.Equal(t, 1, n.MaxSchedules)
}

func TestConfig_OverrideRestores(t *testing.T) {
	cfg := DefaultConfig()
	restore := cfg.Override(Config{MaxSchedules: 8})

	assert.Equal(t, 8, cfg.MaxSchedules)
	assert.False(t, cfg.FirstScheduleOnly)

	restore()
	assert.Equal(t, DefaultConfig(), cfg)
}
