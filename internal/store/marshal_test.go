package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfelder/loopline/internal/schedule"
)

func TestMarshalConfig_Canonical(t *testing.T) {
	got, err := marshalConfig(schedule.Config{
		FirstScheduleOnly: true,
		MaxSchedules:      1,
		SearchNodeBudget:  500,
	})
	require.NoError(t, err)

	// RFC 8785 sorted keys, no whitespace.
	assert.Equal(t,
		`{"allow_iname_duplication":false,"first_schedule_only":true,"max_schedules":1,"search_node_budget":500}`,
		got)
}

func TestUnmarshalConfig_RoundTrip(t *testing.T) {
	cfg := schedule.Config{
		FirstScheduleOnly:     false,
		MaxSchedules:          8,
		AllowInameDuplication: true,
		SearchNodeBudget:      12345,
	}

	text, err := marshalConfig(cfg)
	require.NoError(t, err)

	got, err := unmarshalConfig(text)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestUnmarshalConfig_Empty(t *testing.T) {
	got, err := unmarshalConfig("")
	require.NoError(t, err)
	assert.Equal(t, schedule.Config{}, got)
}

func TestParseItemKind(t *testing.T) {
	for _, kind := range []schedule.ItemKind{
		schedule.ItemEnterLoop, schedule.ItemLeaveLoop,
		schedule.ItemRunInsn, schedule.ItemBarrier,
	} {
		got, err := parseItemKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}

	_, err := parseItemKind("jump")
	assert.Error(t, err)
}

func TestParseBarrierScope(t *testing.T) {
	got, err := parseBarrierScope("local")
	require.NoError(t, err)
	assert.Equal(t, schedule.BarrierLocal, got)

	got, err = parseBarrierScope("global")
	require.NoError(t, err)
	assert.Equal(t, schedule.BarrierGlobal, got)

	got, err = parseBarrierScope("")
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = parseBarrierScope("warp")
	assert.Error(t, err)
}
