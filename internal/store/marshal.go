package store

import (
	"encoding/json"
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/schedule"
)

// marshalConfig serializes a run configuration to canonical JSON TEXT
// per RFC 8785, so identical configurations compare byte-equal in
// golden traces and across replays.
func marshalConfig(cfg schedule.Config) (string, error) {
	data, err := kernel.MarshalCanonical(map[string]any{
		"first_schedule_only":     cfg.FirstScheduleOnly,
		"max_schedules":           cfg.MaxSchedules,
		"allow_iname_duplication": cfg.AllowInameDuplication,
		"search_node_budget":      cfg.SearchNodeBudget,
	})
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

type configJSON struct {
	FirstScheduleOnly     bool `json:"first_schedule_only"`
	MaxSchedules          int  `json:"max_schedules"`
	AllowInameDuplication bool `json:"allow_iname_duplication"`
	SearchNodeBudget      int  `json:"search_node_budget"`
}

// unmarshalConfig parses the stored configuration TEXT.
func unmarshalConfig(data string) (schedule.Config, error) {
	if data == "" || data == "{}" {
		return schedule.Config{}, nil
	}
	var cj configJSON
	if err := json.Unmarshal([]byte(data), &cj); err != nil {
		return schedule.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return schedule.Config{
		FirstScheduleOnly:     cj.FirstScheduleOnly,
		MaxSchedules:          cj.MaxSchedules,
		AllowInameDuplication: cj.AllowInameDuplication,
		SearchNodeBudget:      cj.SearchNodeBudget,
	}, nil
}

// parseItemKind inverts schedule.ItemKind.String for read-back.
func parseItemKind(s string) (schedule.ItemKind, error) {
	switch s {
	case "enter":
		return schedule.ItemEnterLoop, nil
	case "leave":
		return schedule.ItemLeaveLoop, nil
	case "run":
		return schedule.ItemRunInsn, nil
	case "barrier":
		return schedule.ItemBarrier, nil
	}
	return 0, fmt.Errorf("unknown schedule item kind %q", s)
}

// parseBarrierScope inverts schedule.BarrierScope.String. The empty
// string is valid for non-barrier items.
func parseBarrierScope(s string) (schedule.BarrierScope, error) {
	switch s {
	case "":
		return 0, nil
	case "local":
		return schedule.BarrierLocal, nil
	case "global":
		return schedule.BarrierGlobal, nil
	}
	return 0, fmt.Errorf("unknown barrier scope %q", s)
}

// scopeText renders the scope column value for an item row.
func scopeText(it schedule.Item) string {
	if it.Kind != schedule.ItemBarrier {
		return ""
	}
	return it.Scope.String()
}
