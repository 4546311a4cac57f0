package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cfelder/loopline/internal/schedule"
	"github.com/cfelder/loopline/internal/store"
)

// Scenario defines one conformance scenario: a kernel description, a
// search configuration, the expected outcome and schedule assertions.
type Scenario struct {
	// Name uniquely identifies this scenario; it doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Source is the path of the CUE file holding the kernel description,
	// relative to the scenario file location.
	Source string `yaml:"source"`

	// Kernel names the kernel inside the source file to linearize.
	Kernel string `yaml:"kernel"`

	// Config adjusts the search configuration; zero fields keep the
	// engine defaults.
	Config ConfigClause `yaml:"config,omitempty"`

	// Expect states the required run outcome.
	Expect ExpectClause `yaml:"expect"`

	// Assertions validate the accepted schedules. Required for OK
	// outcomes; failure outcomes produce no schedules to assert on.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ConfigClause is the YAML shape of the search configuration.
type ConfigClause struct {
	// FirstScheduleOnly stops at the first accepting state. Left unset
	// it follows the engine default, except that max_schedules > 1
	// implies enumeration.
	FirstScheduleOnly *bool `yaml:"first_schedule_only,omitempty"`

	// MaxSchedules bounds enumeration; zero keeps the default.
	MaxSchedules int `yaml:"max_schedules,omitempty"`

	// AllowDuplication permits iname-duplication recovery.
	AllowDuplication bool `yaml:"allow_duplication,omitempty"`

	// Budget bounds search transitions; zero keeps the default.
	Budget int `yaml:"budget,omitempty"`
}

// scheduleConfig converts the clause to an engine configuration, with
// the same defaulting the linearize command applies.
func (c ConfigClause) scheduleConfig() schedule.Config {
	cfg := schedule.DefaultConfig()
	if c.MaxSchedules > 0 {
		cfg.MaxSchedules = c.MaxSchedules
		if c.MaxSchedules > 1 {
			cfg.FirstScheduleOnly = false
		}
	}
	if c.FirstScheduleOnly != nil {
		cfg.FirstScheduleOnly = *c.FirstScheduleOnly
	}
	cfg.AllowInameDuplication = c.AllowDuplication
	if c.Budget > 0 {
		cfg.SearchNodeBudget = c.Budget
	}
	return cfg
}

// ExpectClause states the required run outcome.
type ExpectClause struct {
	// Outcome is one of the run outcome labels: OK, STRUCTURAL_INVALID,
	// SCHEDULE_NOT_FOUND, SEARCH_EXHAUSTED, VALIDATION_FAILED or
	// NESTING_CONFLICT.
	Outcome string `yaml:"outcome"`

	// Stalled is the expected stalled instruction set for search
	// failures. Empty means unchecked.
	Stalled []string `yaml:"stalled,omitempty"`
}

// OutcomeConflict labels a nesting legality conflict the configuration
// did not allow recovering from. The store has no code for it because
// the linearize command files conflicts under its generic error code;
// scenarios want to pin them down exactly.
const OutcomeConflict = "NESTING_CONFLICT"

// Assertion validates the accepted schedules of a scenario.
type Assertion struct {
	// Type selects the assertion:
	//   - "schedule_order": run items appear in the given relative order
	//     in every accepted schedule
	//   - "schedule_contains": every accepted schedule contains an item
	//     with the given dump notation
	//   - "schedule_count": exactly Count schedules were accepted
	//   - "barrier_between": every schedule separates two runs with a
	//     barrier of at least the given scope
	//   - "loop_orders": both nestings of an iname pair occur across the
	//     schedule set
	Type string `yaml:"type"`

	// Item is the dump notation of a schedule item, e.g.
	// "barrier local/mem" (schedule_contains).
	Item string `yaml:"item,omitempty"`

	// Insns is the required relative run order (schedule_order).
	Insns []string `yaml:"insns,omitempty"`

	// Count is the exact number of accepted schedules (schedule_count).
	Count int `yaml:"count,omitempty"`

	// After and Before name the runs a barrier must separate, Scope its
	// minimum scope, "local" or "global" (barrier_between).
	After  string `yaml:"after,omitempty"`
	Before string `yaml:"before,omitempty"`
	Scope  string `yaml:"scope,omitempty"`

	// Inames is the loop pair that must appear in both nesting orders
	// across the schedule set (loop_orders).
	Inames []string `yaml:"inames,omitempty"`
}

// Assertion type constants.
const (
	AssertScheduleOrder    = "schedule_order"
	AssertScheduleContains = "schedule_contains"
	AssertScheduleCount    = "schedule_count"
	AssertBarrierBetween   = "barrier_between"
	AssertLoopOrders       = "loop_orders"
)

// LoadScenario reads and parses a scenario YAML file. The source path
// is resolved relative to the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the source path against basePath. Unknown YAML fields are
// rejected so field typos fail loudly instead of silently relaxing the
// scenario.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if scenario.Source != "" && !filepath.IsAbs(scenario.Source) && basePath != "" {
		scenario.Source = filepath.Join(basePath, scenario.Source)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

var knownOutcomes = map[string]bool{
	store.OutcomeOK:         true,
	store.OutcomeStructural: true,
	store.OutcomeNoSchedule: true,
	store.OutcomeExhausted:  true,
	store.OutcomeValidation: true,
	OutcomeConflict:         true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if s.Kernel == "" {
		return fmt.Errorf("kernel is required")
	}
	if _, err := os.Stat(s.Source); os.IsNotExist(err) {
		return fmt.Errorf("source file not found: %s", s.Source)
	}
	if s.Expect.Outcome == "" {
		return fmt.Errorf("expect.outcome is required")
	}
	if !knownOutcomes[s.Expect.Outcome] {
		return fmt.Errorf("expect.outcome: unknown outcome %q", s.Expect.Outcome)
	}
	if s.Config.MaxSchedules < 0 {
		return fmt.Errorf("config.max_schedules must be non-negative")
	}
	if s.Config.Budget < 0 {
		return fmt.Errorf("config.budget must be non-negative")
	}

	if s.Expect.Outcome == store.OutcomeOK {
		if len(s.Assertions) == 0 {
			return fmt.Errorf("assertions list is required for an OK outcome")
		}
	} else if len(s.Assertions) > 0 {
		return fmt.Errorf("assertions apply to accepted schedules; a %s outcome produces none", s.Expect.Outcome)
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertScheduleOrder:
		if len(a.Insns) < 2 {
			return fmt.Errorf("assertions[%d]: schedule_order needs at least two insns", index)
		}
	case AssertScheduleContains:
		if a.Item == "" {
			return fmt.Errorf("assertions[%d]: item is required for schedule_contains", index)
		}
	case AssertScheduleCount:
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: count must be positive for schedule_count", index)
		}
	case AssertBarrierBetween:
		if a.After == "" || a.Before == "" {
			return fmt.Errorf("assertions[%d]: after and before are required for barrier_between", index)
		}
		if a.Scope != "" && a.Scope != "local" && a.Scope != "global" {
			return fmt.Errorf("assertions[%d]: scope must be \"local\" or \"global\"", index)
		}
	case AssertLoopOrders:
		if len(a.Inames) != 2 {
			return fmt.Errorf("assertions[%d]: loop_orders needs exactly two inames", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
