package schedule

// DefaultSearchNodeBudget bounds search transitions per run. It is the
// only cancellation mechanism: on exceeding it the engine returns what it
// has found so far, or a failure - never a partial schedule.
const DefaultSearchNodeBudget = 200_000

// Config holds the recognized linearization options. Configuration is
// explicit and per-call: there is no process-wide state, so concurrent
// linearization runs with different configurations stay independent.
type Config struct {
	// FirstScheduleOnly stops the search at the first accepting state.
	FirstScheduleOnly bool

	// MaxSchedules bounds enumeration when FirstScheduleOnly is off.
	// Callers wanting to rank schedules by an external cost function
	// raise this and pick from Result.Schedules.
	MaxSchedules int

	// AllowInameDuplication permits the iname-duplication recovery path
	// for contradictory nesting requirements.
	AllowInameDuplication bool

	// SearchNodeBudget bounds the number of search transitions; zero
	// means DefaultSearchNodeBudget.
	SearchNodeBudget int
}

// DefaultConfig returns the fast-path configuration: first schedule
// only, no duplication recovery, default budget.
func DefaultConfig() Config {
	return Config{
		FirstScheduleOnly: true,
		MaxSchedules:      1,
		SearchNodeBudget:  DefaultSearchNodeBudget,
	}
}

// normalized fills in defaulted fields.
func (c Config) normalized() Config {
	if c.SearchNodeBudget <= 0 {
		c.SearchNodeBudget = DefaultSearchNodeBudget
	}
	if c.MaxSchedules <= 0 {
		c.MaxSchedules = 1
	}
	if c.FirstScheduleOnly {
		c.MaxSchedules = 1
	}
	return c
}

// Override replaces the configuration in place and returns a restore
// function, giving callers a scoped acquire-then-restore mechanism
// instead of ambient toggles:
//
//	restore := cfg.Override(Config{MaxSchedules: 8})
//	defer restore()
func (c *Config) Override(next Config) (restore func()) {
	prev := *c
	*c = next
	return func() { *c = prev }
}

// canonicalMap renders the configuration for content-addressed run IDs.
func (c Config) canonicalMap() map[string]any {
	n := c.normalized()
	return map[string]any{
		"first_schedule_only":     n.FirstScheduleOnly,
		"max_schedules":           n.MaxSchedules,
		"allow_iname_duplication": n.AllowInameDuplication,
		"search_node_budget":      n.SearchNodeBudget,
	}
}
