// Package harness runs YAML-defined linearization scenarios against the
// engine and checks the accepted schedules with declarative assertions
// and golden files.
//
// A scenario names a CUE kernel description, a search configuration, the
// expected run outcome and a set of schedule assertions:
//
//	name: chain-flow-order
//	description: A read-after-write dependency forces a before b.
//	source: kernels/chain.cue
//	kernel: chain
//	expect:
//	  outcome: OK
//	assertions:
//	  - type: schedule_order
//	    insns: [a, b]
//
// Scenarios are deterministic end to end: the engine enumerates
// schedules in a fixed order and the harness uses a fixed run-token
// generator, so the rendered dumps are stable across runs and suitable
// for golden-file comparison.
package harness
