// Package schedule implements the linearization search: it turns a
// validated kernel into a total order of enter/leave/run/barrier items
// that honors every dependency edge, nests loops legally and covers
// every shared-memory hazard with a barrier.
//
// The search is a depth-first walk over partial schedules. Decisions are
// limited to running an instruction or entering a loop; leaves are
// forced as soon as no remaining instruction needs the innermost loop,
// and barriers fold into the transition that makes them necessary.
// States proven unable to reach an accepting schedule are memoized by
// content hash, so re-derived states prune immediately.
//
// Every accepted schedule is re-checked by an independent replay
// validator before it is returned.
package schedule
