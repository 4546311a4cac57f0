package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/cfelder/loopline/internal/depgraph"
	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/nesting"
	"github.com/cfelder/loopline/internal/oracle"
	"github.com/cfelder/loopline/internal/reduction"
)

// maxDuplicationDepth bounds recovery recursion: each iname duplication
// derives a new kernel revision, and pathological conflict sets must not
// derive forever.
const maxDuplicationDepth = 4

// errBudget unwinds the search when the node budget runs out. It never
// escapes Linearize.
var errBudget = errors.New("schedule: node budget exhausted")

// Linearizer turns a validated kernel into one or more schedules: total
// orders of enter/leave/run/barrier items.
type Linearizer struct {
	cfg    Config
	log    *slog.Logger
	reg    *reduction.Registry
	tokens TokenGenerator
}

// Option configures a Linearizer.
type Option func(*Linearizer)

// WithConfig sets the search configuration.
func WithConfig(cfg Config) Option {
	return func(l *Linearizer) { l.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Linearizer) { l.log = log }
}

// WithRegistry sets the reduction-operator registry.
func WithRegistry(reg *reduction.Registry) Option {
	return func(l *Linearizer) { l.reg = reg }
}

// WithTokenGenerator sets the run-token source. Tests pass a
// FixedGenerator for reproducible tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(l *Linearizer) { l.tokens = g }
}

// New builds a Linearizer with the default configuration, logger,
// operator registry and token source.
func New(opts ...Option) *Linearizer {
	l := &Linearizer{
		cfg:    DefaultConfig(),
		log:    slog.Default(),
		reg:    reduction.NewRegistry(),
		tokens: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Linearize runs the full pipeline on one kernel: structural validation,
// reduction realization, dependency-graph construction, nesting-conflict
// recovery and the backtracking search. The input kernel is never
// modified; the result carries the revision the schedules were produced
// for.
//
// Runs are deterministic: the same kernel and configuration produce the
// identical result, including schedule enumeration order.
func (l *Linearizer) Linearize(ctx context.Context, k *kernel.Kernel) (*Result, error) {
	token := l.tokens.NewToken()
	cfg := l.cfg.normalized()

	log := l.log.With("run", token, "kernel", k.Name)
	log.Debug("linearize start",
		"instructions", len(k.Instructions),
		"inames", len(k.Inames),
		"first_schedule_only", cfg.FirstScheduleOnly,
		"max_schedules", cfg.MaxSchedules)

	if errs := kernel.Validate(k); len(errs) > 0 {
		return nil, &StructuralFailure{Kernel: k.Name, Errs: errs}
	}

	realized, err := reduction.NewRealizer(l.reg).Realize(k)
	if err != nil {
		return nil, err
	}
	if realized != k {
		log.Debug("reductions realized",
			"instructions", len(realized.Instructions), "revision", realized.Revision)
		if errs := kernel.Validate(realized); len(errs) > 0 {
			return nil, &StructuralFailure{Kernel: realized.Name, Errs: errs}
		}
	}

	nodes := 0
	res, err := l.linearizeRevision(ctx, log, realized, cfg, &nodes, 0)
	if err != nil {
		return nil, err
	}
	res.RunToken = token
	res.NodesExpanded = nodes
	log.Debug("linearize done", "schedules", len(res.Schedules), "nodes", nodes)
	return res, nil
}

// linearizeRevision searches one kernel revision, recursing into
// duplicated revisions when a nesting conflict is recoverable. The node
// counter is shared across revisions so the budget bounds the whole run.
func (l *Linearizer) linearizeRevision(ctx context.Context, log *slog.Logger, k *kernel.Kernel, cfg Config, nodes *int, depth int) (*Result, error) {
	g, err := depgraph.Build(k)
	if err != nil {
		return nil, err
	}

	orc := oracle.NewMemo(oracle.NewAffine())
	chk := nesting.NewChecker(k, orc)

	if conflicts := chk.Conflicts(); len(conflicts) > 0 {
		conflict := conflicts[0]
		if !cfg.AllowInameDuplication || depth >= maxDuplicationDepth {
			return nil, conflict
		}
		// Try the recovery candidates in order; the first revision that
		// linearizes wins. All candidates failing re-raises the conflict.
		for _, opt := range conflict.Options() {
			nk, clones, derr := chk.Duplicate(opt)
			if derr != nil {
				continue
			}
			log.Debug("duplicating inames to recover nesting conflict",
				"inames", opt.Inames, "clones", clones, "insns", opt.Insns, "revision", nk.Revision)
			res, rerr := l.linearizeRevision(ctx, log, nk, cfg, nodes, depth+1)
			if rerr == nil {
				return res, nil
			}
			if !recoverable(rerr) {
				return nil, rerr
			}
		}
		return nil, conflict
	}

	s := &searcher{
		k:        k,
		g:        g,
		chk:      chk,
		cfg:      cfg,
		nodes:    nodes,
		failed:   make(map[string]bool),
		revision: k.Hash(),
		groups:   groupMembers(k),
	}
	root := s.rootState()
	_, serr := s.dfs(ctx, root)
	switch {
	case serr == nil || errors.Is(serr, errBudget):
		if len(s.schedules) > 0 {
			return &Result{Schedules: s.schedules, Kernel: k}, nil
		}
		stalled := s.stalledSet()
		if errors.Is(serr, errBudget) {
			return nil, &BudgetExceededError{Kernel: k.Name, Budget: cfg.SearchNodeBudget, Stalled: stalled}
		}
		return nil, &NoScheduleError{Kernel: k.Name, Stalled: stalled, Nodes: *nodes}
	default:
		return nil, serr
	}
}

// recoverable reports whether a revision failure leaves room for trying
// the next duplication candidate.
func recoverable(err error) bool {
	var ns *NoScheduleError
	var lc *nesting.LegalityConflictError
	var cy *depgraph.CycleError
	return errors.As(err, &ns) || errors.As(err, &lc) || errors.As(err, &cy)
}

// state is one node of the search: a partial schedule plus everything
// needed to decide its legal successor transitions.
type state struct {
	scheduled map[string]bool
	open      []string        // innermost last
	closed    map[string]bool // left loops; no re-entry
	items     []Item
	led       *ledger
}

func (st *state) clone() *state {
	ns := &state{
		scheduled: make(map[string]bool, len(st.scheduled)),
		open:      append([]string(nil), st.open...),
		closed:    make(map[string]bool, len(st.closed)),
		items:     append([]Item(nil), st.items...),
		led:       st.led.clone(),
	}
	for id := range st.scheduled {
		ns.scheduled[id] = true
	}
	for n := range st.closed {
		ns.closed[n] = true
	}
	return ns
}

// transition is one search decision: run an instruction or enter a loop.
// Leaves are forced, not chosen, and barriers fold into the transition
// that necessitates them.
type transition struct {
	kind ItemKind
	name string
}

type searcher struct {
	k        *kernel.Kernel
	g        *depgraph.Graph
	chk      *nesting.Checker
	cfg      Config
	nodes    *int
	revision string

	// failed memoizes canonical state hashes proven to admit no
	// accepting descendant, pruning re-derived states reached along a
	// different transition order.
	failed map[string]bool

	groups    map[string][]string
	schedules []Schedule

	// deepest dead-end diagnostics for the stalled-set report.
	deepestCount   int
	deepestStalled []string
}

func groupMembers(k *kernel.Kernel) map[string][]string {
	out := make(map[string][]string)
	for i := range k.Instructions {
		in := &k.Instructions[i]
		for _, g := range in.Groups {
			out[g] = append(out[g], in.ID)
		}
	}
	return out
}

func (s *searcher) rootState() *state {
	return &state{
		scheduled: make(map[string]bool),
		closed:    make(map[string]bool),
		led:       newLedger(s.k, s.g),
	}
}

func (s *searcher) done() bool {
	return len(s.schedules) >= s.cfg.MaxSchedules
}

func (s *searcher) accepted(st *state) bool {
	return len(st.scheduled) == len(s.k.Instructions) && len(st.open) == 0
}

// dfs explores the successor transitions of st in deterministic order.
// It returns whether any accepting state was reached below st.
func (s *searcher) dfs(ctx context.Context, st *state) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.accepted(st) {
		if err := s.accept(st); err != nil {
			return false, err
		}
		return true, nil
	}

	h := s.stateHash(st)
	if s.failed[h] {
		return false, nil
	}

	cands := s.candidates(st)
	if len(cands) == 0 {
		s.noteDeadEnd(st)
		s.failed[h] = true
		return false, nil
	}

	found := false
	budgetHit := false
	for _, c := range cands {
		if s.done() {
			break
		}
		*s.nodes = *s.nodes + 1
		if *s.nodes > s.cfg.SearchNodeBudget {
			budgetHit = true
			break
		}
		next := st.clone()
		s.apply(next, c)
		ok, err := s.dfs(ctx, next)
		if ok {
			found = true
		}
		if err != nil {
			if errors.Is(err, errBudget) {
				budgetHit = true
				break
			}
			return found, err
		}
	}
	if budgetHit {
		return found, errBudget
	}
	if !found && !s.done() {
		s.failed[h] = true
		s.noteDeadEnd(st)
	}
	return found, nil
}

// accept validates and records a complete schedule. A validator
// violation is an engine defect and aborts the whole run.
func (s *searcher) accept(st *state) error {
	sched := Schedule{Items: append([]Item(nil), st.items...)}
	if err := Replay(s.k, s.g, s.chk, sched); err != nil {
		return err
	}
	s.schedules = append(s.schedules, sched)
	return nil
}

// candidates generates successor transitions: runnable instructions
// first (priority descending, then declaration order), then enterable
// inames (unblock count descending, tag weight, then name).
func (s *searcher) candidates(st *state) []transition {
	var out []transition

	type runCand struct {
		id       string
		priority int
		index    int
	}
	var runs []runCand
	for i := range s.k.Instructions {
		in := &s.k.Instructions[i]
		if st.scheduled[in.ID] || !s.runnable(in, st) {
			continue
		}
		runs = append(runs, runCand{id: in.ID, priority: in.Priority, index: i})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].priority != runs[j].priority {
			return runs[i].priority > runs[j].priority
		}
		return runs[i].index < runs[j].index
	})
	for _, r := range runs {
		out = append(out, transition{kind: ItemRunInsn, name: r.id})
	}

	type enterCand struct {
		name    string
		unblock int
		weight  int
	}
	var enters []enterCand
	for _, name := range s.k.InameNames() {
		if st.closed[name] || openContains(st.open, name) {
			continue
		}
		unblock := s.enterUnblocks(name, st)
		if unblock == 0 {
			continue // entering would strand every remaining instruction
		}
		if err := s.chk.CanEnter(name, st.open); err != nil {
			continue
		}
		enters = append(enters, enterCand{name: name, unblock: unblock, weight: s.chk.TagWeight(name)})
	}
	sort.Slice(enters, func(i, j int) bool {
		if enters[i].unblock != enters[j].unblock {
			return enters[i].unblock > enters[j].unblock
		}
		if enters[i].weight != enters[j].weight {
			return enters[i].weight < enters[j].weight
		}
		return enters[i].name < enters[j].name
	})
	for _, e := range enters {
		out = append(out, transition{kind: ItemEnterLoop, name: e.name})
	}
	return out
}

// runnable reports whether an instruction may run in the current state:
// its within set must equal the open stack exactly, every dependency
// predecessor must be scheduled, and no conflicting group may be active.
func (s *searcher) runnable(in *kernel.Instruction, st *state) bool {
	if len(in.Within) != len(st.open) {
		return false
	}
	openSet := make(map[string]bool, len(st.open))
	for _, n := range st.open {
		openSet[n] = true
	}
	for _, n := range in.Within {
		if !openSet[n] {
			return false
		}
	}
	for _, dep := range s.g.PredecessorIDs(in.ID) {
		if !st.scheduled[dep] {
			return false
		}
	}
	for _, g := range in.ConflictsWithGroups {
		if s.groupActive(g, st, in.ID) {
			return false
		}
	}
	return true
}

// groupActive reports whether group g has both a scheduled member and an
// unscheduled member other than the candidate instruction.
func (s *searcher) groupActive(g string, st *state, except string) bool {
	var started, unfinished bool
	for _, id := range s.groups[g] {
		if st.scheduled[id] {
			started = true
		} else if id != except {
			unfinished = true
		}
	}
	return started && unfinished
}

// enterUnblocks counts the unscheduled instructions entering name keeps
// reachable: those nested in name whose within set also covers every
// currently open loop. Zero means entering can never lead anywhere.
func (s *searcher) enterUnblocks(name string, st *state) int {
	n := 0
	for i := range s.k.Instructions {
		in := &s.k.Instructions[i]
		if st.scheduled[in.ID] {
			continue
		}
		within := in.WithinSet()
		if !within[name] {
			continue
		}
		covered := true
		for _, o := range st.open {
			if !within[o] {
				covered = false
				break
			}
		}
		if covered {
			n++
		}
	}
	return n
}

// apply executes a transition on st, folding in any required barrier and
// then forcing leaves of loops no remaining instruction needs.
func (s *searcher) apply(st *state, tr transition) {
	switch tr.kind {
	case ItemRunInsn:
		in := s.k.Instruction(tr.name)
		if scope, need, cons, why := st.led.required(in, st.open); need {
			st.items = append(st.items, Item{
				Kind: ItemBarrier, Scope: scope, SyncKind: "mem",
				Conservative: cons, Comment: why,
			})
			st.led.discharge(scope)
		}
		st.items = append(st.items, Item{Kind: ItemRunInsn, Insn: in.ID})
		st.scheduled[in.ID] = true
		st.led.recordWrites(in)
	case ItemEnterLoop:
		st.items = append(st.items, Item{Kind: ItemEnterLoop, Iname: tr.name})
		st.open = append(st.open, tr.name)
	}
	s.forceLeaves(st)
}

// forceLeaves closes innermost loops no unscheduled instruction needs.
// Leaving a hardware-parallel loop with still-needed shared writes emits
// the covering barrier first.
func (s *searcher) forceLeaves(st *state) {
	for len(st.open) > 0 {
		top := st.open[len(st.open)-1]
		if s.inameNeeded(top, st) {
			return
		}
		tag := s.k.Inames[top].Tag
		if scope, need, why := st.led.leaveRequired(tag, st.scheduled); need {
			st.items = append(st.items, Item{Kind: ItemBarrier, Scope: scope, SyncKind: "mem", Comment: why})
			st.led.discharge(scope)
		}
		st.items = append(st.items, Item{Kind: ItemLeaveLoop, Iname: top})
		st.open = st.open[:len(st.open)-1]
		st.closed[top] = true
	}
}

func (s *searcher) inameNeeded(name string, st *state) bool {
	for i := range s.k.Instructions {
		in := &s.k.Instructions[i]
		if st.scheduled[in.ID] {
			continue
		}
		for _, n := range in.Within {
			if n == name {
				return true
			}
		}
	}
	return false
}

// stateHash returns the content-addressed identity of a search state.
// Items and the barrier ledger are excluded: failure depends only on
// what remains to schedule, the open stack and the closed set.
func (s *searcher) stateHash(st *state) string {
	scheduled := make([]string, 0, len(st.scheduled))
	for id := range st.scheduled {
		scheduled = append(scheduled, id)
	}
	sort.Strings(scheduled)
	closed := make([]string, 0, len(st.closed))
	for n := range st.closed {
		closed = append(closed, n)
	}
	sort.Strings(closed)

	payload, err := kernel.MarshalCanonical(map[string]any{
		"revision":  s.revision,
		"scheduled": scheduled,
		"open":      append([]string{}, st.open...),
		"closed":    closed,
	})
	if err != nil {
		panic("schedule: canonical marshal of search state failed: " + err.Error())
	}
	return kernel.HashWithDomain(kernel.HashDomainState, payload)
}

// noteDeadEnd records the stalled set of the deepest dead end reached:
// the unscheduled instructions whose dependency predecessors were all
// satisfied, i.e. the ones blocked by nesting rather than by ordering.
func (s *searcher) noteDeadEnd(st *state) {
	if len(st.scheduled) < s.deepestCount && s.deepestStalled != nil {
		return
	}
	var stalled []string
	for i := range s.k.Instructions {
		in := &s.k.Instructions[i]
		if st.scheduled[in.ID] {
			continue
		}
		ready := true
		for _, dep := range s.g.PredecessorIDs(in.ID) {
			if !st.scheduled[dep] {
				ready = false
				break
			}
		}
		if ready {
			stalled = append(stalled, in.ID)
		}
	}
	if len(stalled) == 0 {
		for i := range s.k.Instructions {
			if !st.scheduled[s.k.Instructions[i].ID] {
				stalled = append(stalled, s.k.Instructions[i].ID)
			}
		}
	}
	sort.Strings(stalled)
	s.deepestCount = len(st.scheduled)
	s.deepestStalled = stalled
}

func (s *searcher) stalledSet() []string {
	if s.deepestStalled != nil {
		return s.deepestStalled
	}
	all := make([]string, 0, len(s.k.Instructions))
	for i := range s.k.Instructions {
		all = append(all, s.k.Instructions[i].ID)
	}
	sort.Strings(all)
	return all
}

func openContains(open []string, name string) bool {
	for _, n := range open {
		if n == name {
			return true
		}
	}
	return false
}
