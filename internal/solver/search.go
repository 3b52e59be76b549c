package solver

import (
	"context"
	"fmt"
	"sort"
)

// defaultCheckEvery is how many nodes pass between context checks.
const defaultCheckEvery = 512

// linear is a normalized constraint: sum(terms) <= rhs.
type linear struct {
	terms Expr
	rhs   int64
}

// group is a cardinality constraint over 0/1 variables: sum(members) <= cap.
// Members are sorted by objective coefficient, best first.
type group struct {
	members []Var
	cap     int64
}

// SearchOption configures a Search backend.
type SearchOption func(*Search)

// WithNodeLimit stops the search after n nodes with Status Unknown.
// Zero means no limit.
func WithNodeLimit(n int64) SearchOption {
	return func(s *Search) { s.nodeLimit = n }
}

// Search is a depth-first branch and bound backend. Every node propagates
// bounds over the linear constraints to a fixpoint and prunes subtrees whose
// optimistic objective cannot beat the incumbent.
type Search struct {
	names    []string
	isBool   []bool
	lo, hi   []int64
	cons     []linear
	watch    [][]int
	posted   int
	conflict bool

	objective Expr
	objCoef   []int64

	nodeLimit  int64
	checkEvery int64
}

// NewSearch returns an empty model backed by branch and bound.
func NewSearch(opts ...SearchOption) *Search {
	s := &Search{checkEvery: defaultCheckEvery}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Model = (*Search)(nil)

func (s *Search) NewBool(name string) Var {
	return s.newVar(name, 0, 1, true)
}

func (s *Search) NewInt(name string, lo, hi int64) Var {
	if hi < lo {
		s.conflict = true
	}
	return s.newVar(name, lo, hi, lo == 0 && hi == 1)
}

func (s *Search) newVar(name string, lo, hi int64, isBool bool) Var {
	v := Var(len(s.names))
	s.names = append(s.names, name)
	s.isBool = append(s.isBool, isBool)
	s.lo = append(s.lo, lo)
	s.hi = append(s.hi, hi)
	s.watch = append(s.watch, nil)
	return v
}

// Name returns the name v was created with.
func (s *Search) Name(v Var) string {
	if int(v) < 0 || int(v) >= len(s.names) {
		return ""
	}
	return s.names[v]
}

func (s *Search) Add(c Constraint) {
	s.posted++
	e := s.merge(c.Expr)
	switch c.Op {
	case LE:
		s.addLinear(e, c.RHS)
	case GE:
		s.addLinear(e.Scale(-1), -c.RHS)
	case EQ:
		s.addLinear(e, c.RHS)
		s.addLinear(e.Scale(-1), -c.RHS)
	default:
		panic(fmt.Sprintf("solver: unsupported op %v", c.Op))
	}
}

func (s *Search) addLinear(e Expr, rhs int64) {
	if len(e) == 0 {
		if rhs < 0 {
			s.conflict = true
		}
		return
	}
	idx := len(s.cons)
	s.cons = append(s.cons, linear{terms: e, rhs: rhs})
	for _, t := range e {
		s.watch[t.Var] = append(s.watch[t.Var], idx)
	}
}

// merge folds repeated variables and drops zero coefficients.
func (s *Search) merge(e Expr) Expr {
	pos := make(map[Var]int, len(e))
	out := make(Expr, 0, len(e))
	for _, t := range e {
		if int(t.Var) < 0 || int(t.Var) >= len(s.names) {
			panic(fmt.Sprintf("solver: unknown var %d", t.Var))
		}
		if i, ok := pos[t.Var]; ok {
			out[i].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(out)
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *Search) Maximize(obj Expr) {
	s.objective = s.merge(obj)
}

func (s *Search) NumVars() int { return len(s.names) }

func (s *Search) NumConstraints() int { return s.posted }

// Solve runs the search. A panic inside the search is returned as an error.
func (s *Search) Solve(ctx context.Context) (asg *Assignment, err error) {
	defer func() {
		if r := recover(); r != nil {
			asg = nil
			err = fmt.Errorf("solver panic: %v", r)
		}
	}()

	r := newRun(ctx, s)
	if s.conflict {
		return &Assignment{Status: Infeasible}, nil
	}
	lo := append([]int64(nil), s.lo...)
	hi := append([]int64(nil), s.hi...)
	if r.propagate(lo, hi, nil) {
		r.dfs(lo, hi)
	}

	out := &Assignment{Objective: r.bestObj, Nodes: r.nodes, values: r.best}
	switch {
	case r.stopped:
		out.Status = Unknown
	case r.best != nil:
		out.Status = Optimal
	default:
		out.Status = Infeasible
	}
	return out, nil
}

// run holds the mutable state of one Solve call.
type run struct {
	ctx     context.Context
	s       *Search
	order   []Var
	groups  []group
	groupOf []int

	nodes   int64
	stopped bool
	best    []int64
	bestObj int64

	queue   []int
	inQueue []bool
}

func newRun(ctx context.Context, s *Search) *run {
	r := &run{
		ctx:     ctx,
		s:       s,
		inQueue: make([]bool, len(s.cons)),
	}
	r.objCoefs()
	r.buildOrder()
	r.buildGroups()
	return r
}

func (r *run) objCoefs() {
	s := r.s
	s.objCoef = make([]int64, len(s.names))
	for _, t := range s.objective {
		s.objCoef[t.Var] += t.Coef
	}
}

// buildOrder branches on rewarded booleans first, most valuable first, then
// on the remaining booleans and finally on integers, each in creation order.
func (r *run) buildOrder() {
	s := r.s
	var rewarded, bools, ints []Var
	for i := range s.names {
		v := Var(i)
		switch {
		case s.isBool[i] && s.objCoef[i] > 0:
			rewarded = append(rewarded, v)
		case s.isBool[i]:
			bools = append(bools, v)
		default:
			ints = append(ints, v)
		}
	}
	sort.SliceStable(rewarded, func(a, b int) bool {
		return s.objCoef[rewarded[a]] > s.objCoef[rewarded[b]]
	})
	r.order = append(append(rewarded, bools...), ints...)
}

// buildGroups collects sum(x) <= k constraints over booleans. Each rewarded
// boolean is attached to its tightest group so the bound can count at most k
// of the group's rewards.
func (r *run) buildGroups() {
	s := r.s
	r.groupOf = make([]int, len(s.names))
	for i := range r.groupOf {
		r.groupOf[i] = -1
	}
	for _, c := range s.cons {
		if c.rhs < 0 {
			continue
		}
		unit := true
		for _, t := range c.terms {
			if t.Coef != 1 || !s.isBool[t.Var] {
				unit = false
				break
			}
		}
		if !unit {
			continue
		}
		members := make([]Var, 0, len(c.terms))
		for _, t := range c.terms {
			members = append(members, t.Var)
		}
		sort.SliceStable(members, func(a, b int) bool {
			return s.objCoef[members[a]] > s.objCoef[members[b]]
		})
		gi := len(r.groups)
		r.groups = append(r.groups, group{members: members, cap: c.rhs})
		for _, v := range members {
			if s.objCoef[v] <= 0 {
				continue
			}
			if cur := r.groupOf[v]; cur < 0 || r.groups[cur].cap > c.rhs {
				r.groupOf[v] = gi
			}
		}
	}
}

// bound is an optimistic objective value for the subtree with domains lo/hi.
func (r *run) bound(lo, hi []int64) int64 {
	s := r.s
	var total int64
	for _, t := range s.objective {
		if t.Coef > 0 && r.groupOf[t.Var] >= 0 && lo[t.Var] != hi[t.Var] {
			continue
		}
		if t.Coef > 0 {
			total += t.Coef * hi[t.Var]
		} else {
			total += t.Coef * lo[t.Var]
		}
	}
	for gi, g := range r.groups {
		capLeft := g.cap
		for _, v := range g.members {
			capLeft -= lo[v]
		}
		for _, v := range g.members {
			if capLeft <= 0 {
				break
			}
			if r.groupOf[v] != gi || lo[v] == hi[v] {
				continue
			}
			total += s.objCoef[v]
			capLeft--
		}
	}
	return total
}

func (r *run) value(vals []int64) int64 {
	var total int64
	for _, t := range r.s.objective {
		total += t.Coef * vals[t.Var]
	}
	return total
}

// propagate tightens lo/hi until no constraint can tighten further. When
// changed is nil every constraint is examined. It reports false on conflict.
func (r *run) propagate(lo, hi []int64, changed []Var) bool {
	s := r.s
	r.queue = r.queue[:0]
	for i := range r.inQueue {
		r.inQueue[i] = false
	}
	push := func(ci int) {
		if !r.inQueue[ci] {
			r.inQueue[ci] = true
			r.queue = append(r.queue, ci)
		}
	}
	if changed == nil {
		for ci := range s.cons {
			push(ci)
		}
	} else {
		for _, v := range changed {
			for _, ci := range s.watch[v] {
				push(ci)
			}
		}
	}

	for len(r.queue) > 0 {
		ci := r.queue[0]
		r.queue = r.queue[1:]
		r.inQueue[ci] = false
		c := s.cons[ci]

		var minAct int64
		for _, t := range c.terms {
			minAct += minTerm(t, lo, hi)
		}
		if minAct > c.rhs {
			return false
		}
		for _, t := range c.terms {
			slack := c.rhs - (minAct - minTerm(t, lo, hi))
			v := t.Var
			if t.Coef > 0 {
				nh := floorDiv(slack, t.Coef)
				if nh >= hi[v] {
					continue
				}
				if nh < lo[v] {
					return false
				}
				hi[v] = nh
			} else {
				nl := ceilDiv(slack, t.Coef)
				if nl <= lo[v] {
					continue
				}
				if nl > hi[v] {
					return false
				}
				lo[v] = nl
			}
			for _, cj := range s.watch[v] {
				push(cj)
			}
		}
	}
	return true
}

func minTerm(t Term, lo, hi []int64) int64 {
	if t.Coef > 0 {
		return t.Coef * lo[t.Var]
	}
	return t.Coef * hi[t.Var]
}

// tick counts a node and reports whether the search must stop.
func (r *run) tick() bool {
	if r.stopped {
		return true
	}
	r.nodes++
	if r.s.nodeLimit > 0 && r.nodes > r.s.nodeLimit {
		r.stopped = true
		return true
	}
	if r.nodes%r.s.checkEvery == 0 || r.nodes == 1 {
		select {
		case <-r.ctx.Done():
			r.stopped = true
			return true
		default:
		}
	}
	return false
}

func (r *run) dfs(lo, hi []int64) {
	if r.tick() {
		return
	}
	if r.best != nil && r.bound(lo, hi) <= r.bestObj {
		return
	}

	branch := Var(-1)
	for _, v := range r.order {
		if lo[v] != hi[v] {
			branch = v
			break
		}
	}
	if branch < 0 {
		obj := r.value(lo)
		if r.best == nil || obj > r.bestObj {
			r.best = append(make([]int64, 0, len(lo)), lo...)
			r.bestObj = obj
		}
		return
	}

	for _, val := range r.valueOrder(branch, lo[branch], hi[branch]) {
		if r.stopped {
			return
		}
		clo := append([]int64(nil), lo...)
		chi := append([]int64(nil), hi...)
		clo[branch], chi[branch] = val, val
		if r.propagate(clo, chi, []Var{branch}) {
			r.dfs(clo, chi)
		}
	}
}

// valueOrder tries the end of the domain that helps the objective first.
func (r *run) valueOrder(v Var, lo, hi int64) []int64 {
	vals := make([]int64, 0, hi-lo+1)
	coef := r.s.objCoef[v]
	if coef > 0 || (coef == 0 && r.s.isBool[v]) {
		for x := hi; x >= lo; x-- {
			vals = append(vals, x)
		}
		return vals
	}
	for x := lo; x <= hi; x++ {
		vals = append(vals, x)
	}
	return vals
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}
