package vrp

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusBuilt        Status = "built"
	StatusConstructing Status = "constructing"
	StatusImproving    Status = "improving"
	StatusSolved       Status = "solved"
	StatusInfeasible   Status = "infeasible"
	StatusTimedOut     Status = "timed_out"
)

const (
	// glsAlpha scales arc penalties relative to the average arc cost of
	// the first local optimum.
	glsAlpha = 0.3
	// convergenceRounds is how many penalty rounds may pass without a new
	// best before the search is declared converged.
	convergenceRounds = 20
	// deadlineCheckMask throttles clock reads to one per 256 candidate
	// evaluations.
	deadlineCheckMask = 255

	eps = 1e-9
)

// Route is one vehicle's tour in solver terms. Deliveries are in visit
// order; DistanceUnits includes both depot legs.
type Route struct {
	Vehicle       Vehicle
	Deliveries    []Delivery
	DistanceUnits int64
	Load          float64
}

// Solution carries the outcome of one solve. Routes is empty when Status
// is infeasible; Reason is set only then.
type Solution struct {
	Status    Status
	Reason    string
	Routes    []Route
	Objective float64
	Elapsed   time.Duration
	Stats     Stats
}

// Stats describes how the search spent its budget.
type Stats struct {
	Iterations       int
	Improvements     int
	PenaltyRounds    int
	PenalizedArcs    int
	InitialObjective float64
	FinalObjective   float64
	ConstructionMs   int64
	ImprovementMs    int64
}

// Progress is delivered to OnProgress whenever the search finds a new best
// solution.
type Progress struct {
	Iteration int
	Objective float64
}

// Solver runs cheapest-insertion construction followed by guided local
// search. A Solver is good for exactly one Solve call.
type Solver struct {
	p    *Problem
	m    *Matrix
	dims *Dimensions

	status Status

	// OnPhase fires on every status transition, OnProgress on every new
	// best. Both may be nil. They are called from the solving goroutine,
	// so they must not block.
	OnPhase    func(Status)
	OnProgress func(Progress)
}

func NewSolver(p *Problem, m *Matrix, dims *Dimensions) *Solver {
	return &Solver{p: p, m: m, dims: dims, status: StatusBuilt}
}

// Status returns the solver's current phase.
func (s *Solver) Status() Status { return s.status }

func (s *Solver) setPhase(st Status) {
	s.status = st
	if s.OnPhase != nil {
		s.OnPhase(st)
	}
}

// Solve runs the search until convergence or the wall-clock budget runs
// out. Infeasibility is reported in the Solution, not as an error; a
// non-nil error means an internal failure.
func (s *Solver) Solve(ctx context.Context) (*Solution, error) {
	start := time.Now()
	deadline := start.Add(s.p.TimeBudget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	sc := newSearch(s, deadline)
	sol := &Solution{}

	s.setPhase(StatusConstructing)
	if inf := s.construct(sc); inf != nil {
		s.setPhase(StatusInfeasible)
		sol.Status = StatusInfeasible
		sol.Reason = inf.Reason
		sol.Elapsed = time.Since(start)
		sol.Stats.ConstructionMs = sol.Elapsed.Milliseconds()
		return sol, nil
	}
	constructed := time.Now()
	sc.st.ConstructionMs = constructed.Sub(start).Milliseconds()

	s.setPhase(StatusImproving)
	best, status := s.improve(ctx, sc)
	sc.st.ImprovementMs = time.Since(constructed).Milliseconds()

	s.setPhase(status)
	sol.Status = status
	sol.Elapsed = time.Since(start)
	sol.Stats = *sc.st
	for v, r := range best {
		if len(r) == 0 {
			continue
		}
		route := Route{Vehicle: s.p.Vehicles[v], DistanceUnits: sc.routeUnits(r)}
		for _, di := range r {
			route.Deliveries = append(route.Deliveries, s.p.Deliveries[di])
			route.Load += s.p.Deliveries[di].Demand
		}
		sol.Routes = append(sol.Routes, route)
	}
	sol.Objective = s.objectiveOf(best, sc)
	sol.Stats.FinalObjective = sol.Objective
	return sol, nil
}

// weight converts matrix units into objective terms for vehicle v.
func (s *Solver) weight(v int) float64 {
	if s.p.Mode == ModeMinCost {
		return s.p.Vehicles[v].CostPerKm
	}
	return 1
}

// search is the mutable state of one solve: current routes plus the GLS
// penalty table. Delivery indices are 0-based; matrix node for delivery i
// is i+1 and the depot is node 0.
type search struct {
	s        *Solver
	stops    [][]int
	load     []float64
	units    []int64
	penSum   []int64
	pen      []int64
	lambda   float64
	deadline time.Time
	evals    int
	timedOut bool
	scratchA []int
	scratchB []int
	st       *Stats
}

func newSearch(s *Solver, deadline time.Time) *search {
	n := len(s.p.Deliveries)
	nv := len(s.p.Vehicles)
	sc := &search{
		s:        s,
		stops:    make([][]int, nv),
		load:     make([]float64, nv),
		units:    make([]int64, nv),
		penSum:   make([]int64, nv),
		pen:      make([]int64, (n+1)*(n+1)),
		deadline: deadline,
		scratchA: make([]int, 0, n+1),
		scratchB: make([]int, 0, n+1),
		st:       &Stats{},
	}
	for v := range sc.stops {
		sc.stops[v] = make([]int, 0, n)
	}
	return sc
}

// arcIdx normalizes an undirected arc into the penalty table.
func (sc *search) arcIdx(i, j int) int {
	if j < i {
		i, j = j, i
	}
	return i*(len(sc.s.p.Deliveries)+1) + j
}

func (sc *search) routeUnits(stops []int) int64 {
	if len(stops) == 0 {
		return 0
	}
	u := sc.s.m.At(0, stops[0]+1)
	for i := 1; i < len(stops); i++ {
		u += sc.s.m.At(stops[i-1]+1, stops[i]+1)
	}
	return u + sc.s.m.At(stops[len(stops)-1]+1, 0)
}

func (sc *search) routePen(stops []int) int64 {
	if len(stops) == 0 {
		return 0
	}
	p := sc.pen[sc.arcIdx(0, stops[0]+1)]
	for i := 1; i < len(stops); i++ {
		p += sc.pen[sc.arcIdx(stops[i-1]+1, stops[i]+1)]
	}
	return p + sc.pen[sc.arcIdx(stops[len(stops)-1]+1, 0)]
}

// objective is the true cost of the current routes: weighted route lengths
// plus the span penalty on the longest route.
func (sc *search) objective() float64 {
	total := 0.0
	var span int64
	for v, u := range sc.units {
		total += sc.s.weight(v) * float64(u)
		if u > span {
			span = u
		}
	}
	return total + float64(sc.s.p.SpanCoefficient)*float64(span)
}

func (s *Solver) objectiveOf(stops [][]int, sc *search) float64 {
	total := 0.0
	var span int64
	for v, r := range stops {
		u := sc.routeUnits(r)
		total += s.weight(v) * float64(u)
		if u > span {
			span = u
		}
	}
	return total + float64(s.p.SpanCoefficient)*float64(span)
}

// augDelta returns the change in augmented cost if route va became uA/pA
// and route vb became uB/pB. Pass vb < 0 for single-route moves.
func (sc *search) augDelta(va int, uA int64, pA int64, vb int, uB int64, pB int64) float64 {
	d := sc.s.weight(va) * float64(uA-sc.units[va])
	pd := pA - sc.penSum[va]
	if vb >= 0 {
		d += sc.s.weight(vb) * float64(uB-sc.units[vb])
		pd += pB - sc.penSum[vb]
	}
	var oldSpan, newSpan int64
	for v, u := range sc.units {
		if u > oldSpan {
			oldSpan = u
		}
		nu := u
		if v == va {
			nu = uA
		} else if v == vb {
			nu = uB
		}
		if nu > newSpan {
			newSpan = nu
		}
	}
	d += float64(sc.s.p.SpanCoefficient) * float64(newSpan-oldSpan)
	return d + sc.lambda*float64(pd)
}

// step counts one candidate evaluation and returns true once the deadline
// has passed.
func (sc *search) step() bool {
	if sc.timedOut {
		return true
	}
	sc.evals++
	if sc.evals&deadlineCheckMask == 0 && time.Now().After(sc.deadline) {
		sc.timedOut = true
	}
	return sc.timedOut
}

// construct builds the initial assignment by cheapest insertion. The
// enumeration order (deliveries, then vehicles, then positions, all
// ascending) combined with a strict less-than comparison implements the
// tie-break: lowest incremental cost, then lowest delivery id, then lowest
// vehicle id.
func (s *Solver) construct(sc *search) *InfeasibleError {
	p := s.p
	n := len(p.Deliveries)

	var maxCap, capSum float64
	for v := range p.Vehicles {
		capSum += p.Vehicles[v].Capacity
		if p.Vehicles[v].Capacity > maxCap {
			maxCap = p.Vehicles[v].Capacity
		}
	}
	var totalDemand float64
	for _, d := range p.Deliveries {
		if d.Demand > maxCap {
			return &InfeasibleError{Reason: fmt.Sprintf("delivery %s demand %.1f exceeds every vehicle capacity (max %.1f)", d.ID, d.Demand, maxCap)}
		}
		totalDemand += d.Demand
	}
	if totalDemand > capSum+eps {
		return &InfeasibleError{Reason: fmt.Sprintf("total demand %.1f exceeds fleet capacity %.1f", totalDemand, capSum)}
	}

	assigned := make([]bool, n)
	for remaining := n; remaining > 0; remaining-- {
		bestDelta := math.MaxFloat64
		bestD, bestV, bestPos := -1, -1, -1
		var bestUnits int64
		for di := 0; di < n; di++ {
			if assigned[di] {
				continue
			}
			dem := p.Deliveries[di].Demand
			for v := range sc.stops {
				if !s.dims.FitsLoad(v, sc.load[v]+dem) {
					continue
				}
				for pos := 0; pos <= len(sc.stops[v]); pos++ {
					delta, u := sc.insertionCost(v, di, pos)
					if !s.dims.FitsRange(v, u) {
						continue
					}
					if delta < bestDelta {
						bestDelta, bestD, bestV, bestPos, bestUnits = delta, di, v, pos, u
					}
				}
			}
		}
		if bestD < 0 {
			return sc.unservableReason(assigned)
		}
		r := sc.stops[bestV]
		r = append(r, 0)
		copy(r[bestPos+1:], r[bestPos:])
		r[bestPos] = bestD
		sc.stops[bestV] = r
		sc.load[bestV] += p.Deliveries[bestD].Demand
		sc.units[bestV] = bestUnits
		assigned[bestD] = true
	}
	return nil
}

// insertionCost prices inserting delivery di at position pos of vehicle
// v's route and returns the weighted delta plus the resulting route length.
func (sc *search) insertionCost(v, di, pos int) (float64, int64) {
	r := sc.stops[v]
	node := di + 1
	prev, next := 0, 0
	if pos > 0 {
		prev = r[pos-1] + 1
	}
	if pos < len(r) {
		next = r[pos] + 1
	}
	deltaU := sc.s.m.At(prev, node) + sc.s.m.At(node, next) - sc.s.m.At(prev, next)
	return sc.s.weight(v) * float64(deltaU), sc.units[v] + deltaU
}

// unservableReason explains why construction got stuck, naming the first
// unassigned delivery in id order.
func (sc *search) unservableReason(assigned []bool) *InfeasibleError {
	p := sc.s.p
	var maxRange int64
	for v := range p.Vehicles {
		if sc.s.dims.RangeUnits[v] > maxRange {
			maxRange = sc.s.dims.RangeUnits[v]
		}
	}
	for di, ok := range assigned {
		if ok {
			continue
		}
		d := p.Deliveries[di]
		if 2*sc.s.m.At(0, di+1) > maxRange {
			return &InfeasibleError{Reason: fmt.Sprintf("delivery %s round trip %.1f km exceeds every vehicle range", d.ID, Km(2*sc.s.m.At(0, di+1)))}
		}
		return &InfeasibleError{Reason: fmt.Sprintf("no feasible assignment for delivery %s under capacity and distance limits", d.ID)}
	}
	return &InfeasibleError{Reason: "no feasible assignment"}
}

// improve runs guided local search until the penalty rounds stop paying
// off or the deadline passes, and returns the best routes seen by true
// cost.
func (s *Solver) improve(ctx context.Context, sc *search) ([][]int, Status) {
	best := cloneStops(sc.stops)
	bestObj := sc.objective()
	sc.st.InitialObjective = bestObj

	arcs := 0
	var base float64
	for v, r := range sc.stops {
		if len(r) > 0 {
			arcs += len(r) + 1
		}
		base += s.weight(v) * float64(sc.units[v])
	}
	if arcs > 0 {
		sc.lambda = glsAlpha * base / float64(arcs)
	} else {
		sc.lambda = 1
	}

	rounds := 0
	for {
		if sc.timedOut || ctx.Err() != nil {
			return best, StatusTimedOut
		}
		if sc.pass() {
			sc.st.Iterations++
			if obj := sc.objective(); obj < bestObj-eps {
				bestObj = obj
				best = cloneStops(sc.stops)
				sc.st.Improvements++
				rounds = 0
				if s.OnProgress != nil {
					s.OnProgress(Progress{Iteration: sc.st.Iterations, Objective: bestObj})
				}
			}
			continue
		}
		if sc.timedOut || ctx.Err() != nil {
			return best, StatusTimedOut
		}
		// local optimum of the augmented cost
		sc.penalize()
		sc.st.PenaltyRounds++
		rounds++
		if rounds >= convergenceRounds {
			return best, StatusSolved
		}
	}
}

// pass applies the first augmented-cost-improving move it finds, in a
// fixed enumeration order, and reports whether one was applied.
func (sc *search) pass() bool {
	// 2-opt segment reversal within each route
	for v := range sc.stops {
		for i := 0; i < len(sc.stops[v])-1; i++ {
			for k := i + 1; k < len(sc.stops[v]); k++ {
				if sc.applyTwoOpt(v, i, k) {
					return true
				}
			}
		}
	}
	// relocate one stop, within or across routes
	for va := range sc.stops {
		for i := 0; i < len(sc.stops[va]); i++ {
			for vb := range sc.stops {
				for j := 0; j <= len(sc.stops[vb]); j++ {
					if va == vb && (j == i || j == i+1) {
						continue
					}
					if sc.applyRelocate(va, i, vb, j) {
						return true
					}
				}
			}
		}
	}
	// swap two stops between distinct routes
	for va := 0; va < len(sc.stops); va++ {
		for vb := va + 1; vb < len(sc.stops); vb++ {
			for i := 0; i < len(sc.stops[va]); i++ {
				for j := 0; j < len(sc.stops[vb]); j++ {
					if sc.applySwap(va, i, vb, j) {
						return true
					}
				}
			}
		}
	}
	return false
}

func (sc *search) applyTwoOpt(v, i, k int) bool {
	if sc.step() {
		return false
	}
	r := sc.stops[v]
	newR := append(sc.scratchA[:0], r[:i]...)
	for x := k; x >= i; x-- {
		newR = append(newR, r[x])
	}
	newR = append(newR, r[k+1:]...)
	u := sc.routeUnits(newR)
	if !sc.s.dims.FitsRange(v, u) {
		return false
	}
	p := sc.routePen(newR)
	if sc.augDelta(v, u, p, -1, 0, 0) >= -eps {
		return false
	}
	sc.stops[v] = append(sc.stops[v][:0], newR...)
	sc.units[v] = u
	sc.penSum[v] = p
	return true
}

func (sc *search) applyRelocate(va, i, vb, j int) bool {
	if sc.step() {
		return false
	}
	di := sc.stops[va][i]
	dem := sc.s.p.Deliveries[di].Demand

	if va == vb {
		jj := j
		if jj > i {
			jj--
		}
		rest := append(sc.scratchA[:0], sc.stops[va][:i]...)
		rest = append(rest, sc.stops[va][i+1:]...)
		newR := append(sc.scratchB[:0], rest[:jj]...)
		newR = append(newR, di)
		newR = append(newR, rest[jj:]...)
		u := sc.routeUnits(newR)
		if !sc.s.dims.FitsRange(va, u) {
			return false
		}
		p := sc.routePen(newR)
		if sc.augDelta(va, u, p, -1, 0, 0) >= -eps {
			return false
		}
		sc.stops[va] = append(sc.stops[va][:0], newR...)
		sc.units[va] = u
		sc.penSum[va] = p
		return true
	}

	if !sc.s.dims.FitsLoad(vb, sc.load[vb]+dem) {
		return false
	}
	newA := append(sc.scratchA[:0], sc.stops[va][:i]...)
	newA = append(newA, sc.stops[va][i+1:]...)
	newB := append(sc.scratchB[:0], sc.stops[vb][:j]...)
	newB = append(newB, di)
	newB = append(newB, sc.stops[vb][j:]...)
	uA, uB := sc.routeUnits(newA), sc.routeUnits(newB)
	if !sc.s.dims.FitsRange(va, uA) || !sc.s.dims.FitsRange(vb, uB) {
		return false
	}
	pA, pB := sc.routePen(newA), sc.routePen(newB)
	if sc.augDelta(va, uA, pA, vb, uB, pB) >= -eps {
		return false
	}
	sc.stops[va] = append(sc.stops[va][:0], newA...)
	sc.stops[vb] = append(sc.stops[vb][:0], newB...)
	sc.units[va], sc.units[vb] = uA, uB
	sc.penSum[va], sc.penSum[vb] = pA, pB
	sc.load[va] -= dem
	sc.load[vb] += dem
	return true
}

func (sc *search) applySwap(va, i, vb, j int) bool {
	if sc.step() {
		return false
	}
	da, db := sc.stops[va][i], sc.stops[vb][j]
	demA := sc.s.p.Deliveries[da].Demand
	demB := sc.s.p.Deliveries[db].Demand
	if !sc.s.dims.FitsLoad(va, sc.load[va]-demA+demB) || !sc.s.dims.FitsLoad(vb, sc.load[vb]-demB+demA) {
		return false
	}
	newA := append(sc.scratchA[:0], sc.stops[va]...)
	newA[i] = db
	newB := append(sc.scratchB[:0], sc.stops[vb]...)
	newB[j] = da
	uA, uB := sc.routeUnits(newA), sc.routeUnits(newB)
	if !sc.s.dims.FitsRange(va, uA) || !sc.s.dims.FitsRange(vb, uB) {
		return false
	}
	pA, pB := sc.routePen(newA), sc.routePen(newB)
	if sc.augDelta(va, uA, pA, vb, uB, pB) >= -eps {
		return false
	}
	sc.stops[va] = append(sc.stops[va][:0], newA...)
	sc.stops[vb] = append(sc.stops[vb][:0], newB...)
	sc.units[va], sc.units[vb] = uA, uB
	sc.penSum[va], sc.penSum[vb] = pA, pB
	sc.load[va] = sc.load[va] - demA + demB
	sc.load[vb] = sc.load[vb] - demB + demA
	return true
}

type solArc struct{ v, i, j int }

func (sc *search) solutionArcs(buf []solArc) []solArc {
	buf = buf[:0]
	for v, r := range sc.stops {
		if len(r) == 0 {
			continue
		}
		prev := 0
		for _, di := range r {
			buf = append(buf, solArc{v, prev, di + 1})
			prev = di + 1
		}
		buf = append(buf, solArc{v, prev, 0})
	}
	return buf
}

// penalize raises the penalty on every arc of maximum utility in the
// current solution, where utility is the arc's weighted cost divided by
// one plus its penalty so far. Heavily penalized arcs lose utility, so
// the pressure rotates across the solution over successive rounds.
func (sc *search) penalize() {
	arcs := sc.solutionArcs(nil)
	maxUtil := -1.0
	for _, a := range arcs {
		c := sc.s.weight(a.v) * float64(sc.s.m.At(a.i, a.j))
		if u := c / float64(1+sc.pen[sc.arcIdx(a.i, a.j)]); u > maxUtil {
			maxUtil = u
		}
	}
	if maxUtil <= 0 {
		return
	}
	for _, a := range arcs {
		idx := sc.arcIdx(a.i, a.j)
		c := sc.s.weight(a.v) * float64(sc.s.m.At(a.i, a.j))
		if c/float64(1+sc.pen[idx]) >= maxUtil-1e-12 {
			sc.pen[idx]++
			sc.st.PenalizedArcs++
		}
	}
	for v := range sc.stops {
		sc.penSum[v] = sc.routePen(sc.stops[v])
	}
}

func cloneStops(stops [][]int) [][]int {
	out := make([][]int, len(stops))
	for i, r := range stops {
		out[i] = append([]int(nil), r...)
	}
	return out
}
