// Package spatial implements the broad- and narrow-phase circle overlap search
// used by the tick coordinator.
package spatial

import (
	"math"
	"sort"
)

// Body is one circle submitted to the sweep.
type Body struct {
	X, Y, R float64
}

// Pair is an overlapping pair of body indices, larger radius first.
type Pair struct {
	Larger, Smaller int
}

type endpoint struct {
	value float64
	body  int32
	left  bool
}

// SweepLine finds every overlapping pair of circles with a 1-axis sweep.
//
// Bodies are projected onto X as [x-r, x+r] intervals. The sorted endpoints
// are swept left to right while an active set holds the open intervals. Each
// new interval is tested against the active set with the exact circle test.
// Cost is O(n log n + m*k), k being the active set size; dense clusters push
// k towards n.
//
// With insertion sort enabled the previous endpoint order is reused until
// Invalidate is called; entities move little between ticks so the sort
// approaches O(n). Callers invalidate whenever bodies are added, removed or
// reordered.
//
// A SweepLine reuses its buffers and is not safe for concurrent use.
type SweepLine struct {
	endpoints  []endpoint
	active     []int32
	pairs      []Pair
	useInsSort bool
	stale      bool
	rebuilds   int
}

// NewSweepLine preallocates buffers for about capacity bodies.
func NewSweepLine(capacity int) *SweepLine {
	return &SweepLine{
		endpoints:  make([]endpoint, 0, capacity*2),
		active:     make([]int32, 0, capacity/4+1),
		pairs:      make([]Pair, 0, capacity),
		useInsSort: true,
		stale:      true,
	}
}

// Invalidate drops the cached endpoint order; the next Detect sorts from
// scratch.
func (s *SweepLine) Invalidate() {
	s.stale = true
}

// SetInsertionSort toggles endpoint reuse between calls.
func (s *SweepLine) SetInsertionSort(enabled bool) {
	s.useInsSort = enabled
}

// Detect returns all pairs of bodies whose circles touch or overlap and for
// which exclude (if non-nil) returns false. The returned slice is reused by
// the next call.
func (s *SweepLine) Detect(bodies []Body, exclude func(a, b int) bool) []Pair {
	s.pairs = s.pairs[:0]

	if s.useInsSort && !s.stale && len(s.endpoints) == 2*len(bodies) {
		for i := range s.endpoints {
			ep := &s.endpoints[i]
			b := bodies[ep.body]
			if ep.left {
				ep.value = b.X - b.R
			} else {
				ep.value = b.X + b.R
			}
		}
		insertionSortEndpoints(s.endpoints)
	} else {
		s.endpoints = s.endpoints[:0]
		for i, b := range bodies {
			s.endpoints = append(s.endpoints,
				endpoint{b.X - b.R, int32(i), true},
				endpoint{b.X + b.R, int32(i), false},
			)
		}
		sort.Slice(s.endpoints, func(i, j int) bool {
			return endpointLess(s.endpoints[i], s.endpoints[j])
		})
		s.stale = false
		s.rebuilds++
	}

	s.active = s.active[:0]
	for _, ep := range s.endpoints {
		if !ep.left {
			for i, id := range s.active {
				if id == ep.body {
					s.active[i] = s.active[len(s.active)-1]
					s.active = s.active[:len(s.active)-1]
					break
				}
			}
			continue
		}

		cur := int(ep.body)
		cb := bodies[cur]
		for _, id := range s.active {
			other := int(id)
			ob := bodies[other]
			if !overlaps(cb, ob) {
				continue
			}
			if exclude != nil && exclude(cur, other) {
				continue
			}
			if cb.R >= ob.R {
				s.pairs = append(s.pairs, Pair{cur, other})
			} else {
				s.pairs = append(s.pairs, Pair{other, cur})
			}
		}
		s.active = append(s.active, ep.body)
	}

	return s.pairs
}

// BruteForce is the O(n²) reference for Detect.
func BruteForce(bodies []Body, exclude func(a, b int) bool) []Pair {
	var pairs []Pair
	for i := range bodies {
		for j := i + 1; j < len(bodies); j++ {
			if !overlaps(bodies[i], bodies[j]) {
				continue
			}
			if exclude != nil && exclude(i, j) {
				continue
			}
			if bodies[i].R >= bodies[j].R {
				pairs = append(pairs, Pair{i, j})
			} else {
				pairs = append(pairs, Pair{j, i})
			}
		}
	}
	return pairs
}

func overlaps(a, b Body) bool {
	return math.Hypot(b.X-a.X, b.Y-a.Y) <= a.R+b.R
}

// Left endpoints sort before right ones at the same x so touching circles pair.
func endpointLess(a, b endpoint) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.left && !b.left
}

func insertionSortEndpoints(eps []endpoint) {
	for i := 1; i < len(eps); i++ {
		key := eps[i]
		j := i - 1
		for j >= 0 && endpointLess(key, eps[j]) {
			eps[j+1] = eps[j]
			j--
		}
		eps[j+1] = key
	}
}
