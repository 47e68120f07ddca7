package match

import "sort"

// maxSolutionsPerSize bounds how many equal-size subsets are ranked per anchor.
const maxSolutionsPerSize = 64

type memoKey struct {
	start     int
	left      int
	remaining int64
}

// subsetSearch enumerates subsets of exactly k positive amounts whose sum lies
// within tol of target. States proven to have no solution are memoized so each
// (position, picks left, remaining sum) is expanded at most once.
type subsetSearch struct {
	order   []int   // indices into the caller's slice, largest amount first
	amounts []int64 // amounts in order
	target  int64
	tol     int64
	budget  int
	nodes   int
	dead    map[memoKey]bool
}

func newSubsetSearch(amounts []int64, target, tol int64, budget int) *subsetSearch {
	order := make([]int, len(amounts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return amounts[order[i]] > amounts[order[j]] })
	sorted := make([]int64, len(order))
	for i, j := range order {
		sorted[i] = amounts[j]
	}
	return &subsetSearch{order: order, amounts: sorted, target: target, tol: tol, budget: budget, dead: map[memoKey]bool{}}
}

// exhausted reports whether the node budget ran out.
func (s *subsetSearch) exhausted() bool { return s.nodes >= s.budget }

// find returns up to maxSolutionsPerSize subsets of size k as caller indices.
func (s *subsetSearch) find(k int) [][]int {
	var out [][]int
	picked := make([]int, 0, k)
	s.walk(0, k, s.target, picked, &out)
	return out
}

func (s *subsetSearch) walk(start, left int, remaining int64, picked []int, out *[][]int) bool {
	if left == 0 {
		if abs64(remaining) <= s.tol {
			sol := make([]int, len(picked))
			for i, p := range picked {
				sol[i] = s.order[p]
			}
			*out = append(*out, sol)
			return true
		}
		return false
	}
	if s.nodes >= s.budget || len(*out) >= maxSolutionsPerSize {
		return false
	}
	s.nodes++
	if remaining < -s.tol || len(s.amounts)-start < left {
		return false
	}
	key := memoKey{start: start, left: left, remaining: remaining}
	if s.dead[key] {
		return false
	}
	// amounts are sorted descending, so the next `left` values are the most we can add
	var reach int64
	for i := start; i < start+left; i++ {
		reach += s.amounts[i]
	}
	if reach < remaining-s.tol {
		s.dead[key] = true
		return false
	}

	found := false
	for i := start; i < len(s.amounts); i++ {
		if s.amounts[i] > remaining+s.tol {
			continue
		}
		if s.walk(i+1, left-1, remaining-s.amounts[i], append(picked, i), out) {
			found = true
		}
		if s.nodes >= s.budget || len(*out) >= maxSolutionsPerSize {
			return found
		}
	}
	if !found {
		s.dead[key] = true
	}
	return found
}
