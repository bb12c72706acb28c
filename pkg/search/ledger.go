// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"container/heap"
	"math"
	"slices"
)

// Candidate is one (hypothesis, next token) continuation selected by SelectBest.
type Candidate struct {
	// Origin is the index of the hypothesis being extended.
	Origin int

	// Token is the next token id.
	Token int

	// Cost is the cumulative cost of the extended hypothesis: the origin's cost plus
	// the negative log-probability of Token.
	Cost float64
}

// candidateHeap is a max-heap on (cost, flatIdx): the root is the worst candidate kept so far.
type candidateHeap []rankedCandidate

type rankedCandidate struct {
	Candidate
	flatIdx int
}

// worse reports whether a ranks after b: higher cost, or same cost and later enumeration.
func (a rankedCandidate) worse(b rankedCandidate) bool {
	if a.Cost != b.Cost {
		return a.Cost > b.Cost
	}
	return a.flatIdx > b.flatIdx
}

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(rankedCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}

// SelectBest selects the n lowest-cost continuations among all B×V candidates, where
// B = len(costs) is the number of hypotheses and V the vocabulary size.
//
// The cost of candidate (i, t) is costs[i] - log(probs[i][t]). The selection is global: a
// strong hypothesis may contribute several candidates and a weak one none.
//
// Candidates with an infinite or NaN cost (zero-probability or masked tokens) are never
// selected, so fewer than n candidates are returned if there aren't enough finite ones.
//
// The result is sorted by ascending cost; equal costs are ordered by enumeration order
// (i*V + t), which makes the selection deterministic for a given input.
func SelectBest(costs []float64, probs [][]float32, n int) []Candidate {
	if n <= 0 || len(costs) == 0 {
		return nil
	}
	vocabSize := len(probs[0])
	h := make(candidateHeap, 0, n)
	for i, baseCost := range costs {
		for t, p := range probs[i] {
			cost := baseCost - math.Log(float64(p))
			if math.IsNaN(cost) || math.IsInf(cost, 0) {
				continue
			}
			c := rankedCandidate{
				Candidate: Candidate{Origin: i, Token: t, Cost: cost},
				flatIdx:   i*vocabSize + t,
			}
			if h.Len() < n {
				heap.Push(&h, c)
			} else if h[0].worse(c) {
				h[0] = c
				heap.Fix(&h, 0)
			}
		}
	}

	slices.SortFunc(h, func(a, b rankedCandidate) int {
		if b.worse(a) {
			return -1
		}
		if a.worse(b) {
			return 1
		}
		return 0
	})
	selected := make([]Candidate, len(h))
	for ii, c := range h {
		// Decode the flat index back into (origin, token).
		selected[ii] = Candidate{Origin: c.flatIdx / vocabSize, Token: c.flatIdx % vocabSize, Cost: c.Cost}
	}
	return selected
}

// MaskToken sets the probability of token to zero (cost +Inf) for every hypothesis, in place.
// Negative token ids are ignored.
func MaskToken(probs [][]float32, token int) {
	if token < 0 {
		return
	}
	for _, row := range probs {
		if token < len(row) {
			row[token] = 0
		}
	}
}
