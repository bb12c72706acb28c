// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
)

// StartToken is fed to the model as the "last token" of every hypothesis at step 0.
const StartToken = 0

// Hypothesis is one candidate translation, partial while in the beam and complete once finished.
type Hypothesis struct {
	// Tokens emitted so far. A finished hypothesis ends with the end-of-sequence token,
	// unless it was flushed by a failed search.
	Tokens []int

	// Alignments has one vector per emitted token, each with one weight per source position.
	Alignments [][]float32

	// Cost is the sum of the negative log-probabilities of Tokens.
	Cost float64

	// Coverage is the final coverage summary of a finished hypothesis (coverage
	// component 0 of each source position). It is nil while the hypothesis is live or if
	// coverage is not tracked.
	Coverage []float32
}

// Len returns the number of tokens emitted.
func (h Hypothesis) Len() int { return len(h.Tokens) }

// Hypotheses is the ordered set of live hypotheses of a beam.
type Hypotheses []Hypothesis

// Costs returns the cumulative cost of each hypothesis.
func (hs Hypotheses) Costs() []float64 {
	return xslices.Map(hs, func(h Hypothesis) float64 { return h.Cost })
}

// LastTokens returns the last token of each hypothesis, or StartToken for empty ones.
func (hs Hypotheses) LastTokens() []int {
	return xslices.Map(hs, func(h Hypothesis) int {
		if len(h.Tokens) == 0 {
			return StartToken
		}
		return xslices.Last(h.Tokens)
	})
}

// Extend builds the next beam: one new hypothesis per candidate, made of its origin's tokens
// plus the candidate token, its origin's alignments plus this step's alignment column of
// the origin, and the candidate cost.
//
// alignment is shaped [sourceLen][len(hs)], as returned by the model.
// The Tokens and Alignments slices of the new hypotheses are freshly allocated, so appending
// to one never affects a sibling. Past alignment vectors are treated as immutable and shared.
func (hs Hypotheses) Extend(candidates []Candidate, alignment [][]float32) Hypotheses {
	next := make(Hypotheses, len(candidates))
	for ii, c := range candidates {
		if c.Origin < 0 || c.Origin >= len(hs) {
			exceptions.Panicf("search: candidate %d has origin %d, but beam only has %d hypotheses", ii, c.Origin, len(hs))
		}
		origin := hs[c.Origin]
		column := make([]float32, len(alignment))
		for pos, row := range alignment {
			column[pos] = row[c.Origin]
		}
		tokens := make([]int, len(origin.Tokens), len(origin.Tokens)+1)
		copy(tokens, origin.Tokens)
		alignments := make([][]float32, len(origin.Alignments), len(origin.Alignments)+1)
		copy(alignments, origin.Alignments)
		next[ii] = Hypothesis{
			Tokens:     append(tokens, c.Token),
			Alignments: append(alignments, column),
			Cost:       c.Cost,
		}
	}
	return next
}

// Partition splits the indices of hs into those still live and those that just emitted the
// end-of-sequence token eos. Both keep the beam order.
func (hs Hypotheses) Partition(eos int) (live, finished []int) {
	for ii, h := range hs {
		if len(h.Tokens) > 0 && xslices.Last(h.Tokens) == eos {
			finished = append(finished, ii)
		} else {
			live = append(live, ii)
		}
	}
	return
}

// Gather returns the hypotheses at the given indices.
func (hs Hypotheses) Gather(indices []int) Hypotheses {
	return xslices.Gather(hs, indices)
}

// Clone returns a deep copy of the hypothesis.
func (h Hypothesis) Clone() Hypothesis {
	return Hypothesis{
		Tokens:     slices.Clone(h.Tokens),
		Alignments: xslices.CloneMatrix(h.Alignments),
		Cost:       h.Cost,
		Coverage:   slices.Clone(h.Coverage),
	}
}
