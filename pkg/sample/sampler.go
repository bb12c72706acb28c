// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sample

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/search"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelSampler implements Sampler by drawing each token from the model's next-token
// distribution, raised to the power alpha (the inverse temperature) and renormalized.
//
// All samples are drawn in parallel, as the rows of one batch. Coverage, if the model uses
// it, is tracked with a search.AuxState as in beam search.
//
// A ModelSampler is not safe for concurrent use.
type ModelSampler struct {
	model        model.Model
	eosID        int
	auxMode      search.AuxMode
	coverageDim  int
	accumulation search.Accumulation
	rng          *rand.Rand
}

var _ Sampler = (*ModelSampler)(nil)

// NewModelSampler creates a sampler over m, with a random number generator seeded with seed.
func NewModelSampler(m model.Model, eosID int, seed uint64) *ModelSampler {
	return &ModelSampler{
		model: m,
		eosID: eosID,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// WithCoverage enables coverage tracking, see search.BeamSearch.WithCoverage.
func (s *ModelSampler) WithCoverage(dim int, accumulation search.Accumulation) *ModelSampler {
	if !s.auxMode.HasCoverage() {
		s.auxMode = search.AuxCoverage
	}
	s.coverageDim = dim
	s.accumulation = accumulation
	return s
}

// WithFertility enables the fertility vector, see search.BeamSearch.WithFertility.
func (s *ModelSampler) WithFertility() *ModelSampler {
	s.auxMode = search.AuxCoverageWithFertility
	return s
}

// EOS returns the end-of-sequence token id.
func (s *ModelSampler) EOS() int { return s.eosID }

// Sample implements Sampler. Samples stop at the end-of-sequence token, or after maxLen tokens.
func (s *ModelSampler) Sample(ctx context.Context, source []int, nSamples, maxLen int, alpha float64) (
	tokens [][]int, logProbs [][]float64, err error) {
	if nSamples <= 0 {
		return nil, nil, errors.Errorf("number of samples must be > 0, got %d", nSamples)
	}
	if alpha <= 0 || math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return nil, nil, errors.Errorf("inverse temperature must be a positive number, got %g", alpha)
	}
	repr, err := s.model.Representation(ctx, source)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to compute the source representation")
	}
	if releaser, ok := s.model.(model.Releaser); ok {
		defer func() {
			if releaseErr := releaser.Release(ctx, repr); releaseErr != nil {
				klog.Warningf("failed to release source representation: %+v", releaseErr)
			}
		}()
	}

	var fertility []float32
	if s.auxMode.HasFertility() {
		fertilityModel, ok := s.model.(model.FertilityModel)
		if !ok {
			return nil, nil, errors.Errorf("fertility enabled, but model %T doesn't implement model.FertilityModel", s.model)
		}
		if fertility, err = fertilityModel.Fertility(ctx, repr); err != nil {
			return nil, nil, errors.WithMessagef(err, "failed to compute the fertility")
		}
	}
	initialStates, err := s.model.InitialStates(ctx, repr)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to compute the initial states")
	}
	if err = model.CheckStates(initialStates, 1); err != nil {
		return nil, nil, err
	}
	aux, err := search.NewAuxState(s.auxMode, s.coverageDim, repr.SourceLen(), s.accumulation, fertility)
	if err != nil {
		return nil, nil, err
	}

	// Replicate the single initial row for every sample.
	rows := make([]int, nSamples)
	states := xslices.Map(initialStates, func(levelState model.State) model.State {
		return xslices.GatherFunc(levelState, rows, slices.Clone[[]float32])
	})
	aux = aux.Gather(rows)

	tokens = make([][]int, nSamples)
	logProbs = make([][]float64, nSamples)
	done := make([]bool, nSamples)
	lastTokens := make([]int, nSamples)
	for i := range lastTokens {
		lastTokens[i] = search.StartToken
	}
	for step := 0; step < maxLen; step++ {
		if err = ctx.Err(); err != nil {
			return nil, nil, errors.Wrapf(err, "sampling interrupted at step %d", step)
		}
		probs, alignment, err := s.model.NextProbs(ctx, repr, step, lastTokens, states, aux.Aux())
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "failed to compute next token probabilities at step %d", step)
		}
		if err = model.CheckProbs(probs, alignment, nSamples, repr.SourceLen()); err != nil {
			return nil, nil, errors.WithMessagef(err, "step %d", step)
		}
		allDone := true
		for i := range nSamples {
			if done[i] {
				lastTokens[i] = s.eosID
				continue
			}
			token := s.draw(probs[i], alpha)
			tokens[i] = append(tokens[i], token)
			logProbs[i] = append(logProbs[i], math.Log(float64(probs[i][token])))
			lastTokens[i] = token
			done[i] = token == s.eosID
			allDone = allDone && done[i]
		}
		if allDone {
			break
		}
		var coverage model.Coverage
		states, coverage, err = s.model.NextStates(ctx, repr, step, lastTokens, states, aux.Aux())
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "failed to compute next states at step %d", step)
		}
		if err = model.CheckStates(states, nSamples); err != nil {
			return nil, nil, errors.WithMessagef(err, "step %d", step)
		}
		if err = aux.Replace(coverage, nSamples); err != nil {
			return nil, nil, errors.WithMessagef(err, "step %d", step)
		}
	}
	return tokens, logProbs, nil
}

// draw a token from probs^alpha. If all weights are zero, it returns the most likely token.
func (s *ModelSampler) draw(probs []float32, alpha float64) int {
	weights := make([]float64, len(probs))
	var total float64
	for t, p := range probs {
		if p > 0 {
			weights[t] = math.Pow(float64(p), alpha)
			total += weights[t]
		}
	}
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		best := 0
		for t, p := range probs {
			if p > probs[best] {
				best = t
			}
		}
		return best
	}
	target := s.rng.Float64() * total
	for t, w := range weights {
		if w == 0 {
			continue
		}
		target -= w
		if target < 0 {
			return t
		}
	}
	// Rounding: return the last token with non-zero weight.
	for t := len(weights) - 1; t >= 0; t-- {
		if weights[t] > 0 {
			return t
		}
	}
	return 0
}
