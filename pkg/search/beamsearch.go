// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package search implements beam search decoding over an encoder-decoder translation model.
//
// The main entry point is BeamSearch.Search, which returns the best complete translations
// of a source sequence. For finer control (e.g. inspecting intermediate beams), BeamSearch.NewRun
// and Run.Step expose the individual steps: each step takes a State and returns a new one.
//
// Example:
//
//	bs := search.New(myModel, eosID, unkID).WithCoverage(1, search.Additive)
//	result, err := bs.Search(ctx, source, 12, search.Options{IgnoreUnk: true, MinLen: float64(len(source)) / 2})
//	if err != nil { ... }
//	if result.Failed() {
//		klog.Warningf("no complete translation: %v", result.Failure)
//	}
//	best := result.Hypotheses[0]
package search

import (
	"context"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultMaxBeamSize is the beam size up to which Search keeps doubling the beam
	// when an attempt doesn't finish any hypothesis.
	DefaultMaxBeamSize = 100

	// DefaultMaxAttempts bounds the number of attempts of one Search.
	DefaultMaxAttempts = 16

	// DefaultStepBudgetFactor is the number of steps allowed per source token.
	DefaultStepBudgetFactor = 3
)

// Options of one search.
type Options struct {
	// IgnoreUnk masks the unknown word token, so it's never emitted. It is lifted
	// automatically if the search fails to finish any hypothesis.
	IgnoreUnk bool

	// MinLen is the minimum translation length: the end-of-sequence token is masked
	// at every step k with float64(k) < MinLen.
	MinLen float64
}

// BeamSearch searches for the lowest-cost translations of a source sequence.
//
// Create it with New and configure it with the With* methods, before the first search.
// A BeamSearch holds no per-search state, and can be reused for many sources, but not
// concurrently if the model doesn't support it.
type BeamSearch struct {
	model        model.Model
	eosID, unkID int

	auxMode      AuxMode
	coverageDim  int
	accumulation Accumulation

	maxBeamSize      int
	maxAttempts      int
	stepBudgetFactor int
}

// New creates a BeamSearch for the model, given the end-of-sequence and unknown word token ids.
func New(m model.Model, eosID, unkID int) *BeamSearch {
	return &BeamSearch{
		model:            m,
		eosID:            eosID,
		unkID:            unkID,
		auxMode:          AuxNone,
		maxBeamSize:      DefaultMaxBeamSize,
		maxAttempts:      DefaultMaxAttempts,
		stepBudgetFactor: DefaultStepBudgetFactor,
	}
}

// WithCoverage enables coverage tracking, with dim components per source position.
// It returns the BeamSearch itself, so calls can be chained.
func (bs *BeamSearch) WithCoverage(dim int, accumulation Accumulation) *BeamSearch {
	if !bs.auxMode.HasCoverage() {
		bs.auxMode = AuxCoverage
	}
	bs.coverageDim = dim
	bs.accumulation = accumulation
	return bs
}

// WithFertility enables the fertility vector. The model must implement model.FertilityModel,
// and coverage must be enabled with WithCoverage.
func (bs *BeamSearch) WithFertility() *BeamSearch {
	bs.auxMode = AuxCoverageWithFertility
	return bs
}

// WithAuxMode sets the auxiliary mode directly. Usually WithCoverage and WithFertility are simpler.
func (bs *BeamSearch) WithAuxMode(mode AuxMode) *BeamSearch {
	bs.auxMode = mode
	return bs
}

// WithMaxBeamSize sets the beam size up to which the beam is doubled on retries.
// Default is DefaultMaxBeamSize.
func (bs *BeamSearch) WithMaxBeamSize(size int) *BeamSearch {
	bs.maxBeamSize = size
	return bs
}

// WithMaxAttempts bounds the number of independent attempts of one Search.
// Default is DefaultMaxAttempts.
func (bs *BeamSearch) WithMaxAttempts(attempts int) *BeamSearch {
	bs.maxAttempts = attempts
	return bs
}

// WithStepBudgetFactor sets the number of steps allowed per source token.
// Default is DefaultStepBudgetFactor.
func (bs *BeamSearch) WithStepBudgetFactor(factor int) *BeamSearch {
	bs.stepBudgetFactor = factor
	return bs
}

// AuxMode returns the auxiliary state tracked.
func (bs *BeamSearch) AuxMode() AuxMode { return bs.auxMode }

// EOS returns the end-of-sequence token id.
func (bs *BeamSearch) EOS() int { return bs.eosID }

// Result of a search.
type Result struct {
	// Hypotheses found, sorted by ascending cost (ties keep the order in which they finished).
	Hypotheses Hypotheses

	// Fertility of the source, if enabled.
	Fertility []float32

	// Attempts is the number of independent searches run: 1 unless the first one didn't
	// finish any hypothesis.
	Attempts int

	// Failure is set (to a *SearchExhaustedError) if no hypothesis finished, even after
	// the retries: Hypotheses then holds the live hypotheses of the last attempt, which don't
	// end with the end-of-sequence token.
	Failure error
}

// Failed returns whether the search ended without any complete hypothesis.
func (r *Result) Failed() bool { return r.Failure != nil }

// Costs returns the costs of the hypotheses found.
func (r *Result) Costs() []float64 { return r.Hypotheses.Costs() }

// Search returns up to nSamples translations of source, sorted by ascending cost.
//
// If an attempt exhausts its step budget (3 steps per source token, by default) without
// finishing any hypothesis, the search is retried from scratch: first allowing the unknown word
// (if it was masked), then doubling the beam size while it's below the maximum beam size. When
// no retry is left, the live hypotheses of the last attempt are returned and Result.Failure is set.
//
// Errors from the model, and internal inconsistencies, are returned as error.
func (bs *BeamSearch) Search(ctx context.Context, source []int, nSamples int, opts Options) (result *Result, err error) {
	err = exceptions.TryCatch[error](func() {
		result = bs.search(ctx, source, nSamples, opts)
	})
	if err != nil {
		searchesTotal.WithLabelValues(outcomeError).Inc()
		return nil, errors.WithMessagef(err, "beam search of source with %d tokens", len(source))
	}
	if result.Failed() {
		searchesTotal.WithLabelValues(outcomeFailed).Inc()
	} else {
		searchesTotal.WithLabelValues(outcomeDone).Inc()
	}
	return result, nil
}

// search implements Search: errors are thrown with panic.
func (bs *BeamSearch) search(ctx context.Context, source []int, nSamples int, opts Options) *Result {
	for attempt := 1; ; attempt++ {
		final, run, err := bs.attempt(ctx, source, nSamples, opts)
		if err != nil {
			panic(err)
		}
		if len(final.Finished) > 0 {
			return newResult(final.Finished, run.Fertility(), attempt, nil)
		}

		// No hypothesis finished: relax the search and try again.
		canRetry := attempt < bs.maxAttempts
		switch {
		case canRetry && opts.IgnoreUnk:
			klog.Warningf("Did not manage without UNK")
			searchRetriesTotal.WithLabelValues(retryAllowUnk).Inc()
			opts.IgnoreUnk = false
		case canRetry && nSamples < bs.maxBeamSize:
			nSamples *= 2
			klog.Warningf("Still no translations: try beam size %d", nSamples)
			searchRetriesTotal.WithLabelValues(retryDoubleBeam).Inc()
		default:
			failure := &SearchExhaustedError{
				SourceLen:  len(source),
				StepBudget: run.StepBudget(),
				BeamSize:   nSamples,
				IgnoreUnk:  opts.IgnoreUnk,
				Attempts:   attempt,
			}
			klog.Errorf("Translation failed: %v", failure)
			return newResult(final.flush(), run.Fertility(), attempt, failure)
		}
	}
}

// attempt runs one independent search until it's done, and returns its final state.
func (bs *BeamSearch) attempt(ctx context.Context, source []int, nSamples int, opts Options) (*State, *Run, error) {
	run, state, err := bs.NewRun(ctx, source, nSamples, opts)
	if err != nil {
		return nil, nil, err
	}
	defer run.Close(ctx)
	for !run.Done(state) {
		if err = ctx.Err(); err != nil {
			return nil, nil, errors.Wrapf(err, "beam search interrupted at step %d", state.Step)
		}
		state, err = run.Step(ctx, state)
		if err != nil {
			return nil, nil, err
		}
	}
	searchSteps.Observe(float64(state.Step))
	if klog.V(1).Enabled() {
		klog.Infof("beam search attempt done after %d steps: %d finished, %d live", state.Step, len(state.Finished), len(state.Live))
	}
	return state, run, nil
}

func newResult(hyps Hypotheses, fertility []float32, attempts int, failure error) *Result {
	hyps = slices.Clone(hyps)
	slices.SortStableFunc(hyps, func(a, b Hypothesis) int {
		switch {
		case a.Cost < b.Cost:
			return -1
		case a.Cost > b.Cost:
			return 1
		}
		return 0
	})
	return &Result{
		Hypotheses: hyps,
		Fertility:  fertility,
		Attempts:   attempts,
		Failure:    failure,
	}
}

// SortByCost returns the permutation that sorts costs in ascending order, keeping the order of equal costs.
func SortByCost(costs []float64) []int {
	return xslices.ArgsortStable(costs)
}
