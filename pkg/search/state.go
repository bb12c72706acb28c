// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

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

// State is the state of one beam search attempt between two steps.
//
// Row i of Live, of every level of States and of Aux refer to the same hypothesis.
// Run.Step never modifies a State: it returns a new one.
type State struct {
	// Step is the index of the next step to run.
	Step int

	// Live hypotheses of the beam.
	Live Hypotheses

	// States are the recurrent model states of the live hypotheses, one per level.
	States []model.State

	// Aux holds the coverage of the live hypotheses and the fertility of the source.
	Aux *AuxState

	// Finished hypotheses, in the order they finished.
	Finished Hypotheses

	// Remaining is the number of hypotheses still to be found. It starts as the requested
	// number of samples and is decremented each time a hypothesis finishes.
	Remaining int
}

// CheckRows panics (with exceptions.Panicf) if the live hypotheses, the recurrent states and
// the coverage don't have the same number of rows.
func (s *State) CheckRows() {
	rows := len(s.Live)
	for level, levelState := range s.States {
		if levelState.Rows() != rows {
			exceptions.Panicf("search state at step %d misaligned: %d live hypotheses, but recurrent state level %d has %d rows",
				s.Step, rows, level, levelState.Rows())
		}
	}
	if auxRows := s.Aux.Rows(); auxRows >= 0 && auxRows != rows {
		exceptions.Panicf("search state at step %d misaligned: %d live hypotheses, but coverage has %d rows",
			s.Step, rows, auxRows)
	}
}

// flush returns the live hypotheses as if they had finished, with their current coverage summary.
func (s *State) flush() Hypotheses {
	flushed := make(Hypotheses, len(s.Live))
	for ii, h := range s.Live {
		flushed[ii] = h.Clone()
		flushed[ii].Coverage = s.Aux.ExtractFinished(ii)
	}
	return flushed
}

// gatherStates re-indexes every level of the recurrent states.
func gatherStates(states []model.State, indices []int) []model.State {
	return xslices.Map(states, func(levelState model.State) model.State {
		return xslices.Gather(levelState, indices)
	})
}

// Run is one beam search attempt over one source sequence: it holds what is computed once
// per source (representation and fertility) and drives the steps.
//
// A Run is created by BeamSearch.NewRun and must be closed with Run.Close.
type Run struct {
	bs         *BeamSearch
	repr       model.Representation
	fertility  []float32
	opts       Options
	sourceLen  int
	stepBudget int
}

// NewRun computes the source representation (and fertility, if enabled) and returns the initial
// state: a single empty hypothesis with cost 0, the model's initial recurrent states and the
// initial coverage.
func (bs *BeamSearch) NewRun(ctx context.Context, source []int, nSamples int, opts Options) (*Run, *State, error) {
	if len(source) == 0 {
		return nil, nil, errors.New("cannot search translations of an empty source sequence")
	}
	if nSamples <= 0 {
		return nil, nil, errors.Errorf("number of samples must be > 0, got %d", nSamples)
	}
	repr, err := bs.model.Representation(ctx, source)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to compute the source representation")
	}
	r := &Run{
		bs:         bs,
		repr:       repr,
		opts:       opts,
		sourceLen:  repr.SourceLen(),
		stepBudget: bs.stepBudgetFactor * len(source),
	}
	state, err := r.init(ctx, nSamples)
	if err != nil {
		r.Close(ctx)
		return nil, nil, err
	}
	return r, state, nil
}

func (r *Run) init(ctx context.Context, nSamples int) (*State, error) {
	var err error
	if r.bs.auxMode.HasFertility() {
		fertilityModel, ok := r.bs.model.(model.FertilityModel)
		if !ok {
			return nil, errors.Errorf("fertility enabled, but model %T doesn't implement model.FertilityModel", r.bs.model)
		}
		r.fertility, err = fertilityModel.Fertility(ctx, r.repr)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to compute the fertility")
		}
	}
	states, err := r.bs.model.InitialStates(ctx, r.repr)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to compute the initial states")
	}
	if err = model.CheckStates(states, 1); err != nil {
		return nil, err
	}
	aux, err := NewAuxState(r.bs.auxMode, r.bs.coverageDim, r.sourceLen, r.bs.accumulation, r.fertility)
	if err != nil {
		return nil, err
	}
	state := &State{
		Live:      Hypotheses{{}},
		States:    states,
		Aux:       aux,
		Remaining: nSamples,
	}
	state.CheckRows()
	return state, nil
}

// Fertility returns the fertility of the source, or nil if not enabled.
func (r *Run) Fertility() []float32 { return r.fertility }

// StepBudget returns the maximum number of steps: a multiple of the source length.
func (r *Run) StepBudget() int { return r.stepBudget }

// Done returns whether the search is over for the given state: either no hypothesis is
// left to be found, or the step budget is exhausted.
func (r *Run) Done(s *State) bool {
	return s.Remaining <= 0 || len(s.Live) == 0 || s.Step >= r.stepBudget
}

// Close releases the representation, if the model holds resources for it.
func (r *Run) Close(ctx context.Context) {
	releaser, ok := r.bs.model.(model.Releaser)
	if !ok {
		return
	}
	if err := releaser.Release(ctx, r.repr); err != nil {
		klog.Warningf("failed to release source representation: %+v", err)
	}
}

// Step extends every live hypothesis by one token and returns the new state.
//
// The s.Remaining best continuations are selected globally among all hypotheses: fewer if
// there aren't enough with non-zero probability, in which case the beam narrows for this
// step only. The new hypotheses that emit the end-of-sequence token move to Finished; the
// recurrent states and the coverage of the others are re-indexed to follow them.
func (r *Run) Step(ctx context.Context, s *State) (*State, error) {
	bs := r.bs
	rows := len(s.Live)
	probs, alignment, err := bs.model.NextProbs(ctx, r.repr, s.Step, s.Live.LastTokens(), s.States, s.Aux.Aux())
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to compute next token probabilities at step %d", s.Step)
	}
	if err = model.CheckProbs(probs, alignment, rows, r.sourceLen); err != nil {
		return nil, errors.WithMessagef(err, "step %d", s.Step)
	}
	if r.opts.IgnoreUnk {
		MaskToken(probs, bs.unkID)
	}
	if float64(s.Step) < r.opts.MinLen {
		MaskToken(probs, bs.eosID)
	}

	candidates := SelectBest(s.Live.Costs(), probs, s.Remaining)
	if len(candidates) < s.Remaining {
		klog.V(1).Infof("step %d: only %d continuations with non-zero probability, for %d samples remaining",
			s.Step, len(candidates), s.Remaining)
	}
	origins := xslices.Map(candidates, func(c Candidate) int { return c.Origin })
	extended := s.Live.Extend(candidates, alignment)
	states := gatherStates(s.States, origins)
	aux := s.Aux.Gather(origins)

	if len(candidates) > 0 {
		tokens := xslices.Map(candidates, func(c Candidate) int { return c.Token })
		var coverage model.Coverage
		states, coverage, err = bs.model.NextStates(ctx, r.repr, s.Step, tokens, states, aux.Aux())
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to compute next states at step %d", s.Step)
		}
		if err = model.CheckStates(states, len(candidates)); err != nil {
			return nil, errors.WithMessagef(err, "step %d", s.Step)
		}
		if err = aux.Replace(coverage, len(candidates)); err != nil {
			return nil, errors.WithMessagef(err, "step %d", s.Step)
		}
	}

	liveIdx, finishedIdx := extended.Partition(bs.eosID)
	finished := slices.Clip(s.Finished)
	for _, idx := range finishedIdx {
		h := extended[idx]
		h.Coverage = aux.ExtractFinished(idx)
		finished = append(finished, h)
	}
	finishedHypothesesTotal.Add(float64(len(finishedIdx)))
	next := &State{
		Step:      s.Step + 1,
		Live:      extended.Gather(liveIdx),
		States:    gatherStates(states, liveIdx),
		Aux:       aux.Gather(liveIdx),
		Finished:  finished,
		Remaining: s.Remaining - len(finishedIdx),
	}
	next.CheckRows()
	if klog.V(2).Enabled() {
		klog.Infof("step %d: %d live, %d finished (+%d)", s.Step, len(next.Live), len(next.Finished), len(finishedIdx))
	}
	return next, nil
}
