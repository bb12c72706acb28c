// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package modeltest provides deterministic scripted models, to test decoders without a
// trained network.
package modeltest

import (
	"context"
	"slices"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/pkg/errors"
)

// Representation of a Toy model: it simply remembers the source.
type Representation struct {
	Source []int
}

// SourceLen implements model.Representation.
func (r *Representation) SourceLen() int { return len(r.Source) }

// Toy state layout: each hypothesis has one state level with these columns, so tests can
// verify that states follow their hypotheses when the beam is re-indexed.
const (
	// StateLen column holds the number of tokens fed so far.
	StateLen = iota

	// StateLastToken column holds the last token fed (-1 if none).
	StateLastToken

	// StateTokenSum column holds the sum of the token ids fed so far, a cheap path signature.
	StateTokenSum

	// StateDim is the dimension of the toy state.
	StateDim
)

// ProbsFn returns the next-token distribution of one hypothesis, given the step, the last token
// fed and its toy state row (see StateLen, StateLastToken, StateTokenSum).
//
// The returned slice is copied, so it can be shared across calls.
type ProbsFn func(step int, lastToken int, state []float32) []float32

// Toy is a scripted model.Model, implementing model.FertilityModel and model.Releaser as well.
//
// Coverage, when requested, is updated by NextStates adding CoverageDelta to all components
// of source position (token % sourceLen) of each hypothesis. Alignments are one-hot on source
// position (step % sourceLen).
type Toy struct {
	// Probs returns the distribution of the next token. Required.
	Probs ProbsFn

	// FertilityValues returned by Fertility. If nil, Fertility returns 1 for every position.
	FertilityValues []float32

	// CoverageDelta added to the coverage of the source position aligned to each new token.
	CoverageDelta float32

	// FailAtStep makes NextProbs fail at the given step, if >= 0. Set to -1 by NewToy.
	FailAtStep int

	// Counters of calls, for tests.
	RepresentationCalls, NextProbsCalls, NextStatesCalls, Released int

	// LastAux is the auxiliary input received by the last NextProbs call.
	LastAux model.Aux
}

var (
	_ model.Model          = (*Toy)(nil)
	_ model.FertilityModel = (*Toy)(nil)
	_ model.Releaser       = (*Toy)(nil)
)

// NewToy creates a Toy model with the given distribution function.
func NewToy(probs ProbsFn) *Toy {
	return &Toy{Probs: probs, FailAtStep: -1, CoverageDelta: 1}
}

// ErrScripted is returned by the Toy model when FailAtStep is reached.
var ErrScripted = errors.New("modeltest: scripted model failure")

// Representation implements model.Model.
func (m *Toy) Representation(_ context.Context, source []int) (model.Representation, error) {
	m.RepresentationCalls++
	return &Representation{Source: slices.Clone(source)}, nil
}

// Fertility implements model.FertilityModel.
func (m *Toy) Fertility(_ context.Context, repr model.Representation) ([]float32, error) {
	if m.FertilityValues != nil {
		return slices.Clone(m.FertilityValues), nil
	}
	fertility := make([]float32, repr.SourceLen())
	for ii := range fertility {
		fertility[ii] = 1
	}
	return fertility, nil
}

// Release implements model.Releaser.
func (m *Toy) Release(_ context.Context, _ model.Representation) error {
	m.Released++
	return nil
}

// InitialStates implements model.Model: one level, one row.
func (m *Toy) InitialStates(_ context.Context, _ model.Representation) ([]model.State, error) {
	row := make([]float32, StateDim)
	row[StateLastToken] = -1
	return []model.State{{row}}, nil
}

// NextProbs implements model.Model.
func (m *Toy) NextProbs(_ context.Context, repr model.Representation, step int, lastTokens []int, states []model.State, aux model.Aux) (
	probs [][]float32, alignment [][]float32, err error) {
	m.NextProbsCalls++
	m.LastAux = aux
	if m.FailAtStep >= 0 && step >= m.FailAtStep {
		return nil, nil, errors.WithStack(ErrScripted)
	}
	rows := len(lastTokens)
	probs = make([][]float32, rows)
	for ii, last := range lastTokens {
		probs[ii] = slices.Clone(m.Probs(step, last, states[0][ii]))
	}
	sourceLen := repr.SourceLen()
	alignment = make([][]float32, sourceLen)
	for pos := range alignment {
		alignment[pos] = make([]float32, rows)
		if pos == step%sourceLen {
			for ii := range alignment[pos] {
				alignment[pos][ii] = 1
			}
		}
	}
	return probs, alignment, nil
}

// NextStates implements model.Model.
func (m *Toy) NextStates(_ context.Context, repr model.Representation, _ int, tokens []int, states []model.State, aux model.Aux) (
	[]model.State, model.Coverage, error) {
	m.NextStatesCalls++
	if err := model.CheckStates(states, len(tokens)); err != nil {
		return nil, nil, err
	}
	next := make(model.State, len(tokens))
	for ii, token := range tokens {
		row := slices.Clone(states[0][ii])
		row[StateLen]++
		row[StateLastToken] = float32(token)
		row[StateTokenSum] += float32(token)
		next[ii] = row
	}
	if aux.Coverage == nil {
		return []model.State{next}, nil, nil
	}
	if aux.Coverage.Rows() != len(tokens) {
		return nil, nil, errors.Errorf("coverage has %d rows, expected %d", aux.Coverage.Rows(), len(tokens))
	}
	sourceLen := repr.SourceLen()
	coverage := make(model.Coverage, len(tokens))
	for ii, token := range tokens {
		coverage[ii] = make([][]float32, sourceLen)
		for pos, v := range aux.Coverage[ii] {
			coverage[ii][pos] = slices.Clone(v)
			if pos == token%sourceLen {
				for d := range coverage[ii][pos] {
					coverage[ii][pos][d] += m.CoverageDelta
				}
			}
		}
	}
	return []model.State{next}, coverage, nil
}
