// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the contract between the decoders and a trained encoder-decoder
// translation model.
//
// The decoders never look inside the model: they only ask it to encode a source sequence
// (Model.Representation), to produce the initial recurrent states (Model.InitialStates),
// and, at every decoding step, for the next-token distribution (Model.NextProbs) and the
// updated recurrent states (Model.NextStates).
//
// All per-hypothesis values are "row-major": row i of every State, of the Coverage and of
// the probability matrix refers to the same hypothesis.
package model

import (
	"context"

	"github.com/pkg/errors"
)

// Representation is the opaque encoding of one source sequence.
//
// It is computed once per source sequence and is read-only afterwards.
type Representation interface {
	// SourceLen returns the number of source positions encoded (one per source token,
	// end-of-sequence symbol included). Alignment vectors and coverage matrices have
	// this length.
	SourceLen() int
}

// State is one level of the recurrent decoder state, shaped [rows][dim].
type State [][]float32

// Rows returns the number of hypotheses the state holds.
func (s State) Rows() int { return len(s) }

// Coverage holds the coverage accumulators, shaped [rows][sourceLen][coverageDim].
//
// The hypothesis axis comes first, so that re-indexing hypotheses is a plain gather of rows.
type Coverage [][][]float32

// Rows returns the number of hypotheses the coverage holds.
func (c Coverage) Rows() int { return len(c) }

// Aux are the optional auxiliary inputs of the decoding steps.
// Fields are nil when the corresponding capability is disabled.
type Aux struct {
	// Coverage before the step, one row per hypothesis.
	Coverage Coverage

	// Fertility has one value per source position, shared by all hypotheses.
	Fertility []float32
}

// Model is the encoder-decoder collaborator used by beam search and sampling.
//
// Implementations are called sequentially: one batched call per step, and never
// concurrently for the same Representation.
type Model interface {
	// Representation encodes the source token ids.
	Representation(ctx context.Context, source []int) (Representation, error)

	// InitialStates returns the initial recurrent states: one State per level, each with 1 row.
	InitialStates(ctx context.Context, repr Representation) ([]State, error)

	// NextProbs returns the next-token probabilities, shaped [rows][vocabSize], and the
	// alignment of this step, shaped [sourceLen][rows].
	//
	// lastTokens holds the last emitted token of each hypothesis (a start placeholder at step 0).
	NextProbs(ctx context.Context, repr Representation, step int, lastTokens []int, states []State, aux Aux) (
		probs [][]float32, alignment [][]float32, err error)

	// NextStates feeds the newly selected tokens and returns the updated recurrent states.
	// If aux.Coverage is not nil, the updated coverage is returned as well.
	NextStates(ctx context.Context, repr Representation, step int, tokens []int, states []State, aux Aux) (
		[]State, Coverage, error)
}

// FertilityModel is implemented by models that estimate a fertility per source position.
type FertilityModel interface {
	Fertility(ctx context.Context, repr Representation) ([]float32, error)
}

// Releaser is implemented by models that hold resources per Representation (e.g. a
// remote session). Decoders call Release once they are done with a representation.
type Releaser interface {
	Release(ctx context.Context, repr Representation) error
}

// CheckProbs verifies the shapes returned by Model.NextProbs for a beam of the given size.
func CheckProbs(probs, alignment [][]float32, rows, sourceLen int) error {
	if len(probs) != rows {
		return errors.Errorf("model returned probabilities for %d hypotheses, expected %d", len(probs), rows)
	}
	vocabSize := -1
	for i, row := range probs {
		if vocabSize == -1 {
			vocabSize = len(row)
		}
		if len(row) != vocabSize || vocabSize == 0 {
			return errors.Errorf("model returned probabilities row %d with %d entries, expected %d (>0)",
				i, len(row), vocabSize)
		}
	}
	if len(alignment) != sourceLen {
		return errors.Errorf("model returned alignment for %d source positions, expected %d", len(alignment), sourceLen)
	}
	for pos, row := range alignment {
		if len(row) != rows {
			return errors.Errorf("model returned alignment of source position %d for %d hypotheses, expected %d",
				pos, len(row), rows)
		}
	}
	return nil
}

// CheckStates verifies that every level of the states has the given number of rows.
func CheckStates(states []State, rows int) error {
	if len(states) == 0 {
		return errors.New("model returned no recurrent state")
	}
	for level, s := range states {
		if s.Rows() != rows {
			return errors.Errorf("model returned recurrent state level %d with %d rows, expected %d",
				level, s.Rows(), rows)
		}
	}
	return nil
}

// CheckCoverage verifies the coverage shape: [rows][sourceLen][dim].
func CheckCoverage(coverage Coverage, rows, sourceLen, dim int) error {
	if coverage.Rows() != rows {
		return errors.Errorf("model returned coverage for %d hypotheses, expected %d", coverage.Rows(), rows)
	}
	for i, hypCoverage := range coverage {
		if len(hypCoverage) != sourceLen {
			return errors.Errorf("model returned coverage of hypothesis %d with %d source positions, expected %d",
				i, len(hypCoverage), sourceLen)
		}
		for pos, v := range hypCoverage {
			if len(v) != dim {
				return errors.Errorf("model returned coverage of hypothesis %d, source position %d with dimension %d, expected %d",
					i, pos, len(v), dim)
			}
		}
	}
	return nil
}
