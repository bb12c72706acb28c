// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"fmt"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/pkg/errors"
)

// AuxMode selects which auxiliary per-source state is tracked along with the hypotheses.
type AuxMode int

const (
	// AuxNone tracks no auxiliary state.
	AuxNone AuxMode = iota

	// AuxCoverage tracks a coverage matrix [sourceLen][coverageDim] per hypothesis.
	AuxCoverage

	// AuxCoverageWithFertility tracks coverage and feeds the model a fertility vector,
	// computed once per source sequence.
	AuxCoverageWithFertility
)

// String implements fmt.Stringer.
func (m AuxMode) String() string {
	switch m {
	case AuxNone:
		return "None"
	case AuxCoverage:
		return "CoverageOnly"
	case AuxCoverageWithFertility:
		return "CoverageWithFertility"
	default:
		return fmt.Sprintf("AuxMode(%d)", int(m))
	}
}

// HasCoverage returns whether the mode tracks coverage.
func (m AuxMode) HasCoverage() bool { return m == AuxCoverage || m == AuxCoverageWithFertility }

// HasFertility returns whether the mode uses a fertility vector.
func (m AuxMode) HasFertility() bool { return m == AuxCoverageWithFertility }

// Accumulation is how the model accumulates coverage. It only determines the initial value
// of the coverage: the arithmetic itself is done by the model in Model.NextStates.
type Accumulation int

const (
	// Additive coverage starts at 0 and grows as source positions are translated.
	Additive Accumulation = iota

	// Subtractive coverage starts at 1 and shrinks as source positions are translated.
	Subtractive
)

// String implements fmt.Stringer.
func (a Accumulation) String() string {
	switch a {
	case Additive:
		return "additive"
	case Subtractive:
		return "subtractive"
	default:
		return fmt.Sprintf("Accumulation(%d)", int(a))
	}
}

// InitialValue of each coverage component.
func (a Accumulation) InitialValue() float32 {
	if a == Subtractive {
		return 1
	}
	return 0
}

// AuxState keeps the coverage rows aligned with the live hypotheses, and holds the
// fertility vector shared by all of them.
//
// An AuxState is never modified in place by Gather: each re-indexing returns a new value,
// so a search state can be kept around (e.g. by tests) while the search moves on.
// With AuxNone all operations are no-ops.
type AuxState struct {
	mode      AuxMode
	dim       int
	sourceLen int
	coverage  model.Coverage
	fertility []float32
}

// NewAuxState creates the auxiliary state for a single (empty) hypothesis.
//
// fertility is only used with AuxCoverageWithFertility, and must then have sourceLen values.
func NewAuxState(mode AuxMode, dim, sourceLen int, accumulation Accumulation, fertility []float32) (*AuxState, error) {
	a := &AuxState{mode: mode, dim: dim, sourceLen: sourceLen}
	if !mode.HasCoverage() {
		return a, nil
	}
	if dim <= 0 {
		return nil, errors.Errorf("coverage dimension must be > 0 for %s, got %d", mode, dim)
	}
	if mode.HasFertility() {
		if len(fertility) != sourceLen {
			return nil, errors.Errorf("fertility has %d values, expected one per source position (%d)",
				len(fertility), sourceLen)
		}
		a.fertility = fertility
	}
	initial := accumulation.InitialValue()
	rowCoverage := make([][]float32, sourceLen)
	for pos := range rowCoverage {
		rowCoverage[pos] = xslices.Fill(dim, initial)
	}
	a.coverage = model.Coverage{rowCoverage}
	return a, nil
}

// Mode returns the auxiliary mode tracked.
func (a *AuxState) Mode() AuxMode { return a.mode }

// Rows returns the number of hypotheses whose coverage is tracked, or -1 if coverage is not tracked.
func (a *AuxState) Rows() int {
	if !a.mode.HasCoverage() {
		return -1
	}
	return a.coverage.Rows()
}

// Coverage returns the current coverage (nil if not tracked). It must not be modified.
func (a *AuxState) Coverage() model.Coverage { return a.coverage }

// Fertility returns the fertility vector (nil if not used). It must not be modified.
func (a *AuxState) Fertility() []float32 { return a.fertility }

// Aux returns the auxiliary inputs for the model calls.
func (a *AuxState) Aux() model.Aux {
	return model.Aux{Coverage: a.coverage, Fertility: a.fertility}
}

// Gather returns a new AuxState whose row i is a copy of row originIndices[i] of a.
// Repeated origins get independent copies.
func (a *AuxState) Gather(originIndices []int) *AuxState {
	if !a.mode.HasCoverage() {
		return a
	}
	gathered := *a
	gathered.coverage = xslices.GatherFunc(a.coverage, originIndices, xslices.CloneMatrix[float32])
	return &gathered
}

// Replace sets the coverage returned by the model, after checking its shape against
// the given number of rows.
func (a *AuxState) Replace(coverage model.Coverage, rows int) error {
	if !a.mode.HasCoverage() {
		return nil
	}
	if err := model.CheckCoverage(coverage, rows, a.sourceLen, a.dim); err != nil {
		return err
	}
	a.coverage = coverage
	return nil
}

// ExtractFinished returns the final coverage summary of row i: coverage component 0 of each
// source position. It returns nil if coverage is not tracked.
func (a *AuxState) ExtractFinished(i int) []float32 {
	if !a.mode.HasCoverage() {
		return nil
	}
	return xslices.Map(a.coverage[i], func(v []float32) float32 { return v[0] })
}

// Summaries returns ExtractFinished for every row.
func (a *AuxState) Summaries() [][]float32 {
	if !a.mode.HasCoverage() {
		return nil
	}
	summaries := make([][]float32, a.coverage.Rows())
	for ii := range summaries {
		summaries[ii] = a.ExtractFinished(ii)
	}
	return summaries
}
