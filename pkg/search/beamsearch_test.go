// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/model/modeltest"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vocabulary used by most tests: token 0 is the end-of-sequence, token 4 the unknown word.
const (
	testEOS = 0
	testUNK = 4
)

var testProbs = []float32{0.3, 0.35, 0.2, 0.1, 0.05}

// coverageCounts is the coverage summary the Toy model produces for tokens: one unit
// per token at source position token % sourceLen.
func coverageCounts(tokens []int, sourceLen int) []float32 {
	counts := make([]float32, sourceLen)
	for _, token := range tokens {
		counts[token%sourceLen]++
	}
	return counts
}

func findByTokens(hs Hypotheses, tokens []int) (Hypothesis, bool) {
	for _, h := range hs {
		if slices.Equal(h.Tokens, tokens) {
			return h, true
		}
	}
	return Hypothesis{}, false
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	toy := modeltest.NewToy(modeltest.Fixed(testProbs...))
	bs := New(toy, testEOS, testUNK).WithCoverage(2, Additive)
	source := []int{7, 8, 9, testEOS}
	sourceLen := len(source)
	run, state, err := bs.NewRun(ctx, source, 4, Options{MinLen: 1})
	require.NoError(t, err)
	defer run.Close(ctx)
	assert.Equal(t, 3*len(source), run.StepBudget())

	initial := state
	require.Len(t, initial.Live, 1)
	initialState := xslices.CloneMatrix(initial.States[0])

	for !run.Done(state) {
		next, err := run.Step(ctx, state)
		require.NoError(t, err)
		require.Equal(t, state.Step+1, next.Step)
		newlyFinished := next.Finished[len(state.Finished):]

		// The beam holds exactly as many hypotheses as samples remaining, as long as there
		// are enough candidates with non-zero probability.
		finite := len(state.Live) * len(testProbs)
		if state.Step < 1 {
			finite -= len(state.Live) // End-of-sequence masked by MinLen.
		}
		assert.Equal(t, min(state.Remaining, finite), len(next.Live)+len(newlyFinished))
		assert.Equal(t, state.Remaining-len(newlyFinished), next.Remaining)

		for ii, h := range next.Live {
			require.Equal(t, state.Step+1, h.Len())
			assert.NotEqual(t, testEOS, xslices.Last(h.Tokens))

			// Row alignment: states and coverage of row ii belong to hypothesis ii.
			row := next.States[0][ii]
			assert.Equal(t, float32(h.Len()), row[modeltest.StateLen])
			assert.Equal(t, float32(xslices.Last(h.Tokens)), row[modeltest.StateLastToken])
			sum := 0
			for _, token := range h.Tokens {
				sum += token
			}
			assert.Equal(t, float32(sum), row[modeltest.StateTokenSum])
			assert.Equal(t, coverageCounts(h.Tokens, sourceLen), next.Aux.ExtractFinished(ii))
		}

		for _, h := range append(slices.Clone(next.Live), newlyFinished...) {
			// Alignments are one-hot on step % sourceLen in the Toy model.
			require.Len(t, h.Alignments, h.Len())
			for step, a := range h.Alignments {
				assert.Equal(t, float32(1), a[step%sourceLen])
			}

			// Cost monotonicity: never lower than the hypothesis it extends.
			parent, found := findByTokens(state.Live, h.Tokens[:h.Len()-1])
			require.Truef(t, found, "parent of %v not in previous beam", h.Tokens)
			assert.GreaterOrEqual(t, h.Cost, parent.Cost)
			wantCost := parent.Cost - math.Log(float64(testProbs[xslices.Last(h.Tokens)]))
			assert.InDelta(t, wantCost, h.Cost, 1e-9)
		}

		for _, h := range newlyFinished {
			assert.Equal(t, testEOS, xslices.Last(h.Tokens))
			assert.Greater(t, h.Len(), 1, "MinLen=1 should prevent finishing at step 0")
			assert.Equal(t, coverageCounts(h.Tokens, sourceLen), h.Coverage)
		}
		state = next
	}
	assert.NotEmpty(t, state.Finished)

	// Steps never modify the state they are given.
	require.Len(t, initial.Live, 1)
	assert.Empty(t, initial.Live[0].Tokens)
	assert.Equal(t, initialState, [][]float32(initial.States[0]))
	assert.Equal(t, [][]float32{{0, 0, 0, 0}}, initial.Aux.Summaries())
}

func TestStepNarrowsBeam(t *testing.T) {
	ctx := context.Background()
	// Only tokens 1 and 2 have non-zero probability, and the end-of-sequence is always masked.
	toy := modeltest.NewToy(modeltest.Fixed(0, 0.5, 0.5))
	bs := New(toy, testEOS, testUNK)
	run, state, err := bs.NewRun(ctx, []int{7, 8, testEOS}, 4, Options{MinLen: 10})
	require.NoError(t, err)
	defer run.Close(ctx)

	// Step 0: a single hypothesis has only 2 continuations, so the beam narrows to 2.
	state, err = run.Step(ctx, state)
	require.NoError(t, err)
	assert.Len(t, state.Live, 2)
	assert.Empty(t, state.Finished)
	assert.Equal(t, 4, state.Remaining, "narrowing doesn't consume samples")

	// Step 1: 2 hypotheses with 2 continuations each fill the beam again.
	state, err = run.Step(ctx, state)
	require.NoError(t, err)
	assert.Len(t, state.Live, 4)
	assert.Equal(t, 4, state.Remaining)
	for ii, h := range state.Live {
		assert.Equal(t, float32(h.Len()), state.States[0][ii][modeltest.StateLen])
		assert.InDelta(t, -2*math.Log(0.5), h.Cost, 1e-9)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	toy := modeltest.NewToy(modeltest.Fixed(testProbs...))
	bs := New(toy, testEOS, testUNK)
	source := []int{7, 8, 9, testEOS}
	result, err := bs.Search(ctx, source, 4, Options{IgnoreUnk: true, MinLen: 2})
	require.NoError(t, err)
	require.False(t, result.Failed())
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, toy.Released)
	require.NotEmpty(t, result.Hypotheses)
	assert.LessOrEqual(t, len(result.Hypotheses), 4)
	costs := result.Costs()
	assert.True(t, slices.IsSorted(costs), "costs not sorted: %v", costs)
	for _, h := range result.Hypotheses {
		assert.Equal(t, testEOS, xslices.Last(h.Tokens))
		assert.NotContains(t, h.Tokens, testUNK)
		assert.GreaterOrEqual(t, h.Len(), 3)
		assert.Nil(t, h.Coverage)
	}

	// Deterministic.
	again, err := bs.Search(ctx, source, 4, Options{IgnoreUnk: true, MinLen: 2})
	require.NoError(t, err)
	assert.Equal(t, result.Hypotheses, again.Hypotheses)
}

func TestSearchImmediateTermination(t *testing.T) {
	const eos, unk = 1, 2
	toy := modeltest.NewToy(modeltest.Fixed(modeltest.OneHot(4, eos)...))
	result, err := New(toy, eos, unk).Search(context.Background(), []int{5, 6}, 3, Options{})
	require.NoError(t, err)
	require.False(t, result.Failed())
	require.Len(t, result.Hypotheses, 1)
	assert.Equal(t, []int{eos}, result.Hypotheses[0].Tokens)
	assert.Equal(t, 0.0, result.Hypotheses[0].Cost)
	assert.Equal(t, 1, toy.NextProbsCalls)
	assert.Equal(t, 1, toy.Released)
}

func TestSearchMinLen(t *testing.T) {
	const eos, unk = 1, 3
	probs := []float32{0.1, 0.6, 0.2, 0.1}
	for _, tc := range []struct {
		name   string
		minLen float64
		want   []int
	}{
		{"none", 0, []int{eos}},
		{"integer", 3, []int{2, 2, 2, eos}},
		{"fractional", 1.5, []int{2, 2, eos}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			toy := modeltest.NewToy(modeltest.Fixed(probs...))
			result, err := New(toy, eos, unk).Search(context.Background(), []int{5, 6}, 1, Options{MinLen: tc.minLen})
			require.NoError(t, err)
			require.Len(t, result.Hypotheses, 1)
			h := result.Hypotheses[0]
			assert.Equal(t, tc.want, h.Tokens)
			wantCost := -math.Log(float64(probs[eos])) - float64(len(tc.want)-1)*math.Log(float64(probs[2]))
			assert.InDelta(t, wantCost, h.Cost, 1e-6)
		})
	}
}

func TestSearchExhausted(t *testing.T) {
	ctx := context.Background()
	source := []int{5, 6}

	t.Run("full ladder", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.NeverEnds(4))
		result, err := New(toy, 0, 3).Search(ctx, source, 60, Options{IgnoreUnk: true})
		require.NoError(t, err)
		require.True(t, result.Failed())
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 3, toy.RepresentationCalls)
		assert.Equal(t, 3, toy.Released)

		var exhausted *SearchExhaustedError
		require.ErrorAs(t, result.Failure, &exhausted)
		assert.Equal(t, SearchExhaustedError{
			SourceLen: 2, StepBudget: 6, BeamSize: 120, IgnoreUnk: false, Attempts: 3,
		}, *exhausted)

		// Live hypotheses of the last attempt are flushed.
		require.Len(t, result.Hypotheses, 120)
		for _, h := range result.Hypotheses {
			assert.Len(t, h.Tokens, 6)
			assert.NotContains(t, h.Tokens, 0)
		}
	})

	t.Run("beam already large", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.NeverEnds(4))
		result, err := New(toy, 0, 3).Search(ctx, source, 100, Options{})
		require.NoError(t, err)
		require.True(t, result.Failed())
		assert.Equal(t, 1, result.Attempts)
		assert.NotEmpty(t, result.Hypotheses)
	})

	t.Run("max attempts", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.NeverEnds(4))
		result, err := New(toy, 0, 3).WithMaxAttempts(1).Search(ctx, source, 2, Options{IgnoreUnk: true})
		require.NoError(t, err)
		var exhausted *SearchExhaustedError
		require.ErrorAs(t, result.Failure, &exhausted)
		assert.Equal(t, 1, exhausted.Attempts)
		assert.True(t, exhausted.IgnoreUnk)
		assert.Len(t, result.Hypotheses, 2)
	})

	t.Run("step budget factor", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.NeverEnds(4))
		result, err := New(toy, 0, 3).WithStepBudgetFactor(1).WithMaxAttempts(1).
			Search(ctx, source, 2, Options{})
		require.NoError(t, err)
		var exhausted *SearchExhaustedError
		require.ErrorAs(t, result.Failure, &exhausted)
		assert.Equal(t, 2, exhausted.StepBudget)
		assert.Equal(t, 2, toy.NextProbsCalls)
		require.Len(t, result.Hypotheses, 2)
		for _, h := range result.Hypotheses {
			assert.Len(t, h.Tokens, 2)
		}
	})

	t.Run("unk rescues", func(t *testing.T) {
		// Only the unknown word (3) or eos (0) after it: masking unk leaves nothing.
		toy := modeltest.NewToy(func(step, last int, _ []float32) []float32 {
			if last == 3 {
				return modeltest.OneHot(4, 0)
			}
			return modeltest.OneHot(4, 3)
		})
		result, err := New(toy, 0, 3).Search(ctx, source, 2, Options{IgnoreUnk: true})
		require.NoError(t, err)
		require.False(t, result.Failed())
		assert.Equal(t, 2, result.Attempts)
		require.Len(t, result.Hypotheses, 1)
		assert.Equal(t, []int{3, 0}, result.Hypotheses[0].Tokens)
	})
}

func TestSearchFertility(t *testing.T) {
	const eos, unk = 1, 2
	toy := modeltest.NewToy(modeltest.Fixed(modeltest.OneHot(4, eos)...))
	toy.FertilityValues = []float32{2, 3}
	toy.CoverageDelta = -0.5
	bs := New(toy, eos, unk).WithCoverage(1, Subtractive).WithFertility()
	assert.Equal(t, AuxCoverageWithFertility, bs.AuxMode())
	result, err := bs.Search(context.Background(), []int{5, 6}, 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, result.Fertility)
	assert.Equal(t, []float32{2, 3}, toy.LastAux.Fertility)
	assert.Equal(t, model.Coverage{{{1}, {1}}}, toy.LastAux.Coverage)
	require.Len(t, result.Hypotheses, 1)
	assert.Equal(t, []float32{1, 0.5}, result.Hypotheses[0].Coverage)

	t.Run("not supported", func(t *testing.T) {
		plain := struct{ model.Model }{toy}
		_, err := New(plain, eos, unk).WithCoverage(1, Additive).WithFertility().
			Search(context.Background(), []int{5, 6}, 2, Options{})
		require.Error(t, err)
	})
}

// dropRowModel returns one recurrent state row less than expected.
type dropRowModel struct {
	*modeltest.Toy
}

func (m dropRowModel) NextStates(ctx context.Context, repr model.Representation, step int, tokens []int,
	states []model.State, aux model.Aux) ([]model.State, model.Coverage, error) {
	next, coverage, err := m.Toy.NextStates(ctx, repr, step, tokens, states, aux)
	if err != nil {
		return nil, nil, err
	}
	return []model.State{next[0][1:]}, coverage, nil
}

func TestSearchErrors(t *testing.T) {
	ctx := context.Background()
	source := []int{5, 6}

	t.Run("model failure", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.Uniform(4))
		toy.FailAtStep = 1
		_, err := New(toy, 0, 3).Search(ctx, source, 2, Options{})
		require.ErrorIs(t, err, modeltest.ErrScripted)
		assert.Equal(t, 1, toy.Released)
	})

	t.Run("misaligned states", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.Uniform(4))
		_, err := New(dropRowModel{toy}, 0, 3).Search(ctx, source, 2, Options{})
		require.Error(t, err)
	})

	t.Run("canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		toy := modeltest.NewToy(modeltest.Uniform(4))
		_, err := New(toy, 0, 3).Search(canceled, source, 2, Options{})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bad arguments", func(t *testing.T) {
		toy := modeltest.NewToy(modeltest.Uniform(4))
		_, err := New(toy, 0, 3).Search(ctx, nil, 2, Options{})
		require.Error(t, err)
		_, err = New(toy, 0, 3).Search(ctx, source, 0, Options{})
		require.Error(t, err)
	})
}

func TestCheckRows(t *testing.T) {
	aux, err := NewAuxState(AuxCoverage, 1, 2, Additive, nil)
	require.NoError(t, err)
	s := &State{
		Live:   Hypotheses{{}, {}},
		States: []model.State{{{0}, {1}}},
		Aux:    aux,
	}
	require.Panics(t, s.CheckRows)
	s.Aux = aux.Gather([]int{0, 0})
	require.NotPanics(t, s.CheckRows)
	s.States = append(s.States, model.State{{0}})
	require.Panics(t, s.CheckRows)
}

func TestSortByCost(t *testing.T) {
	assert.Equal(t, []int{1, 2, 0}, SortByCost([]float64{4.0, 1.0, 2.5}))
	assert.Equal(t, []int{1, 0, 2}, SortByCost([]float64{1, 0, 1}))
}
