// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package modeltest

// Fixed returns a ProbsFn that always returns probs.
func Fixed(probs ...float32) ProbsFn {
	return func(int, int, []float32) []float32 { return probs }
}

// PerStep returns a ProbsFn that returns steps[step] (the last one for later steps),
// for every hypothesis.
func PerStep(steps ...[]float32) ProbsFn {
	return func(step int, _ int, _ []float32) []float32 {
		if step >= len(steps) {
			step = len(steps) - 1
		}
		return steps[step]
	}
}

// OneHot returns a distribution over vocabSize tokens with all the mass on token.
func OneHot(vocabSize, token int) []float32 {
	probs := make([]float32, vocabSize)
	probs[token] = 1
	return probs
}

// Uniform returns a ProbsFn with a uniform distribution over vocabSize tokens.
func Uniform(vocabSize int) ProbsFn {
	probs := make([]float32, vocabSize)
	for ii := range probs {
		probs[ii] = 1 / float32(vocabSize)
	}
	return Fixed(probs...)
}

// NeverEnds returns a uniform distribution over tokens 1 to vocabSize-1: token 0 (used as
// end-of-sequence in tests) is never emitted.
func NeverEnds(vocabSize int) ProbsFn {
	probs := make([]float32, vocabSize)
	for ii := 1; ii < vocabSize; ii++ {
		probs[ii] = 1 / float32(vocabSize-1)
	}
	return Fixed(probs...)
}
