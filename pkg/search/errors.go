// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import "fmt"

// SearchExhaustedError reports that the step budget ran out before any hypothesis finished.
//
// BeamSearch.Search handles it internally by retrying with relaxed settings. It only reaches
// the caller, in Result.Failure, when the retries were also exhausted and the result holds
// the flushed live hypotheses instead of finished ones.
type SearchExhaustedError struct {
	// SourceLen is the length of the source sequence searched.
	SourceLen int

	// StepBudget is the number of steps each attempt was allowed.
	StepBudget int

	// BeamSize of the last attempt.
	BeamSize int

	// IgnoreUnk is whether the unknown word was still masked in the last attempt.
	IgnoreUnk bool

	// Attempts is the number of independent searches run.
	Attempts int
}

// Error implements the error interface.
func (e *SearchExhaustedError) Error() string {
	return fmt.Sprintf("beam search exhausted its budget of %d steps (source length %d) without finishing any hypothesis, "+
		"after %d attempt(s), last with beam size %d (ignore unk=%v)",
		e.StepBudget, e.SourceLen, e.Attempts, e.BeamSize, e.IgnoreUnk)
}
