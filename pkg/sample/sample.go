// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sample translates a source sequence with either beam search or stochastic sampling,
// and turns the results into ranked sentences.
//
// Example:
//
//	d := &sample.Dispatcher{
//		BeamSearch: search.New(m, eosID, unkID),
//		Vocab:      targetVocab,
//	}
//	translations, err := d.Sample(ctx, sourceIDs, 12, sample.Options{IgnoreUnk: true, Normalize: true})
//	if err != nil { ... }
//	fmt.Println(translations.Sentences[translations.Best()])
package sample

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/nmtdecode/pkg/search"
	"github.com/gomlx/nmtdecode/pkg/support/xslices"
	"github.com/gomlx/nmtdecode/pkg/vocab"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Sampler draws translations at random.
type Sampler interface {
	// Sample draws nSamples translations of source, of at most maxLen tokens each, from the model
	// distribution sharpened by the inverse temperature alpha.
	//
	// It returns the tokens of each sample and the log-probability of each of its tokens.
	Sample(ctx context.Context, source []int, nSamples, maxLen int, alpha float64) (tokens [][]int, logProbs [][]float64, err error)
}

// UnsupportedModeError is returned by Dispatcher.Sample when it has neither a beam search
// nor a sampler configured.
type UnsupportedModeError struct{}

// Error implements the error interface.
func (*UnsupportedModeError) Error() string {
	return "sample: neither beam search nor sampler configured, don't know how to translate"
}

// Options of Dispatcher.Sample.
type Options struct {
	// IgnoreUnk prevents beam search from emitting the unknown word (unless there is no other way).
	IgnoreUnk bool

	// Normalize divides costs by the translation length: number of tokens for beam search,
	// number of words for sampling.
	Normalize bool

	// Alpha is the inverse temperature of sampling. Ignored by beam search.
	Alpha float64

	// Verbose prints the translations to Out, best first.
	Verbose bool

	// Out is where verbose output goes. Defaults to os.Stdout.
	Out io.Writer
}

// Translations of one source sequence, sorted by ascending cost.
type Translations struct {
	// Sentences in words, up to (excluding) the end-of-line word.
	Sentences []string

	// Costs of each translation: sum of the negative log-probabilities of its tokens,
	// divided by its length if normalized.
	Costs []float64

	// Tokens of each translation.
	Tokens [][]int

	// Alignments of each translation, one vector per token with one weight per source
	// position. Beam search only.
	Alignments [][][]float32

	// Coverages holds the final coverage of each translation, one value per source position.
	// Beam search with coverage only.
	Coverages [][]float32

	// Fertility of the source, if the model uses it.
	Fertility []float32

	// TokenProbs has the probability of each token of each translation, up to the end-of-line
	// word. Sampling only.
	TokenProbs [][]float64

	// Failure is set when beam search failed to finish any translation: the translations are
	// then incomplete. See search.SearchExhaustedError.
	Failure error
}

// Len returns the number of translations.
func (t *Translations) Len() int { return len(t.Sentences) }

// Failed returns whether beam search failed to finish any translation.
func (t *Translations) Failed() bool { return t.Failure != nil }

// Best returns the index of the lowest cost translation, or -1 if there are none.
// The first one wins ties.
func (t *Translations) Best() int {
	if len(t.Costs) == 0 {
		return -1
	}
	return floats.MinIdx(t.Costs)
}

// permute reorders all per-translation fields.
func (t *Translations) permute(perm []int) {
	t.Sentences = xslices.Permute(t.Sentences, perm)
	t.Costs = xslices.Permute(t.Costs, perm)
	t.Tokens = xslices.Permute(t.Tokens, perm)
	if t.Alignments != nil {
		t.Alignments = xslices.Permute(t.Alignments, perm)
	}
	if t.Coverages != nil {
		t.Coverages = xslices.Permute(t.Coverages, perm)
	}
	if t.TokenProbs != nil {
		t.TokenProbs = xslices.Permute(t.TokenProbs, perm)
	}
}

// Dispatcher translates with BeamSearch if set, otherwise with Sampler.
type Dispatcher struct {
	BeamSearch *search.BeamSearch
	Sampler    Sampler

	// Vocab is the target vocabulary, used to convert tokens to sentences. If nil, sentences
	// are made of the token ids.
	Vocab *vocab.Vocabulary
}

// Sample translates source into (up to) nSamples translations.
//
// It returns an UnsupportedModeError if the Dispatcher has neither BeamSearch nor Sampler.
func (d *Dispatcher) Sample(ctx context.Context, source []int, nSamples int, opts Options) (*Translations, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	switch {
	case d.BeamSearch != nil:
		return d.beamSearch(ctx, source, nSamples, opts)
	case d.Sampler != nil:
		return d.sample(ctx, source, nSamples, opts)
	default:
		return nil, errors.WithStack(&UnsupportedModeError{})
	}
}

func (d *Dispatcher) words(tokens []int) []string {
	if d.Vocab != nil {
		return d.Vocab.Words(tokens)
	}
	eos := -1
	if d.BeamSearch != nil {
		eos = d.BeamSearch.EOS()
	} else if withEOS, ok := d.Sampler.(interface{ EOS() int }); ok {
		eos = withEOS.EOS()
	}
	words := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == eos {
			break
		}
		words = append(words, strconv.Itoa(token))
	}
	return words
}

func (d *Dispatcher) beamSearch(ctx context.Context, source []int, nSamples int, opts Options) (*Translations, error) {
	result, err := d.BeamSearch.Search(ctx, source, nSamples, search.Options{
		IgnoreUnk: opts.IgnoreUnk,
		MinLen:    float64(len(source)) / 2,
	})
	if err != nil {
		return nil, err
	}
	hyps := result.Hypotheses
	t := &Translations{
		Sentences:  make([]string, len(hyps)),
		Costs:      hyps.Costs(),
		Tokens:     xslices.Map(hyps, func(h search.Hypothesis) []int { return h.Tokens }),
		Alignments: xslices.Map(hyps, func(h search.Hypothesis) [][]float32 { return h.Alignments }),
		Fertility:  result.Fertility,
		Failure:    result.Failure,
	}
	if d.BeamSearch.AuxMode().HasCoverage() {
		t.Coverages = xslices.Map(hyps, func(h search.Hypothesis) []float32 { return h.Coverage })
	}
	for ii, h := range hyps {
		t.Sentences[ii] = strings.Join(d.words(h.Tokens), " ")
		if opts.Normalize && h.Len() > 0 {
			t.Costs[ii] /= float64(h.Len())
		}
	}
	t.permute(search.SortByCost(t.Costs))
	if opts.Verbose {
		for ii := range t.Sentences {
			_, _ = fmt.Fprintf(opts.Out, "%g: %s\n", t.Costs[ii], t.Sentences[ii])
		}
	}
	return t, nil
}

func (d *Dispatcher) sample(ctx context.Context, source []int, nSamples int, opts Options) (*Translations, error) {
	maxLen := 3 * (len(source) - 1)
	tokens, logProbs, err := d.Sampler.Sample(ctx, source, nSamples, maxLen, opts.Alpha)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to sample %d translations", nSamples)
	}
	if len(tokens) != len(logProbs) {
		return nil, errors.Errorf("sampler returned %d samples but %d log-probabilities", len(tokens), len(logProbs))
	}
	t := &Translations{
		Sentences:  make([]string, len(tokens)),
		Costs:      make([]float64, len(tokens)),
		Tokens:     tokens,
		TokenProbs: make([][]float64, len(tokens)),
	}
	for ii, sampleTokens := range tokens {
		words := d.words(sampleTokens)
		t.Sentences[ii] = strings.Join(words, " ")

		// The cost includes the end-of-line token, if sampled.
		n := min(len(words)+1, len(logProbs[ii]))
		sampleLogProbs := logProbs[ii][:n]
		t.Costs[ii] = -floats.Sum(sampleLogProbs)
		t.TokenProbs[ii] = xslices.Map(sampleLogProbs, math.Exp)
		if opts.Normalize {
			t.Costs[ii] /= float64(max(len(words), 1))
		}
	}
	perm := search.SortByCost(t.Costs)
	if opts.Verbose {
		for _, idx := range perm {
			_, _ = fmt.Fprintf(opts.Out, "%d: %g %v %s\n", idx, -t.Costs[idx], t.TokenProbs[idx], t.Sentences[idx])
		}
		_, _ = fmt.Fprintln(opts.Out)
	}
	t.permute(perm)
	return t, nil
}
