package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/nmtdecode/pkg/model/modeltest"
	"github.com/gomlx/nmtdecode/pkg/sample"
	"github.com/gomlx/nmtdecode/pkg/search"
	"github.com/gomlx/nmtdecode/pkg/vocab"
	"github.com/gomlx/nmtdecode/ui/commandline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSourceVocab = vocab.New([]string{vocab.EndOfLine, "UNK", "la", "maison"}, 0, 1)
	testTargetVocab = vocab.New([]string{vocab.EndOfLine, "the", "house", "UNK"}, 0, 3)
)

func newTestDispatcher() *sample.Dispatcher {
	toy := modeltest.NewToy(modeltest.Fixed(0.3, 0.35, 0.25, 0.1))
	return &sample.Dispatcher{
		BeamSearch: search.New(toy, 0, 3).WithCoverage(1, search.Additive),
		Vocab:      testTargetVocab,
	}
}

func TestTranslateFile(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.txt")
	transPath := filepath.Join(dir, "trans.txt")
	require.NoError(t, os.WriteFile(sourcePath, []byte("la maison\nmaison bleue\n"), 0o644))

	var out bytes.Buffer
	b := &batch{
		dispatcher:  newTestDispatcher(),
		sourceVocab: testSourceVocab,
		opts:        sample.Options{IgnoreUnk: true},
		beamSize:    3,
		verbose:     true,
		out:         &out,
	}
	totalCost, err := b.translateFile(context.Background(), sourcePath, transPath)
	require.NoError(t, err)
	assert.Positive(t, totalCost)

	trans, err := os.ReadFile(transPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(trans), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.NotEqual(t, failedTranslation, line)
		assert.NotContains(t, line, "UNK")
	}
	assert.Contains(t, out.String(), "Parsed Input: la maison <eos>")
	assert.Contains(t, out.String(), "Parsed Input: maison <unk> <eos>")
	assert.Contains(t, out.String(), "Coverage: ")

	_, err = b.translateFile(context.Background(), filepath.Join(dir, "missing.txt"), transPath)
	assert.Error(t, err)
}

// emptySampler never finds a translation.
type emptySampler struct{}

func (emptySampler) Sample(context.Context, []int, int, int, float64) ([][]int, [][]float64, error) {
	return nil, nil, nil
}

func TestTranslateWithProgress(t *testing.T) {
	var out, trans bytes.Buffer
	b := &batch{
		dispatcher:  &sample.Dispatcher{Sampler: emptySampler{}, Vocab: testTargetVocab},
		sourceVocab: testSourceVocab,
		beamSize:    2,
		out:         &out,
	}
	totalCost, err := b.translate(context.Background(), []string{"la", "maison"}, &trans)
	require.NoError(t, err)
	assert.Zero(t, totalCost)
	assert.Equal(t, "Failed\nFailed\n", trans.String())
	assert.Contains(t, out.String(), "Sentences")
	assert.Contains(t, out.String(), "Beam size")
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

// failingSampler fails every translation.
type failingSampler struct{}

func (failingSampler) Sample(context.Context, []int, int, int, float64) ([][]int, [][]float64, error) {
	return nil, nil, errors.New("model unavailable")
}

func TestTranslateErrorsWithProgress(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		var out bytes.Buffer
		b := &batch{
			dispatcher:  &sample.Dispatcher{Sampler: emptySampler{}, Vocab: testTargetVocab},
			sourceVocab: testSourceVocab,
			beamSize:    2,
			out:         &out,
		}
		_, err := b.translate(context.Background(), []string{"la maison"}, failingWriter{})
		require.ErrorContains(t, err, "disk full")
		// The progress bar was finished: its final new-line follows the last update.
		assert.True(t, strings.HasSuffix(out.String(), "\n"), "progress output: %q", out.String())
	})

	t.Run("translation", func(t *testing.T) {
		var out, trans bytes.Buffer
		b := &batch{
			dispatcher:  &sample.Dispatcher{Sampler: failingSampler{}, Vocab: testTargetVocab},
			sourceVocab: testSourceVocab,
			beamSize:    2,
			out:         &out,
		}
		_, err := b.translate(context.Background(), []string{"la", "maison"}, &trans)
		require.ErrorContains(t, err, "failed to translate line 1")
		assert.Empty(t, trans.String())
	})
}

// scriptedQueries returns the given queries (or errors) in order, then io.EOF.
type scriptedQueries struct {
	answers []any
	closed  bool
}

func (s *scriptedQueries) Next() (*commandline.Query, error) {
	if len(s.answers) == 0 {
		return nil, io.EOF
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	if err, ok := answer.(error); ok {
		return nil, err
	}
	return answer.(*commandline.Query), nil
}

func (s *scriptedQueries) Close() error {
	s.closed = true
	return nil
}

func TestInteractive(t *testing.T) {
	queries := &scriptedQueries{answers: []any{
		&commandline.InputParseError{Prompt: commandline.SamplesPrompt, Input: "x", Err: io.ErrUnexpectedEOF},
		&commandline.Query{Source: "la maison", NSamples: 2},
	}}
	var out bytes.Buffer
	err := interactive(context.Background(), queries, newTestDispatcher(), testSourceVocab, sample.Options{}, &out)
	require.NoError(t, err)
	assert.True(t, queries.closed)
	assert.Contains(t, out.String(), "Exception while parsing your input")
	assert.Contains(t, out.String(), "Parsed Input: la maison <eos>")
	// Verbose translations, one per line: "<cost>: <sentence>".
	assert.Regexp(t, `(?m)^[0-9.e+-]+: `, out.String())
}
