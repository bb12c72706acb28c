// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/nmtdecode/pkg/model/modeltest"
	"github.com/gomlx/nmtdecode/pkg/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, search.AuxCoverage, s.AuxMode())
	assert.Equal(t, search.Additive, s.Accumulation())
	assert.Equal(t, 1, s.Verbosity())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	require.NoError(t, os.WriteFile(statePath, []byte(`
null_sym_target: 3
unk_sym_target: 1
n_sym_target: 5
maintain_coverage: true
coverage_dim: 1
use_linguistic_coverage: true
use_fertility_model: true
coverage_accumulated_operation: subtractive
indx_word_target: target.txt
word_indx: source.yaml
model_timeout: 5s
level: DEBUG
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target.txt"), []byte("a\nUNK\nb\n<eol>\nc\nd\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.yaml"), []byte("x: 0\ny: 2\n"), 0o644))

	s, err := Load(statePath)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, 3, s.NullSymTarget)
	assert.Equal(t, 30000, s.NullSymSource, "default value should be kept")
	assert.Equal(t, 5*time.Second, s.ModelTimeout)
	assert.Equal(t, search.AuxCoverageWithFertility, s.AuxMode())
	assert.Equal(t, search.Subtractive, s.Accumulation())
	assert.Equal(t, 2, s.Verbosity())

	target, err := s.TargetVocabulary()
	require.NoError(t, err)
	assert.Equal(t, 3, target.EOS())
	assert.Equal(t, "a b", target.Sentence([]int{0, 2, 3, 4}))

	source, err := s.SourceVocabulary()
	require.NoError(t, err)
	ids, _ := source.Parse("y x z")
	assert.Equal(t, []int{2, 0, 1, 30000}, ids)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	s.IndxWordTarget = "missing.txt"
	_, err = s.TargetVocabulary()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `vocabulary "indx_word_target" not found`)
}

func TestAuxModeAndAccumulation(t *testing.T) {
	s := Default()
	s.MaintainCoverage = false
	assert.Equal(t, search.AuxNone, s.AuxMode())

	// Fertility and subtractive accumulation require linguistic coverage.
	s = Default()
	s.UseFertilityModel = true
	s.CoverageAccumulatedOperation = AccumulateSubtractive
	assert.Equal(t, search.AuxCoverage, s.AuxMode())
	assert.Equal(t, search.Additive, s.Accumulation())
}

func TestValidate(t *testing.T) {
	for name, change := range map[string]func(s *State){
		"eos out of range":   func(s *State) { s.NullSymTarget = s.NSymTarget },
		"negative unk":       func(s *State) { s.UnkSymSource = -1 },
		"no symbols":         func(s *State) { s.NSymSource = 0 },
		"coverage dimension": func(s *State) { s.CoverageDim = 0 },
		"accumulation":       func(s *State) { s.CoverageAccumulatedOperation = "multiplicative" },
		"level":              func(s *State) { s.Level = "LOUD" },
		"max beam size":      func(s *State) { s.MaxBeamSize = 0 },
		"step budget":        func(s *State) { s.StepBudgetFactor = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			s := Default()
			change(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestApplySettings(t *testing.T) {
	s := Default()
	keys, err := s.ApplySettings("coverage_dim=1; maintain_coverage=False;null_sym_target=29_999;" +
		"max_fertility=1.5;level='DEBUG';model_timeout=1m")
	require.NoError(t, err)
	assert.Equal(t, []string{"coverage_dim", "maintain_coverage", "null_sym_target", "max_fertility", "level", "model_timeout"}, keys)
	assert.Equal(t, 1, s.CoverageDim)
	assert.False(t, s.MaintainCoverage)
	assert.Equal(t, 29999, s.NullSymTarget)
	assert.Equal(t, 1.5, s.MaxFertility)
	assert.Equal(t, "DEBUG", s.Level)
	assert.Equal(t, time.Minute, s.ModelTimeout)

	_, err = s.ApplySettings("beam_width=3")
	assert.Error(t, err, "unknown keys must be rejected")
	_, err = s.ApplySettings("coverage_dim")
	assert.Error(t, err)
	_, err = s.ApplySettings("coverage_dim=many")
	assert.Error(t, err)

	keys, err = s.ApplySettings("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "changes.txt")
		require.NoError(t, os.WriteFile(path, []byte("# Changes\nseed=7\nuse_linguistic_coverage=true;coverage_dim=1\n"), 0o644))
		s := Default()
		keys, err := s.ApplySettings("file:" + path + ";max_attempts=2")
		require.NoError(t, err)
		assert.Equal(t, []string{"seed", "use_linguistic_coverage", "coverage_dim", "max_attempts"}, keys)
		assert.Equal(t, uint64(7), s.Seed)
		assert.True(t, s.UseLinguisticCoverage)
		assert.Equal(t, 2, s.MaxAttempts)
	})
}

func TestString(t *testing.T) {
	s := Default()
	str := s.String()
	assert.Contains(t, str, "\tcoverage_dim: 10\n")
	assert.Contains(t, str, "\tnull_sym_target: 30000")
	assert.Contains(t, s.Keys(), "model_url")
}

func TestNewDecoders(t *testing.T) {
	ctx := context.Background()
	s := Default()
	s.NullSymTarget, s.UnkSymTarget, s.NSymTarget = 0, 3, 4
	s.CoverageDim = 1
	s.UseLinguisticCoverage = true
	s.UseFertilityModel = true
	s.CoverageAccumulatedOperation = AccumulateSubtractive
	require.NoError(t, s.Validate())

	toy := modeltest.NewToy(modeltest.Fixed(0.3, 0.35, 0.2, 0.1))
	bs := s.NewBeamSearch(toy)
	assert.Equal(t, search.AuxCoverageWithFertility, bs.AuxMode())
	assert.Equal(t, 0, bs.EOS())
	result, err := bs.Search(ctx, []int{5, 6, 0}, 2, search.Options{})
	require.NoError(t, err)
	assert.Len(t, result.Fertility, 3)
	assert.NotNil(t, toy.LastAux.Fertility)

	sampler := s.NewSampler(toy)
	assert.Equal(t, 0, sampler.EOS())
	_, _, err = sampler.Sample(ctx, []int{5, 6, 0}, 2, 4, 1)
	require.NoError(t, err)
	require.Equal(t, 2, toy.LastAux.Coverage.Rows())

	s.MaintainCoverage = false
	assert.Equal(t, search.AuxNone, s.NewBeamSearch(toy).AuxMode())

	_, err = s.ApplySettings("step_budget_factor=1")
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	run, _, err := s.NewBeamSearch(toy).NewRun(ctx, []int{5, 6, 0}, 2, search.Options{})
	require.NoError(t, err)
	defer run.Close(ctx)
	assert.Equal(t, 3, run.StepBudget())
}
