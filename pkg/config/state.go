// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the "state" of a translation model: the symbols, vocabularies and
// coverage settings it was trained with, and how to reach it.
//
// The state is loaded from a YAML file, and can be further changed with settings given
// in the command line (see ApplySettings).
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/gomlx/nmtdecode/pkg/sample"
	"github.com/gomlx/nmtdecode/pkg/search"
	"github.com/gomlx/nmtdecode/pkg/support/fsutil"
	"github.com/gomlx/nmtdecode/pkg/vocab"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Values of State.CoverageAccumulatedOperation.
const (
	AccumulateAdditive    = "additive"
	AccumulateSubtractive = "subtractive"
)

// State of a translation model. The YAML keys follow the names used when training the model.
type State struct {
	// NullSymSource and NullSymTarget are the end-of-sequence token ids.
	NullSymSource int `yaml:"null_sym_source"`
	NullSymTarget int `yaml:"null_sym_target"`

	// UnkSymSource and UnkSymTarget are the unknown word token ids.
	UnkSymSource int `yaml:"unk_sym_source"`
	UnkSymTarget int `yaml:"unk_sym_target"`

	// NSymSource and NSymTarget are the vocabulary sizes of the model.
	NSymSource int `yaml:"n_sym_source"`
	NSymTarget int `yaml:"n_sym_target"`

	// Vocabulary files: IndxWord* map ids to words, WordIndx* map words to ids.
	// Relative paths are relative to the state file.
	IndxWord       string `yaml:"indx_word"`
	IndxWordTarget string `yaml:"indx_word_target"`
	WordIndx       string `yaml:"word_indx"`
	WordIndxTarget string `yaml:"word_indx_target"`

	// Coverage settings of the model.
	MaintainCoverage             bool    `yaml:"maintain_coverage"`
	CoverageDim                  int     `yaml:"coverage_dim"`
	UseLinguisticCoverage        bool    `yaml:"use_linguistic_coverage"`
	UseFertilityModel            bool    `yaml:"use_fertility_model"`
	MaxFertility                 float64 `yaml:"max_fertility"`
	CoverageAccumulatedOperation string  `yaml:"coverage_accumulated_operation"`

	// Seed of the random number generator used by sampling.
	Seed uint64 `yaml:"seed"`

	// Level of logging: DEBUG, INFO, WARNING or ERROR.
	Level string `yaml:"level"`

	// ModelURL is the address of the model server, and ModelTimeout the timeout of each call.
	ModelURL     string        `yaml:"model_url"`
	ModelTimeout time.Duration `yaml:"model_timeout"`

	// MaxBeamSize up to which beam search doubles the beam when it fails to finish any translation.
	MaxBeamSize int `yaml:"max_beam_size"`

	// MaxAttempts of one beam search.
	MaxAttempts int `yaml:"max_attempts"`

	// StepBudgetFactor is the number of beam search steps allowed per source token.
	StepBudgetFactor int `yaml:"step_budget_factor"`

	// dir is the directory of the state file, used to resolve relative paths.
	dir string
}

// Default returns the default state.
func Default() *State {
	return &State{
		NullSymSource:                30000,
		NullSymTarget:                30000,
		UnkSymSource:                 1,
		UnkSymTarget:                 1,
		NSymSource:                   30001,
		NSymTarget:                   30001,
		MaintainCoverage:             true,
		CoverageDim:                  10,
		UseLinguisticCoverage:        false,
		UseFertilityModel:            false,
		MaxFertility:                 2,
		CoverageAccumulatedOperation: AccumulateAdditive,
		Seed:                         1234,
		Level:                        "INFO",
		ModelURL:                     "http://localhost:8780",
		ModelTimeout:                 30 * time.Second,
		MaxBeamSize:                  search.DefaultMaxBeamSize,
		MaxAttempts:                  search.DefaultMaxAttempts,
		StepBudgetFactor:             search.DefaultStepBudgetFactor,
	}
}

// Load reads the state from a YAML file, on top of the Default values.
func Load(path string) (*State, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read state")
	}
	s := Default()
	if err = yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "failed to parse state file %q", path)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// Validate checks that the state is consistent.
func (s *State) Validate() error {
	if s.NSymSource <= 0 || s.NSymTarget <= 0 {
		return errors.Errorf("n_sym_source and n_sym_target must be > 0, got %d and %d", s.NSymSource, s.NSymTarget)
	}
	for _, sym := range []struct {
		name  string
		value int
		limit int
	}{
		{"null_sym_source", s.NullSymSource, s.NSymSource},
		{"unk_sym_source", s.UnkSymSource, s.NSymSource},
		{"null_sym_target", s.NullSymTarget, s.NSymTarget},
		{"unk_sym_target", s.UnkSymTarget, s.NSymTarget},
	} {
		if sym.value < 0 || sym.value >= sym.limit {
			return errors.Errorf("%s=%d out of range [0, %d)", sym.name, sym.value, sym.limit)
		}
	}
	if s.MaintainCoverage && s.CoverageDim <= 0 {
		return errors.Errorf("coverage_dim must be > 0 when maintain_coverage is set, got %d", s.CoverageDim)
	}
	switch s.CoverageAccumulatedOperation {
	case AccumulateAdditive, AccumulateSubtractive:
	default:
		return errors.Errorf("coverage_accumulated_operation must be %q or %q, got %q",
			AccumulateAdditive, AccumulateSubtractive, s.CoverageAccumulatedOperation)
	}
	if _, err := s.verbosity(); err != nil {
		return err
	}
	if s.MaxBeamSize <= 0 || s.MaxAttempts <= 0 {
		return errors.Errorf("max_beam_size and max_attempts must be > 0, got %d and %d", s.MaxBeamSize, s.MaxAttempts)
	}
	if s.StepBudgetFactor <= 0 {
		return errors.Errorf("step_budget_factor must be > 0, got %d", s.StepBudgetFactor)
	}
	return nil
}

// AuxMode returns the auxiliary state beam search must track for this model.
// Fertility is only used with linguistic coverage.
func (s *State) AuxMode() search.AuxMode {
	switch {
	case !s.MaintainCoverage:
		return search.AuxNone
	case s.UseLinguisticCoverage && s.UseFertilityModel:
		return search.AuxCoverageWithFertility
	default:
		return search.AuxCoverage
	}
}

// Accumulation returns how coverage is accumulated. Subtractive accumulation only applies
// to linguistic coverage.
func (s *State) Accumulation() search.Accumulation {
	if s.UseLinguisticCoverage && s.CoverageAccumulatedOperation == AccumulateSubtractive {
		return search.Subtractive
	}
	return search.Additive
}

// Verbosity returns the klog verbosity corresponding to Level.
func (s *State) Verbosity() int {
	v, _ := s.verbosity()
	return v
}

func (s *State) verbosity() (int, error) {
	switch strings.ToUpper(s.Level) {
	case "DEBUG":
		return 2, nil
	case "INFO":
		return 1, nil
	case "WARNING", "WARN", "ERROR", "CRITICAL":
		return 0, nil
	}
	return 0, errors.Errorf("unknown logging level %q", s.Level)
}

// Path resolves a path named in the state: relative paths are relative to the state file.
func (s *State) Path(path string) (string, error) {
	return fsutil.Resolve(s.dir, path)
}

// SourceVocabulary loads the source vocabulary (word_indx), limited to the n_sym_source symbols
// the model knows.
func (s *State) SourceVocabulary() (*vocab.Vocabulary, error) {
	return s.loadVocabulary("word_indx", s.WordIndx, s.NullSymSource, s.UnkSymSource, s.NSymSource)
}

// TargetVocabulary loads the target vocabulary (indx_word_target).
func (s *State) TargetVocabulary() (*vocab.Vocabulary, error) {
	return s.loadVocabulary("indx_word_target", s.IndxWordTarget, s.NullSymTarget, s.UnkSymTarget, s.NSymTarget)
}

func (s *State) loadVocabulary(key, path string, eos, unk, limit int) (*vocab.Vocabulary, error) {
	if path == "" {
		return nil, errors.Errorf("state has no vocabulary %q", key)
	}
	path, err := s.Path(path)
	if err != nil {
		return nil, err
	}
	exists, err := fsutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("vocabulary %q not found in %q", key, path)
	}
	v, err := vocab.Load(path, eos, unk)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", key)
	}
	return v.WithLimit(limit), nil
}

// NewBeamSearch creates the beam search over m with this state's symbols, coverage, retry and
// step budget settings.
func (s *State) NewBeamSearch(m model.Model) *search.BeamSearch {
	bs := search.New(m, s.NullSymTarget, s.UnkSymTarget).
		WithMaxBeamSize(s.MaxBeamSize).
		WithMaxAttempts(s.MaxAttempts).
		WithStepBudgetFactor(s.StepBudgetFactor)
	if s.MaintainCoverage {
		bs.WithCoverage(s.CoverageDim, s.Accumulation()).WithAuxMode(s.AuxMode())
	}
	return bs
}

// NewSampler creates the stochastic sampler over m with this state's symbols, coverage and seed.
func (s *State) NewSampler(m model.Model) *sample.ModelSampler {
	sampler := sample.NewModelSampler(m, s.NullSymTarget, s.Seed)
	if s.MaintainCoverage {
		sampler.WithCoverage(s.CoverageDim, s.Accumulation())
		if s.AuxMode().HasFertility() {
			sampler.WithFertility()
		}
	}
	return sampler
}
