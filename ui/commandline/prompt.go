// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

// Prompts of the interactive mode.
const (
	InputPrompt       = "Input Sequence: "
	SamplesPrompt     = "How many samples? "
	TemperaturePrompt = "Inverse Temperature? "
)

// InputParseError is returned by Prompt.Next when the user's answer can't be parsed.
// The interactive loop can report it and continue.
type InputParseError struct {
	// Prompt whose answer failed to parse.
	Prompt string

	// Input given by the user.
	Input string

	Err error
}

// Error implements the error interface.
func (e *InputParseError) Error() string {
	return fmt.Sprintf("failed to parse answer %q to %q: %v", e.Input, strings.TrimSpace(e.Prompt), e.Err)
}

// Unwrap returns the underlying parsing error.
func (e *InputParseError) Unwrap() error { return e.Err }

// Query read from the interactive prompt.
type Query struct {
	// Source sentence to translate.
	Source string

	// NSamples is the number of samples (or the beam size).
	NSamples int

	// Alpha is the inverse temperature, only asked for sampling. It is 0 otherwise.
	Alpha float64
}

// LineReader reads one line after showing a prompt. It is implemented by *readline.Instance.
type LineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
	Close() error
}

var _ LineReader = (*readline.Instance)(nil)

// Prompt asks the user for the sentences to translate.
type Prompt struct {
	reader   LineReader
	askAlpha bool
}

// NewPrompt creates an interactive prompt on the terminal, with line editing and, if
// historyFile is not empty, history.
// If askAlpha is true it also asks for the inverse temperature, used for sampling.
func NewPrompt(historyFile string, askAlpha bool) (*Prompt, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          InputPrompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create interactive prompt")
	}
	return NewPromptWithReader(rl, askAlpha), nil
}

// NewPromptWithReader creates a Prompt reading from the given LineReader.
func NewPromptWithReader(reader LineReader, askAlpha bool) *Prompt {
	return &Prompt{reader: reader, askAlpha: askAlpha}
}

// Close the underlying reader.
func (p *Prompt) Close() error { return p.reader.Close() }

// Next asks for the next query.
//
// It returns io.EOF when the user ends the input (Ctrl+D or Ctrl+C), and an *InputParseError
// if an answer is invalid.
func (p *Prompt) Next() (*Query, error) {
	source, err := p.ask(InputPrompt)
	if err != nil {
		return nil, err
	}
	q := &Query{Source: source}
	answer, err := p.ask(SamplesPrompt)
	if err != nil {
		return nil, err
	}
	if q.NSamples, err = strconv.Atoi(answer); err != nil {
		return nil, &InputParseError{Prompt: SamplesPrompt, Input: answer, Err: err}
	}
	if q.NSamples <= 0 {
		return nil, &InputParseError{Prompt: SamplesPrompt, Input: answer, Err: errors.New("must be > 0")}
	}
	if !p.askAlpha {
		return q, nil
	}
	if answer, err = p.ask(TemperaturePrompt); err != nil {
		return nil, err
	}
	if q.Alpha, err = strconv.ParseFloat(answer, 64); err != nil {
		return nil, &InputParseError{Prompt: TemperaturePrompt, Input: answer, Err: err}
	}
	if q.Alpha <= 0 {
		return nil, &InputParseError{Prompt: TemperaturePrompt, Input: answer, Err: errors.New("must be > 0")}
	}
	return q, nil
}

func (p *Prompt) ask(prompt string) (string, error) {
	p.reader.SetPrompt(prompt)
	line, err := p.reader.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", errors.Wrap(err, "failed to read input")
	}
	return strings.TrimSpace(line), nil
}
