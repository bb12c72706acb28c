// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vocab maps token ids to words and back, for the source and target languages of
// a translation model.
//
// Vocabularies are loaded from files with Load, in one of two formats:
//
//   - ".txt": one word per line, the id of a word is its line number (starting at 0).
//   - ".yaml", ".yml" or ".json": a map of word to id ("the: 3"), or of id to word ("3: the").
package vocab

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const (
	// EndOfLine is the word that ends a target sentence: Words stops at it.
	EndOfLine = "<eol>"

	// EndOfSequence is how the end-of-sequence token is shown in parsed inputs.
	EndOfSequence = "<eos>"

	// Unknown is how the unknown word token is shown in parsed inputs.
	Unknown = "<unk>"
)

// Vocabulary is a bidirectional mapping between words and token ids.
//
// It is read-only once created, and can be shared.
type Vocabulary struct {
	idToWord map[int]string
	wordToID map[string]int

	eos, unk int

	// limit: ids >= limit are mapped to unk by Parse. 0 means no limit.
	limit int
}

// New creates a vocabulary from the list of words, where the id of a word is its index.
// eos and unk are the ids of the end-of-sequence and unknown word tokens.
func New(words []string, eos, unk int) *Vocabulary {
	v := newEmpty(eos, unk)
	for id, word := range words {
		v.add(id, word)
	}
	return v
}

// FromMap creates a vocabulary from a word to id mapping.
func FromMap(wordToID map[string]int, eos, unk int) *Vocabulary {
	v := newEmpty(eos, unk)
	for word, id := range wordToID {
		v.add(id, word)
	}
	return v
}

func newEmpty(eos, unk int) *Vocabulary {
	return &Vocabulary{
		idToWord: make(map[int]string),
		wordToID: make(map[string]int),
		eos:      eos,
		unk:      unk,
	}
}

func (v *Vocabulary) add(id int, word string) {
	v.idToWord[id] = word
	if prev, found := v.wordToID[word]; !found || id < prev {
		v.wordToID[word] = id
	}
}

// WithLimit sets the number of symbols the model knows: Parse maps words whose id is >= limit
// to the unknown word. It returns the vocabulary itself.
func (v *Vocabulary) WithLimit(limit int) *Vocabulary {
	v.limit = limit
	return v
}

// Load reads a vocabulary file, in the format given by its extension (see package documentation).
func Load(path string, eos, unk int) (*Vocabulary, error) {
	var v *Vocabulary
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		v, err = loadText(path, eos, unk)
	case ".yaml", ".yml", ".json":
		v, err = loadMap(path, eos, unk)
	default:
		err = errors.Errorf("unknown vocabulary format %q for file %q: use .txt, .yaml, .yml or .json", ext, path)
	}
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Loaded vocabulary %q: %s words", path, humanize.Comma(int64(v.Len())))
	return v, nil
}

func loadText(path string, eos, unk int) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vocabulary file")
	}
	defer func() { _ = f.Close() }()
	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		words = append(words, strings.TrimSpace(scanner.Text()))
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file %q", path)
	}
	return New(words, eos, unk), nil
}

func loadMap(path string, eos, unk int) (*Vocabulary, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file")
	}
	var wordToID map[string]int
	if err = yaml.Unmarshal(contents, &wordToID); err == nil {
		return FromMap(wordToID, eos, unk), nil
	}
	var idToWord map[int]string
	if errInverse := yaml.Unmarshal(contents, &idToWord); errInverse != nil {
		return nil, errors.Wrapf(err, "vocabulary file %q is neither a word to id map nor an id to word map", path)
	}
	v := newEmpty(eos, unk)
	for id, word := range idToWord {
		v.add(id, word)
	}
	return v, nil
}

// Len returns the number of ids mapped.
func (v *Vocabulary) Len() int { return len(v.idToWord) }

// EOS returns the id of the end-of-sequence token.
func (v *Vocabulary) EOS() int { return v.eos }

// UNK returns the id of the unknown word token.
func (v *Vocabulary) UNK() int { return v.unk }

// Word returns the word of id, and whether it is mapped.
func (v *Vocabulary) Word(id int) (string, bool) {
	word, found := v.idToWord[id]
	return word, found
}

// ID returns the id of word, and whether it is known.
func (v *Vocabulary) ID(word string) (int, bool) {
	id, found := v.wordToID[word]
	return id, found
}

// Words converts a translation to words, stopping at (and excluding) the first EndOfLine.
// Unmapped ids are shown as Unknown.
func (v *Vocabulary) Words(ids []int) []string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		word, found := v.idToWord[id]
		if !found {
			word = Unknown
		}
		if word == EndOfLine {
			break
		}
		words = append(words, word)
	}
	return words
}

// Sentence returns the Words of ids joined by spaces.
func (v *Vocabulary) Sentence(ids []int) string {
	return strings.Join(v.Words(ids), " ")
}

// Parse converts a source line to token ids: words are split on white space, unknown words
// (or words beyond the limit) become the unknown word token, and the end-of-sequence token is
// appended.
//
// It also returns the parsed input as a string, with each id converted back to a word,
// the unknown and end-of-sequence tokens shown as Unknown and EndOfSequence. Its words are
// aligned with the ids.
func (v *Vocabulary) Parse(line string) (ids []int, parsed string) {
	fields := strings.Fields(line)
	ids = make([]int, 0, len(fields)+1)
	words := make([]string, 0, len(fields)+1)
	for _, field := range fields {
		id, found := v.wordToID[field]
		if !found || (v.limit > 0 && id >= v.limit) {
			id = v.unk
		}
		ids = append(ids, id)
		words = append(words, v.displayWord(id))
	}
	ids = append(ids, v.eos)
	words = append(words, EndOfSequence)
	return ids, strings.Join(words, " ")
}

func (v *Vocabulary) displayWord(id int) string {
	switch id {
	case v.unk:
		return Unknown
	case v.eos:
		return EndOfSequence
	}
	if word, found := v.idToWord[id]; found {
		return word
	}
	return Unknown
}
