// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains the terminal UI of the translation tools: the verbose report of
// a translation, a progress bar for batch translation and the interactive prompt.
package commandline

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"gonum.org/v1/gonum/mat"
)

// Report of the best translation of one source sentence, printed in verbose mode.
type Report struct {
	// Parsed source sentence, one word per source position (including the end-of-sequence).
	Parsed string

	// Translation chosen.
	Translation string

	// Alignment of the translation: one weight vector (over the source positions) per target token.
	Alignment [][]float32

	// Coverage of each source position at the end of the translation, if tracked.
	Coverage []float32

	// Fertility of each source position, if the model uses it.
	Fertility []float32
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = rightAlignedStyle
)

// WriteReport prints the report to w.
//
// The alignment is printed as a matrix with one row per source word and one column per target token.
func WriteReport(w io.Writer, r Report) error {
	var sb strings.Builder
	fmt.Fprintln(&sb, "Parsed Input:", r.Parsed)
	fmt.Fprintln(&sb, "Translation:", r.Translation)
	sourceWords := strings.Fields(r.Parsed)
	if len(r.Alignment) > 0 {
		fmt.Fprintln(&sb, "Aligns:")
		fmt.Fprintln(&sb, AlignmentTable(sourceWords, r.Alignment))
	}
	if r.Coverage != nil {
		fmt.Fprintln(&sb, "Coverage:", wordValues(sourceWords, r.Coverage))
	}
	if r.Fertility != nil {
		fmt.Fprintln(&sb, "Fertility:", wordValues(sourceWords, r.Fertility))
	}
	fmt.Fprintln(&sb)
	_, err := io.WriteString(w, sb.String())
	return err
}

// AlignmentTable renders the transposed alignment (source positions × target tokens) as a table.
// Rows are labeled with the source words, if given.
func AlignmentTable(sourceWords []string, alignment [][]float32) string {
	if len(alignment) == 0 || len(alignment[0]) == 0 {
		return ""
	}
	targetLen, sourceLen := len(alignment), len(alignment[0])
	dense := mat.NewDense(targetLen, sourceLen, nil)
	for t, weights := range alignment {
		for s, w := range weights {
			dense.Set(t, s, float64(w))
		}
	}
	transposed := dense.T()

	headers := make([]string, targetLen+1)
	for t := range targetLen {
		headers[t+1] = fmt.Sprintf("%d", t)
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow || col == 0 {
				return headerStyle
			}
			return cellStyle
		})
	for s := range sourceLen {
		row := make([]string, targetLen+1)
		row[0] = fmt.Sprintf("%d", s)
		if s < len(sourceWords) {
			row[0] = sourceWords[s]
		}
		for t := range targetLen {
			row[t+1] = fmt.Sprintf("%.2f", transposed.At(s, t))
		}
		table.Row(row...)
	}
	return table.String()
}

// wordValues formats values as "word/value" pairs, one per source position.
func wordValues(words []string, values []float32) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		word := fmt.Sprintf("%d", ii)
		if ii < len(words) {
			word = words[ii]
		}
		parts[ii] = fmt.Sprintf("%s/%.2f", word, v)
	}
	return strings.Join(parts, " ")
}
