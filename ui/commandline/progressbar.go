// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// numStatsRows is the number of fixed rows in the statistics table.
const numStatsRows = 4

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// BatchStats accumulated by a BatchProgress.
type BatchStats struct {
	// Sentences translated so far, including failed ones.
	Sentences int

	// Failed translations.
	Failed int

	// TotalCost of the best translation of each sentence.
	TotalCost float64

	// Elapsed time since the start.
	Elapsed time.Duration
}

// TimePerSentence is the mean time spent per sentence.
func (s BatchStats) TimePerSentence() time.Duration {
	if s.Sentences == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(s.Sentences)
}

// BatchProgress displays a progress bar for a batch translation, and below it a table with
// the running statistics.
//
// Updates are printed asynchronously, so a slow terminal doesn't slow down translation.
type BatchProgress struct {
	start time.Time
	bar   *progressbar.ProgressBar
	out   io.Writer

	mu    sync.Mutex
	stats BatchStats

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan BatchStats
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// NewBatchProgress creates and starts a progress bar for numSentences sentences, printing to out.
// Use numSentences = -1 if the number is not known.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func NewBatchProgress(out io.Writer, numSentences int, extraMetrics ...ExtraMetricFn) *BatchProgress {
	pBar := &BatchProgress{
		start:          time.Now(),
		out:            out,
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(out),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		updates:        make(chan BatchStats, 100), // Large buffer so things are not blocked.
		extraMetricFns: extraMetrics,
	}
	pBar.bar = progressbar.NewOptions(numSentences,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("sentences"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawLoop()
	return pBar
}

// Add reports one more sentence translated, with the cost of its best translation.
func (pBar *BatchProgress) Add(cost float64, failed bool) {
	pBar.mu.Lock()
	pBar.stats.Sentences++
	if failed {
		pBar.stats.Failed++
	}
	pBar.stats.TotalCost += cost
	pBar.stats.Elapsed = time.Since(pBar.start)
	stats := pBar.stats
	pBar.mu.Unlock()
	pBar.updates <- stats
}

// Stats returns the statistics so far.
func (pBar *BatchProgress) Stats() BatchStats {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	stats := pBar.stats
	stats.Elapsed = time.Since(pBar.start)
	return stats
}

// Finish waits for the pending updates to be printed and returns the final statistics.
// Add must not be called after Finish.
func (pBar *BatchProgress) Finish() BatchStats {
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
	return pBar.Stats()
}

// drawLoop asynchronously draws updates: this is handy if translation is faster than the
// terminal, in particular over a relatively slow network connection.
func (pBar *BatchProgress) drawLoop() {
	defer pBar.asyncUpdatesDone.Done()
	reported := 0
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				update = newUpdate
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Sentences", humanize.Comma(int64(update.Sentences)))
		pBar.statsTable.Row("Failed", humanize.Comma(int64(update.Failed)))
		pBar.statsTable.Row("Total cost", humanize.FormatFloat("#,###.##", update.TotalCost))
		pBar.statsTable.Row("Time per sentence", FormatDuration(update.TimePerSentence()))
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// For command-line, we clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			numLinesToBackup := numStatsRows + len(pBar.extraMetricFns) + 2 + 1 // Table rows, borders and progress bar.
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false

		// Print update.
		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(update.Sentences - reported) // Prints progress bar line.
		reported = update.Sentences
		_, _ = fmt.Fprintln(pBar.out)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}
