package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/nmtdecode/pkg/sample"
	"github.com/gomlx/nmtdecode/pkg/vocab"
	"github.com/gomlx/nmtdecode/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// flushEvery is the number of translations between flushes of the output file.
const flushEvery = 100

// failedTranslation is written when a sentence gets no translation.
const failedTranslation = "Failed"

// batch translates a file of sentences with beam search.
type batch struct {
	dispatcher  *sample.Dispatcher
	sourceVocab *vocab.Vocabulary
	opts        sample.Options
	beamSize    int
	verbose     bool

	// out receives the reports (verbose) or the progress bar.
	out io.Writer
}

// translateFile translates sourcePath line by line into transPath, and returns the total cost of
// the best translations.
func (b *batch) translateFile(ctx context.Context, sourcePath, transPath string) (totalCost float64, err error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read sources")
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(data) == 0 {
		lines = nil
	}

	f, err := os.Create(transPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create translations file")
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close translations file %q", transPath)
		}
	}()
	return b.translate(ctx, lines, f)
}

// translate each line, writing the best translations to w.
func (b *batch) translate(ctx context.Context, lines []string, w io.Writer) (totalCost float64, err error) {
	writer := bufio.NewWriter(w)
	var progress *commandline.BatchProgress
	if !b.verbose {
		progress = commandline.NewBatchProgress(b.out, len(lines), func() (string, string) {
			return "Beam size", strconv.Itoa(b.beamSize)
		})
		defer progress.Finish()
	}
	klog.V(2).Infof("Beam size: %d", b.beamSize)
	start := time.Now()
	for ii, line := range lines {
		ids, parsed := b.sourceVocab.Parse(strings.TrimSpace(line))
		translations, err := b.dispatcher.Sample(ctx, ids, b.beamSize, b.opts)
		if err != nil {
			return 0, errors.WithMessagef(err, "failed to translate line %d", ii+1)
		}
		sentence, cost := failedTranslation, 0.0
		best := translations.Best()
		if best >= 0 {
			sentence, cost = translations.Sentences[best], translations.Costs[best]
		}
		if _, err = writer.WriteString(sentence + "\n"); err != nil {
			return 0, errors.Wrapf(err, "failed to write translation")
		}
		if b.verbose {
			report := commandline.Report{Parsed: parsed, Translation: sentence, Fertility: translations.Fertility}
			if best >= 0 {
				report.Alignment = translations.Alignments[best]
				if translations.Coverages != nil {
					report.Coverage = translations.Coverages[best]
				}
			}
			if err = commandline.WriteReport(b.out, report); err != nil {
				return 0, err
			}
		} else {
			progress.Add(cost, best < 0 || translations.Failed())
		}

		totalCost += cost
		if (ii+1)%flushEvery == 0 {
			if err = writer.Flush(); err != nil {
				return 0, errors.Wrapf(err, "failed to write translations")
			}
			klog.V(2).Infof("Current speed is %s per sentence",
				commandline.FormatDuration(time.Since(start)/time.Duration(ii+1)))
		}
	}
	if err = writer.Flush(); err != nil {
		return 0, errors.Wrapf(err, "failed to write translations")
	}
	return totalCost, nil
}
