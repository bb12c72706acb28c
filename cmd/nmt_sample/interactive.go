package main

import (
	"context"
	"fmt"
	"io"

	"github.com/gomlx/nmtdecode/pkg/sample"
	"github.com/gomlx/nmtdecode/pkg/vocab"
	"github.com/gomlx/nmtdecode/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// queryReader is implemented by *commandline.Prompt.
type queryReader interface {
	Next() (*commandline.Query, error)
	Close() error
}

func newPrompt(historyFile string, askAlpha bool) (queryReader, error) {
	p, err := commandline.NewPrompt(historyFile, askAlpha)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// interactive loop: asks for sentences and prints their translations, until the user ends the input.
func interactive(ctx context.Context, prompt queryReader, d *sample.Dispatcher, sourceVocab *vocab.Vocabulary,
	opts sample.Options, out io.Writer) error {
	defer func() { _ = prompt.Close() }()
	opts.Verbose = true
	opts.Out = out
	for {
		if ctx.Err() != nil {
			return nil
		}
		q, err := prompt.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *commandline.InputParseError
		if errors.As(err, &parseErr) {
			_, _ = fmt.Fprintf(out, "Exception while parsing your input: %v\n", parseErr)
			continue
		}
		if err != nil {
			return err
		}
		ids, parsed := sourceVocab.Parse(q.Source)
		_, _ = fmt.Fprintln(out, "Parsed Input:", parsed)
		opts.Alpha = q.Alpha
		if _, err = d.Sample(ctx, ids, q.NSamples, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			klog.Errorf("Translation failed: %+v", err)
		}
	}
}
