// nmt_sample translates sentences with a neural machine translation model, either finding the
// best translations with beam search or sampling them.
//
// Usage:
//
//	nmt_sample -state=state.yaml [flags] <model_path> [changes]
//
// The model is served by a model server (see -model_url), and model_path is the path of the
// model in the server. changes is an optional list of "key=value" settings, separated by ";",
// that change the state: e.g. "coverage_dim=20;level=DEBUG".
//
// With -source and -trans it translates the whole file with beam search, one best translation per
// line. Otherwise it starts an interactive prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/gomlx/nmtdecode/pkg/config"
	"github.com/gomlx/nmtdecode/pkg/model/remote"
	"github.com/gomlx/nmtdecode/pkg/sample"
	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	flagState      = flag.String("state", "", "State (YAML) of the model to use. Required.")
	flagBeamSearch = flag.Bool("beam_search", false, "Use beam search to find the best translations, instead of sampling.")
	flagBeamSize   = flag.Int("beam_size", 0, "Beam size, required with -source.")
	flagIgnoreUnk  = flag.Bool("ignore_unk", false, "Ignore unknown words: beam search only emits it if it can't translate otherwise.")
	flagSource     = flag.String("source", "", "File of source sentences, one per line.")
	flagTrans      = flag.String("trans", "", "File to save the translations in.")
	flagNormalize  = flag.Bool("normalize", false, "Normalize the cost of each translation by its length.")
	flagVerbose    = flag.Bool("verbose", false, "Be verbose: report parsed input, alignments and coverage of each translation.")
	flagModelURL   = flag.String("model_url", "", "Address of the model server. Overrides the model_url of the state.")
	flagMetrics    = flag.String("metrics_addr", "", "If set, serve prometheus metrics in this address, e.g. \":9090\".")
	flagHistory    = flag.String("history", "", "History file for the interactive prompt.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model path. See 'nmt_sample -help'")
		os.Exit(1)
	}
	if len(args) > 2 {
		klog.Errorf("Too many arguments. See 'nmt_sample -help'.")
		os.Exit(1)
	}
	if *flagState == "" {
		klog.Errorf("Missing -state. See 'nmt_sample -help'.")
		os.Exit(1)
	}
	state := must.M1(config.Load(*flagState))
	if len(args) == 2 {
		keys := must.M1(state.ApplySettings(args[1]))
		klog.V(1).Infof("State changed: %v", keys)
	}
	if *flagModelURL != "" {
		state.ModelURL = *flagModelURL
	}
	must.M(state.Validate())
	setVerbosity(state.Verbosity())
	serveMetrics(*flagMetrics)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := must.M1(remote.New(remote.Config{URL: state.ModelURL, Timeout: state.ModelTimeout}))
	if !client.IsAvailable(ctx) {
		klog.Errorf("Model server at %s is not available.", state.ModelURL)
		os.Exit(1)
	}
	must.M(client.Load(ctx, args[0]))
	sourceVocab := must.M1(state.SourceVocabulary())
	targetVocab := must.M1(state.TargetVocabulary())

	d := &sample.Dispatcher{Vocab: targetVocab}
	if *flagBeamSearch {
		d.BeamSearch = state.NewBeamSearch(client)
	} else {
		d.Sampler = state.NewSampler(client)
	}
	opts := sample.Options{IgnoreUnk: *flagIgnoreUnk, Normalize: *flagNormalize}

	if *flagSource != "" && *flagTrans != "" {
		if !*flagBeamSearch || *flagBeamSize <= 0 {
			klog.Errorf("Translating a file requires -beam_search and -beam_size.")
			os.Exit(1)
		}
		b := &batch{
			dispatcher:  d,
			sourceVocab: sourceVocab,
			opts:        opts,
			beamSize:    *flagBeamSize,
			verbose:     *flagVerbose,
			out:         os.Stdout,
		}
		totalCost := must.M1(b.translateFile(ctx, *flagSource, *flagTrans))
		fmt.Printf("Total cost of the translations: %g\n", totalCost)
		return
	}

	prompt := must.M1(newPrompt(*flagHistory, !*flagBeamSearch))
	must.M(interactive(ctx, prompt, d, sourceVocab, opts, os.Stdout))
}

// setVerbosity sets klog's verbosity to the one of the state, unless -v was given.
func setVerbosity(v int) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			explicit = true
		}
	})
	if !explicit {
		must.M(flag.Set("v", strconv.Itoa(v)))
	}
}

// serveMetrics in the background, if addr is set.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		klog.V(1).Infof("Serving metrics in %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			klog.Errorf("Metrics server failed: %v", err)
		}
	}()
}
