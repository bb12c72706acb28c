// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of searchesTotal.
const (
	outcomeDone   = "done"
	outcomeFailed = "failed"
	outcomeError  = "error"
)

// Reason labels of searchRetriesTotal.
const (
	retryAllowUnk   = "allow_unk"
	retryDoubleBeam = "double_beam"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nmtdecode_beam_searches_total",
		Help: "Total number of beam searches, by outcome (done, failed, error)",
	}, []string{"outcome"})

	searchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nmtdecode_beam_search_retries_total",
		Help: "Total number of beam search retries after the step budget was exhausted, by reason",
	}, []string{"reason"})

	searchSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nmtdecode_beam_search_steps",
		Help:    "Number of decoding steps run by each beam search attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	finishedHypothesesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nmtdecode_finished_hypotheses_total",
		Help: "Total number of hypotheses that emitted the end-of-sequence token",
	})
)
