// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package remote implements model.Model as a client of a model server, speaking JSON over HTTP.
//
// Each source representation lives on the server in a session, identified by a random UUID
// created by the client. Decoders release it with Client.Release when done.
//
// The server side of the protocol is provided by NewHandler, which serves any model.Model.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"k8s.io/klog/v2"
)

// DefaultTimeout of each request, if Config.Timeout is not set.
const DefaultTimeout = 30 * time.Second

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "nmtdecode_model_request_seconds",
	Help:    "Latency of the requests to the model server, by endpoint",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
}, []string{"endpoint"})

// Config of a Client.
type Config struct {
	// URL of the model server, e.g. "http://localhost:8780".
	URL string `yaml:"url"`

	// Timeout of each request. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Client of a model server. It implements model.Model, model.FertilityModel and model.Releaser.
//
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ model.Model          = (*Client)(nil)
	_ model.FertilityModel = (*Client)(nil)
	_ model.Releaser       = (*Client)(nil)
)

// New creates a client for the model server in cfg.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("model server URL not set")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// StatusError is returned when the server answers with a non-OK status.
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("model server %s returned status %d: %s", e.Path, e.StatusCode, e.Message)
}

// session is the Representation handed out by the Client.
type session struct {
	id        string
	sourceLen int
}

// SourceLen implements model.Representation.
func (s *session) SourceLen() int { return s.sourceLen }

// SessionID returns the server session of a representation created by a Client, or "" if
// it was created by something else.
func SessionID(repr model.Representation) string {
	if s, ok := repr.(*session); ok {
		return s.id
	}
	return ""
}

func sessionOf(repr model.Representation) (*session, error) {
	s, ok := repr.(*session)
	if !ok {
		return nil, errors.Errorf("representation of type %T was not created by the remote model client", repr)
	}
	return s, nil
}

// post sends req as JSON to the endpoint path and decodes the response into resp (if not nil).
func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "failed to encode request to %s", path)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "failed to create request to %s", path)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		return errors.Wrapf(err, "request to model server %s failed", path)
	}
	defer func() { _ = httpResp.Body.Close() }()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response of %s", path)
	}
	if httpResp.StatusCode != http.StatusOK {
		var errResp errorResponse
		message := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return errors.WithStack(&StatusError{Path: path, StatusCode: httpResp.StatusCode, Message: message})
	}
	if resp == nil {
		return nil
	}
	if err = json.Unmarshal(respBody, resp); err != nil {
		return errors.Wrapf(err, "failed to decode response of %s", path)
	}
	return nil
}

// IsAvailable checks whether the server answers its health check.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		klog.V(1).Infof("model server %s not available: %v", c.baseURL, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Load asks the server to load the model checkpoint in modelPath (a path in the server).
func (c *Client) Load(ctx context.Context, modelPath string) error {
	return c.post(ctx, LoadPath, loadRequest{ModelPath: modelPath}, nil)
}

// Representation implements model.Model. It creates a new session in the server.
func (c *Client) Representation(ctx context.Context, source []int) (model.Representation, error) {
	s := &session{id: uuid.NewString()}
	var resp representationResponse
	if err := c.post(ctx, RepresentationPath, representationRequest{Session: s.id, Source: source}, &resp); err != nil {
		return nil, err
	}
	s.sourceLen = resp.SourceLen
	return s, nil
}

// Fertility implements model.FertilityModel.
func (c *Client) Fertility(ctx context.Context, repr model.Representation) ([]float32, error) {
	s, err := sessionOf(repr)
	if err != nil {
		return nil, err
	}
	var resp fertilityResponse
	if err = c.post(ctx, FertilityPath, sessionRequest{Session: s.id}, &resp); err != nil {
		return nil, err
	}
	return resp.Fertility, nil
}

// InitialStates implements model.Model.
func (c *Client) InitialStates(ctx context.Context, repr model.Representation) ([]model.State, error) {
	s, err := sessionOf(repr)
	if err != nil {
		return nil, err
	}
	var resp statesResponse
	if err = c.post(ctx, InitialStatesPath, sessionRequest{Session: s.id}, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// NextProbs implements model.Model.
func (c *Client) NextProbs(ctx context.Context, repr model.Representation, step int, lastTokens []int, states []model.State, aux model.Aux) (
	probs [][]float32, alignment [][]float32, err error) {
	s, err := sessionOf(repr)
	if err != nil {
		return nil, nil, err
	}
	req := stepRequest{
		Session: s.id, Step: step, Tokens: lastTokens, States: states,
		Coverage: aux.Coverage, Fertility: aux.Fertility,
	}
	var resp nextProbsResponse
	if err = c.post(ctx, NextProbsPath, req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Probs, resp.Alignment, nil
}

// NextStates implements model.Model.
func (c *Client) NextStates(ctx context.Context, repr model.Representation, step int, tokens []int, states []model.State, aux model.Aux) (
	[]model.State, model.Coverage, error) {
	s, err := sessionOf(repr)
	if err != nil {
		return nil, nil, err
	}
	req := stepRequest{
		Session: s.id, Step: step, Tokens: tokens, States: states,
		Coverage: aux.Coverage, Fertility: aux.Fertility,
	}
	var resp statesResponse
	if err = c.post(ctx, NextStatesPath, req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.States, resp.Coverage, nil
}

// Release implements model.Releaser: it drops the session in the server.
func (c *Client) Release(ctx context.Context, repr model.Representation) error {
	s, err := sessionOf(repr)
	if err != nil {
		return err
	}
	return c.post(ctx, ReleasePath, sessionRequest{Session: s.id}, nil)
}
