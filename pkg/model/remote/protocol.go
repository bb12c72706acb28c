// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote

import "github.com/gomlx/nmtdecode/pkg/model"

// Endpoints of the model server. All of them take a JSON request with POST, except
// HealthPath, with GET.
const (
	HealthPath         = "/health"
	LoadPath           = "/v1/load"
	RepresentationPath = "/v1/representation"
	FertilityPath      = "/v1/fertility"
	InitialStatesPath  = "/v1/initial_states"
	NextProbsPath      = "/v1/next_probs"
	NextStatesPath     = "/v1/next_states"
	ReleasePath        = "/v1/release"
)

// SessionHeader carries the session id of a representation in every response of the server
// that relates to it, for debugging.
const SessionHeader = "X-Nmt-Session"

type loadRequest struct {
	ModelPath string `json:"model_path"`
}

type representationRequest struct {
	Session string `json:"session"`
	Source  []int  `json:"source"`
}

type representationResponse struct {
	SourceLen int `json:"source_len"`
}

type sessionRequest struct {
	Session string `json:"session"`
}

type fertilityResponse struct {
	Fertility []float32 `json:"fertility"`
}

type statesResponse struct {
	States   []model.State  `json:"states"`
	Coverage model.Coverage `json:"coverage,omitempty"`
}

type stepRequest struct {
	Session   string         `json:"session"`
	Step      int            `json:"step"`
	Tokens    []int          `json:"tokens"`
	States    []model.State  `json:"states"`
	Coverage  model.Coverage `json:"coverage,omitempty"`
	Fertility []float32      `json:"fertility,omitempty"`
}

func (r *stepRequest) aux() model.Aux {
	return model.Aux{Coverage: r.Coverage, Fertility: r.Fertility}
}

type nextProbsResponse struct {
	Probs     [][]float32 `json:"probs"`
	Alignment [][]float32 `json:"alignment"`
}

type errorResponse struct {
	Error string `json:"error"`
}
