// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gomlx/nmtdecode/pkg/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handler serves a model.Model with the protocol spoken by Client.
//
// It keeps the representations of the open sessions in memory, until released.
// Calls to the model are serialized.
type Handler struct {
	model model.Model

	// OnLoad is called for LoadPath requests. If nil, those requests fail with 501 (Not Implemented).
	OnLoad func(ctx context.Context, modelPath string) error

	mu       sync.Mutex
	sessions map[string]model.Representation
	mux      *http.ServeMux
}

// NewHandler creates a Handler serving m.
func NewHandler(m model.Model) *Handler {
	h := &Handler{
		model:    m,
		sessions: make(map[string]model.Representation),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.mux.HandleFunc("POST "+LoadPath, h.handleLoad)
	h.mux.HandleFunc("POST "+RepresentationPath, h.handleRepresentation)
	h.mux.HandleFunc("POST "+FertilityPath, h.handleFertility)
	h.mux.HandleFunc("POST "+InitialStatesPath, h.handleInitialStates)
	h.mux.HandleFunc("POST "+NextProbsPath, h.handleNextProbs)
	h.mux.HandleFunc("POST "+NextStatesPath, h.handleNextStates)
	h.mux.HandleFunc("POST "+ReleasePath, h.handleRelease)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// errSessionNotFound is reported with http.StatusNotFound.
var errSessionNotFound = errors.New("session not found")

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		klog.Warningf("failed to write model server response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, errSessionNotFound) {
		status = http.StatusNotFound
	}
	klog.V(1).Infof("model server request failed: %v", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode[T any](w http.ResponseWriter, r *http.Request) (req T, ok bool) {
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return req, false
	}
	return req, true
}

// session returns the representation of id. It must be called with h.mu held.
func (h *Handler) session(id string) (model.Representation, error) {
	repr, found := h.sessions[id]
	if !found {
		return nil, errors.Wrapf(errSessionNotFound, "session %q", id)
	}
	return repr, nil
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[loadRequest](w, r)
	if !ok {
		return
	}
	if h.OnLoad == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "model server doesn't load checkpoints"})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.OnLoad(r.Context(), req.ModelPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleRepresentation(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[representationRequest](w, r)
	if !ok {
		return
	}
	if req.Session == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing session id"})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.model.Representation(r.Context(), req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	h.sessions[req.Session] = repr
	w.Header().Set(SessionHeader, req.Session)
	writeJSON(w, http.StatusOK, representationResponse{SourceLen: repr.SourceLen()})
}

func (h *Handler) handleFertility(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[sessionRequest](w, r)
	if !ok {
		return
	}
	fertilityModel, ok := h.model.(model.FertilityModel)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "model has no fertility"})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.session(req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	fertility, err := fertilityModel.Fertility(r.Context(), repr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fertilityResponse{Fertility: fertility})
}

func (h *Handler) handleInitialStates(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[sessionRequest](w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.session(req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	states, err := h.model.InitialStates(r.Context(), repr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statesResponse{States: states})
}

func (h *Handler) handleNextProbs(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[stepRequest](w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.session(req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	probs, alignment, err := h.model.NextProbs(r.Context(), repr, req.Step, req.Tokens, req.States, req.aux())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nextProbsResponse{Probs: probs, Alignment: alignment})
}

func (h *Handler) handleNextStates(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[stepRequest](w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.session(req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	states, coverage, err := h.model.NextStates(r.Context(), repr, req.Step, req.Tokens, req.States, req.aux())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statesResponse{States: states, Coverage: coverage})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[sessionRequest](w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	repr, err := h.session(req.Session)
	if err != nil {
		writeError(w, err)
		return
	}
	delete(h.sessions, req.Session)
	if releaser, ok := h.model.(model.Releaser); ok {
		if err = releaser.Release(r.Context(), repr); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
