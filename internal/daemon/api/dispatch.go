// Copyright 2025 Umut Candan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
)

// DispatchHandler implements the remote template-dispatch protocol.
// A remote operator posts a template ID plus pre-resolved variables;
// variables absent from the message fail resolution rather than
// prompting, since there is no interactive session.
type DispatchHandler struct {
	runner *runner.Runner
}

// NewDispatchHandler creates a new dispatch handler.
func NewDispatchHandler(r *runner.Runner) *DispatchHandler {
	return &DispatchHandler{runner: r}
}

// RegisterRoutes registers the dispatch route on the router.
func (h *DispatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/dispatch", h.handleDispatch)
}

// DispatchRequest is the template-dispatch message.
type DispatchRequest struct {
	TemplateID string            `json:"template_id"`
	Vars       map[string]string `json:"vars,omitempty"`
}

// DispatchResponse acknowledges a dispatched run.
type DispatchResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	State    string `json:"state"`
}

func (h *DispatchHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if h.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "daemon is shutting down")
		return
	}

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id field required")
		return
	}

	snap, err := h.runner.Submit(r.Context(), runner.SubmitRequest{
		Workflow: req.TemplateID,
		Vars:     req.Vars,
	})
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to dispatch: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, DispatchResponse{
		RunID:    snap.ID,
		Workflow: snap.Workflow,
		State:    string(snap.State),
	})
}
