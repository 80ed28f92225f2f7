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
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// RunsHandler handles run-related API requests.
type RunsHandler struct {
	runner *runner.Runner
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(r *runner.Runner) *RunsHandler {
	return &RunsHandler{runner: r}
}

// RegisterRoutes registers run API routes on the router.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.handleCreate)
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/runs/{id}/logs", h.handleLogs)
	mux.HandleFunc("DELETE /v1/runs/{id}", h.handleCancel)
}

// CreateRunRequest is the JSON request body for creating a run.
type CreateRunRequest struct {
	// Workflow names a definition from the library.
	Workflow string `json:"workflow"`

	// Vars seed the run's variable bindings.
	Vars map[string]string `json:"vars,omitempty"`
}

// handleCreate handles POST /v1/runs. The body is either JSON naming a
// library workflow, or a YAML workflow definition submitted inline.
func (h *RunsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "daemon is shutting down")
		return
	}

	contentType := r.Header.Get("Content-Type")

	var req runner.SubmitRequest
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		var body CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if body.Workflow == "" {
			writeError(w, http.StatusBadRequest, "workflow field required")
			return
		}
		req = runner.SubmitRequest{Workflow: body.Workflow, Vars: body.Vars}

	case strings.HasPrefix(contentType, "application/x-yaml"), strings.HasPrefix(contentType, "text/yaml"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
			return
		}
		def, err := workflow.ParseDefinitionWith(data, h.runner.Defaults())
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow: %v", err))
			return
		}
		req = runner.SubmitRequest{Definition: def, Vars: varsFromQuery(r)}

	default:
		writeError(w, http.StatusUnsupportedMediaType,
			"content-type must be application/json or application/x-yaml")
		return
	}

	snap, err := h.runner.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to submit run: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleList handles GET /v1/runs with optional state, workflow, and
// limit query parameters.
func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := runner.ListFilter{
		State:    workflow.RunState(r.URL.Query().Get("state")),
		Workflow: r.URL.Query().Get("workflow"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs": h.runner.List(filter),
	})
}

// handleGet handles GET /v1/runs/{id}, returning run state plus a log
// tail capped by the tail query parameter (default 20 records).
func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runner.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	tail := 20
	if tailStr := r.URL.Query().Get("tail"); tailStr != "" {
		n, err := strconv.Atoi(tailStr)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid tail")
			return
		}
		tail = n
	}
	if len(snap.Records) > tail {
		snap.Records = snap.Records[len(snap.Records)-tail:]
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleLogs handles GET /v1/runs/{id}/logs. With follow=true the
// response streams new records as JSON lines until the client
// disconnects or the run finishes.
func (h *RunsHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.runner.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if r.URL.Query().Get("follow") != "true" {
		writeJSON(w, http.StatusOK, map[string]any{"records": snap.Records})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before snapshotting so no record falls between the replay
	// and the live stream; a record racing the subscription may repeat.
	ch, unsub := h.runner.Subscribe(id)
	defer unsub()

	snap, err = h.runner.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, rec := range snap.Records {
		if err := enc.Encode(rec); err != nil {
			return
		}
	}
	flusher.Flush()

	if terminalState(snap.State) {
		return
	}

	// The runner closes subscriber channels when the run finishes.
	for {
		select {
		case <-r.Context().Done():
			return
		case rec, open := <-ch:
			if !open {
				return
			}
			if err := enc.Encode(rec); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func terminalState(state workflow.RunState) bool {
	switch state {
	case workflow.RunCompleted, workflow.RunFailed, workflow.RunCancelled:
		return true
	}
	return false
}

// handleCancel handles DELETE /v1/runs/{id}.
func (h *RunsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Cancel(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "cancelling",
	})
}

// varsFromQuery collects var.NAME=VALUE query parameters into bindings.
func varsFromQuery(r *http.Request) map[string]string {
	vars := make(map[string]string)
	for key, values := range r.URL.Query() {
		if name, ok := strings.CutPrefix(key, "var."); ok && len(values) > 0 {
			vars[name] = values[0]
		}
	}
	if len(vars) == 0 {
		return nil
	}
	return vars
}

func statusFor(err error) int {
	if agenterrors.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
