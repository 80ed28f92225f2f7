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
	"net/http"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/library"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/scheduler"
)

// WorkflowsHandler exposes the workflow library.
type WorkflowsHandler struct {
	library *library.Library
}

// NewWorkflowsHandler creates a new workflows handler.
func NewWorkflowsHandler(l *library.Library) *WorkflowsHandler {
	return &WorkflowsHandler{library: l}
}

// RegisterRoutes registers workflow API routes on the router.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/workflows", h.handleList)
	mux.HandleFunc("GET /v1/workflows/{name}", h.handleGet)
}

func (h *WorkflowsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": h.library.List(),
	})
}

func (h *WorkflowsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.library.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// SchedulesHandler exposes scheduler status.
type SchedulesHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSchedulesHandler creates a new schedules handler.
func NewSchedulesHandler(s *scheduler.Scheduler) *SchedulesHandler {
	return &SchedulesHandler{scheduler: s}
}

// RegisterRoutes registers schedule API routes on the router.
func (h *SchedulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/schedules", h.handleList)
}

func (h *SchedulesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": h.scheduler.GetStatus(),
	})
}
