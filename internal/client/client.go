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

// Package client is a typed HTTP client for the autoagentd API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/api"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/library"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/scheduler"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// Client talks to a running autoagentd instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the request timeout. The default client has no
// timeout so log streaming can hold a connection open.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the daemon at addr (host:port).
func New(addr string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    "http://" + addr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthResponse is the response from /v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, "/v1/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Version returns the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var body struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/v1/version", &body); err != nil {
		return "", err
	}
	return body.Version, nil
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// CreateRun starts a run of a library workflow by name.
func (c *Client) CreateRun(ctx context.Context, workflowName string, vars map[string]string) (*runner.RunSnapshot, error) {
	body, err := json.Marshal(api.CreateRunRequest{Workflow: workflowName, Vars: vars})
	if err != nil {
		return nil, err
	}

	var snap runner.RunSnapshot
	if err := c.postJSON(ctx, "/v1/runs", "application/json", bytes.NewReader(body), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SubmitDefinition starts a run from an inline YAML definition. Vars are
// passed as var.NAME query parameters.
func (c *Client) SubmitDefinition(ctx context.Context, yamlData []byte, vars map[string]string) (*runner.RunSnapshot, error) {
	path := "/v1/runs"
	if len(vars) > 0 {
		q := url.Values{}
		for name, value := range vars {
			q.Set("var."+name, value)
		}
		path += "?" + q.Encode()
	}

	var snap runner.RunSnapshot
	if err := c.postJSON(ctx, path, "application/x-yaml", bytes.NewReader(yamlData), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Dispatch triggers a stored workflow template through the remote
// dispatch protocol.
func (c *Client) Dispatch(ctx context.Context, templateID string, vars map[string]string) (*api.DispatchResponse, error) {
	body, err := json.Marshal(api.DispatchRequest{TemplateID: templateID, Vars: vars})
	if err != nil {
		return nil, err
	}

	var out api.DispatchResponse
	if err := c.postJSON(ctx, "/v1/dispatch", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun fetches run state with up to tail log records.
func (c *Client) GetRun(ctx context.Context, id string, tail int) (*runner.RunSnapshot, error) {
	path := "/v1/runs/" + url.PathEscape(id)
	if tail >= 0 {
		path += fmt.Sprintf("?tail=%d", tail)
	}

	var snap runner.RunSnapshot
	if err := c.getJSON(ctx, path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRuns lists runs, optionally filtered by state and workflow name.
func (c *Client) ListRuns(ctx context.Context, state, workflowName string, limit int) ([]*runner.RunSnapshot, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if workflowName != "" {
		q.Set("workflow", workflowName)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var body struct {
		Runs []*runner.RunSnapshot `json:"runs"`
	}
	if err := c.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}

// CancelRun requests cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/runs/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// GetRunLogs fetches the complete run log.
func (c *Client) GetRunLogs(ctx context.Context, id string) ([]workflow.RunRecord, error) {
	var body struct {
		Records []workflow.RunRecord `json:"records"`
	}
	if err := c.getJSON(ctx, "/v1/runs/"+url.PathEscape(id)+"/logs", &body); err != nil {
		return nil, err
	}
	return body.Records, nil
}

// FollowLogs streams run records until the run finishes or ctx is
// cancelled. Each record is sent on the returned channel, which is
// closed when the stream ends.
func (c *Client) FollowLogs(ctx context.Context, id string) (<-chan workflow.RunRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/runs/"+url.PathEscape(id)+"/logs?follow=true", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	ch := make(chan workflow.RunRecord)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var rec workflow.RunRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				continue
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListWorkflows lists the workflows loaded in the daemon library.
func (c *Client) ListWorkflows(ctx context.Context) ([]library.Info, error) {
	var body struct {
		Workflows []library.Info `json:"workflows"`
	}
	if err := c.getJSON(ctx, "/v1/workflows", &body); err != nil {
		return nil, err
	}
	return body.Workflows, nil
}

// GetWorkflow fetches a full workflow definition by name.
func (c *Client) GetWorkflow(ctx context.Context, name string) (*workflow.Definition, error) {
	var def workflow.Definition
	if err := c.getJSON(ctx, "/v1/workflows/"+url.PathEscape(name), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ListSchedules lists scheduler status entries.
func (c *Client) ListSchedules(ctx context.Context) ([]scheduler.Status, error) {
	var body struct {
		Schedules []scheduler.Status `json:"schedules"`
	}
	if err := c.getJSON(ctx, "/v1/schedules", &body); err != nil {
		return nil, err
	}
	return body.Schedules, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
