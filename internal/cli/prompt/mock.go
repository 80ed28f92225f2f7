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

package prompt

import (
	"context"
	"fmt"
)

// MockPrompter implements Prompter with scripted responses for testing.
type MockPrompter struct {
	responses map[string]string
	callLog   []string
}

// NewMockPrompter creates a mock prompter answering from the given map.
func NewMockPrompter(responses map[string]string) *MockPrompter {
	return &MockPrompter{
		responses: responses,
	}
}

// Ask returns the scripted response for name, recording the call.
func (mp *MockPrompter) Ask(ctx context.Context, name string, sensitive bool) (string, error) {
	mp.callLog = append(mp.callLog, fmt.Sprintf("Ask(%s, sensitive=%t)", name, sensitive))
	value, ok := mp.responses[name]
	if !ok {
		return "", fmt.Errorf("no scripted response for %q", name)
	}
	return value, nil
}

// Calls returns the prompts issued so far.
func (mp *MockPrompter) Calls() []string {
	return mp.callLog
}
