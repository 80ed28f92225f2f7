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

	"github.com/AlecAivazis/survey/v2"
)

// SurveyPrompter implements Prompter using the survey library.
type SurveyPrompter struct {
	interactive bool
}

// NewSurveyPrompter creates a new survey-based prompter. When
// interactive is false, Ask fails instead of blocking on a terminal
// that is not there.
func NewSurveyPrompter(interactive bool) *SurveyPrompter {
	return &SurveyPrompter{
		interactive: interactive,
	}
}

// Ask prompts for a variable value. Sensitive variables use a password
// prompt so the value never echoes.
func (sp *SurveyPrompter) Ask(ctx context.Context, name string, sensitive bool) (string, error) {
	if !sp.interactive {
		return "", fmt.Errorf("cannot prompt for %q in non-interactive mode", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	message := fmt.Sprintf("Value for %s:", name)
	var result string
	var err error
	if sensitive {
		err = survey.AskOne(&survey.Password{Message: message}, &result)
	} else {
		err = survey.AskOne(&survey.Input{Message: message}, &result)
	}
	if err != nil {
		return "", fmt.Errorf("prompt for %q: %w", name, err)
	}
	return result, nil
}
