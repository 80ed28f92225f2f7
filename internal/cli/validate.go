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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate WORKFLOW_FILE...",
		Short: "Validate workflow definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Printf("%s %s: %v\n", styleError.Render(symbolError), path, err)
					failed++
					continue
				}

				def, err := workflow.ParseDefinition(data)
				if err != nil {
					fmt.Printf("%s %s: %v\n", styleError.Render(symbolError), path, err)
					failed++
					continue
				}
				fmt.Printf("%s %s: %s (%d step(s))\n",
					styleOK.Render(symbolOK), path, def.Name, len(def.Steps))
			}

			if failed > 0 {
				return NewInvalidWorkflowError(
					fmt.Sprintf("%d of %d file(s) invalid", failed, len(args)), nil)
			}
			return nil
		},
	}
}
