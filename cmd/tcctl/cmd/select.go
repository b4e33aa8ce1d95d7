/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(selectCmd)
	RootCmd.AddCommand(markBadCmd)
}

var selectCmd = &cobra.Command{
	Use:   "select <counter>",
	Short: "Make the counter active",
	Long:  "Make the counter active regardless of its quality. It stays active until marked bad or removed.",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		counters, err := client().Select(args[0])
		if err != nil {
			log.Fatal(fmt.Errorf("selecting %q: %w", args[0], err))
		}
		if err := printCounters(os.Stdout, counters); err != nil {
			log.Fatal(err)
		}
	},
}

var markBadCmd = &cobra.Command{
	Use:   "markbad <counter>",
	Short: "Mark the counter as bad",
	Long:  "Mark the counter as bad. If it's active, the daemon switches to the best remaining counter on the next tick.",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		counters, err := client().MarkBad(args[0])
		if err != nil {
			log.Fatal(fmt.Errorf("marking %q bad: %w", args[0], err))
		}
		if err := printCounters(os.Stdout, counters); err != nil {
			log.Fatal(err)
		}
	},
}
