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
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/timecounter/timecounter"
)

func init() {
	RootCmd.AddCommand(listCmd)
}

func marker(c timecounter.Info) string {
	switch {
	case c.Bad:
		return color.RedString("bad")
	case c.Active && c.Chosen:
		return color.GreenString("*pinned")
	case c.Active:
		return color.GreenString("*")
	case c.Quality < 0:
		return color.YellowString("-")
	}
	return ""
}

func printCounters(w io.Writer, counters []timecounter.Info) error {
	table := tablewriter.NewWriter(w)
	table.Header("", "name", "frequency", "mask", "quality", "state")
	for _, c := range counters {
		err := table.Append([]string{
			marker(c),
			c.Name,
			fmt.Sprintf("%d", c.Frequency),
			fmt.Sprintf("%#x", c.Mask),
			fmt.Sprintf("%d", c.Quality),
			c.State.String(),
		})
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func listRun() error {
	counters, err := client().Counters()
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}
	return printCounters(os.Stdout, counters)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print registered counters",
	Long:  "Print registered counters. Active one is marked with '*'.",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := listRun(); err != nil {
			log.Fatal(err)
		}
	},
}
