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
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/timecounter/daemon"
	"github.com/facebook/timecounter/kernntp"
)

var statsJSONFlag bool

func init() {
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVarP(&statsJSONFlag, "json", "j", false, "print stats as JSON")
}

func leapState(s kernntp.State) string {
	if s == kernntp.StateOK {
		return color.GreenString("%v", s)
	}
	return color.YellowString("%v", s)
}

func printStatus(w io.Writer, st *daemon.Status) {
	fmt.Fprintf(w, "time:         %s\n", st.Now.UTC().Format("2006-01-02 15:04:05.000000000 MST"))
	fmt.Fprintf(w, "uptime:       %v\n", st.Uptime)
	fmt.Fprintf(w, "counter:      %s", st.Timecounter.Active)
	if st.Timecounter.Chosen {
		fmt.Fprint(w, " (pinned)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "counters:     %d\n", st.Timecounter.Counters)
	fmt.Fprintf(w, "generation:   %d\n", st.Timecounter.Generation)
	fmt.Fprintf(w, "windups:      %d\n", st.Timecounter.Windups)
	fmt.Fprintf(w, "removals:     %d\n", st.Timecounter.Removals)
	fmt.Fprintf(w, "servo:        %s\n", st.Discipline.Servo)
	fmt.Fprintf(w, "frequency:    %.3f PPB\n", st.Discipline.FrequencyPPB)
	fmt.Fprintf(w, "offset:       %v\n", st.Discipline.Offset)
	fmt.Fprintf(w, "adjtime:      %v\n", st.Discipline.Adjtime)
	fmt.Fprintf(w, "leap:         %s (%s)\n", st.Discipline.Leap, leapState(st.Discipline.State))
	fmt.Fprintf(w, "TAI offset:   %d\n", st.Discipline.TAI)
}

func printStats(w io.Writer, stats map[string]int64, asJSON bool) error {
	if asJSON {
		str, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshaling json: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", string(str))
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(stats)) {
		if _, err := fmt.Fprintf(w, "%s: %d\n", k, stats[k]); err != nil {
			return err
		}
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print timecounter and discipline state",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		st, err := client().Status()
		if err != nil {
			log.Fatal(err)
		}
		printStatus(os.Stdout, st)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print daemon stats",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		stats, err := client().Stats()
		if err != nil {
			log.Fatal(err)
		}
		if err := printStats(os.Stdout, stats, statsJSONFlag); err != nil {
			log.Fatal(err)
		}
	},
}
