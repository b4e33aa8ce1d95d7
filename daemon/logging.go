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

package daemon

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// LogSample has all the measurements we may want to log
type LogSample struct {
	OffsetNS           float64
	OffsetMeanNS       float64
	OffsetStddevNS     float64
	FrequencyPPB       float64
	FrequencyMeanPPB   float64
	FrequencyStddevPPB float64
	AdjtimeNS          float64
	BoundNS            float64
	DriftPPB           float64
}

var header = []string{
	"offset",
	"offset_mean",
	"offset_stddev",
	"freq",
	"freq_mean",
	"freq_stddev",
	"adjtime",
	"bound",
	"drift",
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CSVRecords returns all data from this sample as CSV. Must by synced with `header` variable.
func (s *LogSample) CSVRecords() []string {
	return []string{
		formatFloat(s.OffsetNS),
		formatFloat(s.OffsetMeanNS),
		formatFloat(s.OffsetStddevNS),
		formatFloat(s.FrequencyPPB),
		formatFloat(s.FrequencyMeanPPB),
		formatFloat(s.FrequencyStddevPPB),
		formatFloat(s.AdjtimeNS),
		formatFloat(s.BoundNS),
		formatFloat(s.DriftPPB),
	}
}

// Logger is something that can store LogSample somewhere
type Logger interface {
	Log(*LogSample) error
}

// CSVLogger logs Sample as CSV into given writer
type CSVLogger struct {
	csvwriter     *csv.Writer
	printedHeader bool
}

// NewCSVLogger returns new CSVLogger
func NewCSVLogger(w io.Writer) *CSVLogger {
	return &CSVLogger{
		csvwriter: csv.NewWriter(w),
	}
}

// Log implements Logger interface
func (l *CSVLogger) Log(s *LogSample) error {
	if !l.printedHeader {
		if err := l.csvwriter.Write(header); err != nil {
			return err
		}
		l.printedHeader = true
	}
	if err := l.csvwriter.Write(s.CSVRecords()); err != nil {
		return err
	}
	l.csvwriter.Flush()
	return l.csvwriter.Error()
}

// DummyLogger logs offset and bound to given writer
type DummyLogger struct {
	w io.Writer
}

// NewDummyLogger returns new DummyLogger
func NewDummyLogger(w io.Writer) *DummyLogger {
	return &DummyLogger{w: w}
}

// Log implements Logger interface
func (l *DummyLogger) Log(s *LogSample) error {
	_, err := fmt.Fprintf(l.w, "offset = %v, bound = %v, freq = %.3f PPB\n", time.Duration(s.OffsetNS), time.Duration(s.BoundNS), s.FrequencyPPB)
	return err
}
