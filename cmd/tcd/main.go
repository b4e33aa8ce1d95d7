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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebook/timecounter/daemon"
	"github.com/facebook/timecounter/leapsectz"
	"github.com/facebook/timecounter/timecounter"

	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		cfg            = daemon.DefaultConfig()
		err            error
		cfgPath        string
		counterType    string
		counterDevice  string
		ppsChannel     int
		ppsKernel      bool
		csvLog         bool
		csvPath        string
		verbose        bool
		noLeap         bool
		monitoringPort int
	)

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "timecounter daemon\n")
		fmt.Fprintf(flag.CommandLine.Output(), "%s\n\nFlags:\n", daemon.MathHelp)
		flag.PrintDefaults()
	}

	flag.IntVar(&cfg.Hz, "hz", cfg.Hz, "How many times per second to wind up the timecounter")
	flag.StringVar(&counterType, "counter", daemon.CounterMonotonicRaw, "Counter to use: monotonic, monotonic_raw or phc")
	flag.StringVar(&counterDevice, "device", "", "PHC device for the phc counter, like /dev/ptp0")
	flag.IntVar(&ppsChannel, "ppschannel", -1, "Timestamp PPS on this external timestamp channel of the phc counter. -1 disables")
	flag.BoolVar(&ppsKernel, "ppskernel", false, "Discipline the clock with PPS instead of the reference")
	flag.StringVar(&cfg.Reference, "reference", daemon.ReferenceSystem, "Time reference to discipline the timecounter against. Empty means free running")
	flag.StringVar(&cfg.ReferenceMode, "mode", timecounter.ModeCapture.String(), "How reference samples are matched with local time: capture, current, average, exact-second")
	flag.BoolVar(&cfg.SeedFrequency, "seedfreq", true, "Start with the frequency correction of CLOCK_REALTIME")
	flag.IntVar(&cfg.TimeConstant, "tc", cfg.TimeConstant, "PLL time constant")
	flag.DurationVar(&cfg.StepThreshold, "step", 0, "Step the clock when offset is above this value. 0 means never")
	flag.IntVar(&monitoringPort, "monitoringport", cfg.MonitoringPort, "Port to run monitoring and control server on")
	flag.IntVar(&cfg.SampleRingSize, "buffer", daemon.MathDefaultHistory, "Size of ring buffers, must be at least size of largest num of samples used in bound and drift formulas")
	flag.StringVar(&cfg.Math.Bound, "bound", daemon.MathDefaultBound, "Math expression for error bound")
	flag.StringVar(&cfg.Math.Drift, "drift", daemon.MathDefaultDrift, "Math expression for drift PPB")
	flag.DurationVar(&cfg.Interval, "i", time.Second, "Interval at which we sample the reference and update stats")
	flag.StringVar(&cfg.LeapFile, "leapfile", leapsectz.DefaultFile, "tzfile to read leap seconds from")
	flag.BoolVar(&noLeap, "noleap", false, "Ignore leap seconds")

	flag.StringVar(&cfgPath, "cfg", "", "Path to config")
	flag.BoolVar(&csvLog, "csvlog", false, "Log all the metrics as CSV to log")
	flag.StringVar(&csvPath, "csvpath", "", "write CSV log into this file")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")

	flag.Parse()

	log.SetReportCaller(true)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if csvPath != "" && !csvLog {
		log.Fatalf("'csvpath' flag requires 'csvlog' flag")
	}
	cfg.MonitoringPort = monitoringPort
	cc := daemon.CounterConfig{Name: counterType, Type: counterType, Device: counterDevice, Quality: 1000}
	if counterType == daemon.CounterPHC {
		// named after the device
		cc.Name = ""
		if ppsChannel >= 0 {
			cc.PPS = true
			cc.PPSChannel = uint32(ppsChannel)
			cc.PPSKernel = ppsKernel
		}
	}
	if cc.PPSKernel {
		cfg.Reference = ""
	}
	cfg.Counters = []daemon.CounterConfig{cc}
	if noLeap {
		cfg.LeapFile = ""
	}
	if cfgPath != "" {
		log.Warningf("using config from %s, flag values are ignored", cfgPath)
		cfg, err = daemon.ReadConfig(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.EvalAndValidate(); err != nil {
		log.Fatal(err)
	}
	log.Debugf("Config: %+v", *cfg)

	// set up sample logging
	w := log.StandardLogger().Writer()
	defer w.Close()
	var l daemon.Logger = daemon.NewDummyLogger(w)
	if csvLog {
		csvW := io.Writer(w)
		// set up logging of CSV samples to file
		if csvPath != "" {
			f, err := os.Create(csvPath)
			if err != nil {
				log.Fatal(err)
			}
			defer f.Close()
			// write both to stderr and file
			csvW = io.MultiWriter(w, f)
		}
		l = daemon.NewCSVLogger(csvW)
	}
	s, err := daemon.New(cfg, daemon.NewStats(), l)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := s.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
