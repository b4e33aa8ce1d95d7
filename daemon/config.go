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
	"fmt"
	"math"
	"os"
	"time"

	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/timecounter/counter"
	"github.com/facebook/timecounter/kernntp"
	"github.com/facebook/timecounter/timecounter"
)

// ReferenceSystem disciplines the timecounter against CLOCK_REALTIME
const ReferenceSystem = "system"

// counter types
const (
	CounterMonotonic    = "monotonic"
	CounterMonotonicRaw = "monotonic_raw"
	CounterPHC          = "phc"
	CounterManual       = "manual"
)

// CounterConfig describes a counter to register on start
type CounterConfig struct {
	Name       string // counter name, phc counters default to "phc:" and the device
	Type       string // one of monotonic, monotonic_raw, phc, manual
	Device     string // phc device, like /dev/ptp0
	Iface      string // network interface to take phc device from if Device is not set
	Quality    int
	Frequency  uint64        // manual counters only
	Mask       uint64        // monotonic and manual counters, 0 means 64 bit wide
	PPS        bool          // phc only: timestamp pulses on an external timestamp channel
	PPSChannel uint32        // external timestamp channel of the phc
	PPSOffset  time.Duration // added to every pulse timestamp, to compensate for cable delay
	PPSKernel  bool          // discipline the clock with the pulses
}

// Config represents configuration we expect to read from file
type Config struct {
	Hz                   int             // how many times per second windup runs
	RingSize             int             // number of timehands
	LargeStep            int64           // seconds, see timecounter.Config
	RemovalRetryInterval time.Duration   // how often to check for lingering readers when removing a counter
	Counters             []CounterConfig // counters to register
	Select               string          // counter to pin, empty means pick by quality
	Interval             time.Duration   // how often we sample the clock and update stats
	SampleRingSize       int             // must be at least the size of N samples we use in expressions
	Math                 Math            // configuration for calculation we'll be doing
	Reference            string          // time reference, "system" or empty for free running
	ReferenceMode        string          // how reference samples are matched with local time
	TimeConstant         int             // PLL time constant
	StepThreshold        time.Duration   // step the clock if offset is above, 0 never steps
	FirstStepThreshold   time.Duration   // step the clock on first sample if offset is above
	Simulation           bool            // allow manual counters, the tick loop advances them at their frequency
	Filter               bool            // enable servo spike filter
	SeedFrequency        bool            // start with the frequency correction of CLOCK_REALTIME
	LeapFile             string          // tzfile with leap seconds, empty disables leap second handling
	MonitoringPort       int             // port for stats and control, 0 disables the server
}

// DefaultConfig returns Config with default values
func DefaultConfig() *Config {
	tc := timecounter.DefaultConfig()
	ntp := kernntp.DefaultConfig()
	return &Config{
		Hz:                   tc.Hz,
		RingSize:             tc.RingSize,
		LargeStep:            tc.LargeStep,
		RemovalRetryInterval: tc.RemovalRetryInterval,
		Counters: []CounterConfig{
			{Name: CounterMonotonicRaw, Type: CounterMonotonicRaw, Quality: 1000},
		},
		Interval:           time.Second,
		SampleRingSize:     MathDefaultHistory,
		Math:               Math{Bound: MathDefaultBound, Drift: MathDefaultDrift},
		ReferenceMode:      timecounter.ModeCapture.String(),
		TimeConstant:       ntp.TimeConstant,
		FirstStepThreshold: ntp.FirstStepThreshold,
		MonitoringPort:     21040,
	}
}

// EvalAndValidate makes sure config is valid and evaluates expressions for further use.
func (c *Config) EvalAndValidate() error {
	tc := c.timecounterConfig()
	if err := tc.Validate(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("bad config: 'interval' must be positive")
	}
	if c.Interval > time.Minute {
		return fmt.Errorf("bad config: 'interval' is over a minute")
	}
	if c.SampleRingSize <= 1 {
		return fmt.Errorf("bad config: 'sampleringsize' must be >1")
	}
	if c.Reference != "" && c.Reference != ReferenceSystem {
		return fmt.Errorf("bad config: unsupported 'reference' %q", c.Reference)
	}
	if _, err := timecounter.ModeFromString(c.ReferenceMode); err != nil {
		return fmt.Errorf("bad config: 'referencemode': %w", err)
	}
	if c.TimeConstant < 0 || c.TimeConstant > kernntp.MaxTimeConstant {
		return fmt.Errorf("bad config: 'timeconstant' must be within [0, %d]", kernntp.MaxTimeConstant)
	}
	names := map[string]bool{}
	kernel := 0
	for i, cc := range c.Counters {
		if err := cc.validate(); err != nil {
			return fmt.Errorf("bad config: counter #%d: %w", i, err)
		}
		if cc.Type == CounterManual && !c.Simulation {
			return fmt.Errorf("bad config: counter #%d: manual counters need 'simulation'", i)
		}
		if cc.PPSKernel {
			kernel++
		}
		// unnamed phc counters are named after the device, which is only known once opened
		if cc.Name == "" {
			continue
		}
		if names[cc.Name] {
			return fmt.Errorf("bad config: duplicate counter %q", cc.Name)
		}
		names[cc.Name] = true
	}
	if kernel > 1 {
		return fmt.Errorf("bad config: only one counter can set 'ppskernel'")
	}
	if kernel > 0 && c.Reference != "" {
		return fmt.Errorf("bad config: 'ppskernel' and 'reference' both discipline the clock")
	}
	if err := c.Math.Prepare(); err != nil {
		return err
	}
	return nil
}

func (c *Config) timecounterConfig() timecounter.Config {
	return timecounter.Config{
		RingSize:             c.RingSize,
		Hz:                   c.Hz,
		LargeStep:            c.LargeStep,
		RemovalRetryInterval: c.RemovalRetryInterval,
	}
}

func (c *Config) disciplineConfig() kernntp.Config {
	return kernntp.Config{
		TimeConstant:       c.TimeConstant,
		SyncInterval:       c.Interval,
		StepThreshold:      c.StepThreshold,
		FirstStepThreshold: c.FirstStepThreshold,
		Filter:             c.Filter,
	}
}

func (cc *CounterConfig) validate() error {
	if cc.Type != CounterPHC && (cc.PPS || cc.PPSKernel) {
		return fmt.Errorf("%s counter can't timestamp pulses", cc.Type)
	}
	if cc.PPSKernel && !cc.PPS {
		return fmt.Errorf("'ppskernel' needs 'pps'")
	}
	switch cc.Type {
	case CounterMonotonic, CounterMonotonicRaw:
	case CounterPHC:
		if cc.Device == "" && cc.Iface == "" {
			return fmt.Errorf("phc counter needs 'device' or 'iface'")
		}
		return nil
	case CounterManual:
		if cc.Frequency == 0 {
			return fmt.Errorf("manual counter needs 'frequency'")
		}
	default:
		return fmt.Errorf("unsupported counter type %q", cc.Type)
	}
	if cc.Name == "" {
		return fmt.Errorf("%s counter needs 'name'", cc.Type)
	}
	return nil
}

func (cc *CounterConfig) mask() uint64 {
	if cc.Mask == 0 {
		return math.MaxUint64
	}
	return cc.Mask
}

// Open creates the counter described by cc
func (cc *CounterConfig) Open() (counter.Counter, error) {
	switch cc.Type {
	case CounterMonotonic:
		return counter.NewMonotonic(cc.Name, cc.mask(), cc.Quality), nil
	case CounterMonotonicRaw:
		return counter.NewPosix(cc.Name, unix.CLOCK_MONOTONIC_RAW, cc.Quality)
	case CounterPHC:
		if cc.Device != "" {
			return counter.NewPHC(cc.Name, cc.Device, cc.Quality)
		}
		return counter.NewPHCFromIface(cc.Name, cc.Iface, cc.Quality)
	case CounterManual:
		return counter.NewManual(cc.Name, cc.Frequency, cc.mask(), cc.Quality), nil
	}
	return nil, fmt.Errorf("unsupported counter type %q", cc.Type)
}

// ReadConfig reads config and unmarshals it from yaml into Config.
// Values missing in the file keep their defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := DefaultConfig()
	err = yaml.UnmarshalStrict(data, c)
	return c, err
}
