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
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	sd "github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/facebook/timecounter/bintime"
	"github.com/facebook/timecounter/clock"
	"github.com/facebook/timecounter/counter"
	"github.com/facebook/timecounter/kernntp"
	"github.com/facebook/timecounter/leapsectz"
	"github.com/facebook/timecounter/pps"
	"github.com/facebook/timecounter/timecounter"
)

var errNotEnoughData = fmt.Errorf("not enough data points")

// messages for systemd
const (
	sdReady    = "READY=1"
	sdStopping = "STOPPING=1"
	sdWatchdog = "WATCHDOG=1"
)

// aggregateWindow is what the .60 aggregates are computed over
const aggregateWindow = time.Minute

const (
	// ppsQueue is how many latched pulses wait for timestamping
	ppsQueue = 16
	// ppsPoll is how often latches are polled when they aren't the active counter
	ppsPoll = 100 * time.Millisecond
)

// ppsLatcher is a counter which can latch pulses, like counter.PHC
type ppsLatcher interface {
	pps.Latch
	EnablePPS(channel uint32, events chan<- uint64) error
}

// ppsInput is a pulse source fed by a latching counter
type ppsInput struct {
	src   *pps.Source
	latch pps.Latch
	ticks chan uint64
}

// readErrorer is implemented by counters which can fail to read
type readErrorer interface {
	ReadErrors() uint64
}

// Daemon runs the timecounter:
// it calls windup Hz times a second,
// samples the clock against the reference and feeds the discipline,
// arms leap seconds,
// and does the math for stats.
type Daemon struct {
	cfg   *Config
	tk    *timecounter.Timekeeper
	ntp   *kernntp.Discipline
	mode  timecounter.Mode
	leaps leapsectz.Table
	state *daemonState
	stats StatsServer
	l     Logger
	sys   *SysStats
	warn  *rate.Limiter

	// counters we registered, in order
	counters []counter.Counter
	// manual counters advanced by the tick loop in simulation
	manual []*counter.Manual
	pps    []*ppsInput
	// read errors seen so far per counter
	readErrors map[string]uint64
	// function to get reference time
	reference func() (time.Time, error)
}

// minRingSize calculate how many samples we need to have in a ring buffer
// in order to provide aggregate values over 1 minute
func minRingSize(configuredRingSize int, interval time.Duration) int {
	size := configuredRingSize
	if time.Duration(size)*interval < aggregateWindow {
		size = int(math.Ceil(float64(aggregateWindow) / float64(interval)))
	}
	return size
}

func realtime() (time.Time, error) {
	return time.Now(), nil
}

// New creates the timecounter, its discipline and registers configured counters
func New(cfg *Config, stats StatsServer, l Logger) (*Daemon, error) {
	tk, err := timecounter.New(cfg.timecounterConfig())
	if err != nil {
		return nil, err
	}
	mode, err := timecounter.ModeFromString(cfg.ReferenceMode)
	if err != nil {
		return nil, err
	}
	freqPPB := 0.0
	if cfg.SeedFrequency {
		freqPPB, _, err = clock.FrequencyPPB(unix.CLOCK_REALTIME)
		if err != nil {
			return nil, fmt.Errorf("reading CLOCK_REALTIME frequency: %w", err)
		}
		log.Infof("starting with frequency %.3f PPB", freqPPB)
	}
	d := &Daemon{
		cfg:        cfg,
		tk:         tk,
		ntp:        kernntp.New(cfg.disciplineConfig(), freqPPB),
		mode:       mode,
		state:      newDaemonState(minRingSize(cfg.SampleRingSize, cfg.Interval)),
		stats:      stats,
		l:          l,
		sys:        &SysStats{},
		warn:       rate.NewLimiter(rate.Every(time.Minute), 1),
		reference:  realtime,
		readErrors: map[string]uint64{},
	}
	tk.SetNTP(d.ntp)
	if cfg.LeapFile != "" {
		if d.leaps, err = leapsectz.Load(cfg.LeapFile); err != nil {
			return nil, err
		}
		log.Infof("loaded %d leap seconds from %s", len(d.leaps), cfg.LeapFile)
	}
	for _, cc := range cfg.Counters {
		c, err := cc.Open()
		if err != nil {
			d.Close(context.Background())
			return nil, fmt.Errorf("opening %s counter %q: %w", cc.Type, cc.Name, err)
		}
		err = tk.Register(c)
		if errors.Is(err, timecounter.ErrInsufficientHz) {
			log.Warningf("counter %q won't be selected automatically: %v", c.Name(), err)
		} else if err != nil {
			if cl, ok := c.(io.Closer); ok {
				cl.Close()
			}
			d.Close(context.Background())
			return nil, fmt.Errorf("registering %q: %w", c.Name(), err)
		}
		d.counters = append(d.counters, c)
		if m, ok := c.(*counter.Manual); ok {
			d.manual = append(d.manual, m)
		}
		if cc.PPS {
			if err := d.attachPPS(c, cc); err != nil {
				d.Close(context.Background())
				return nil, err
			}
		}
	}
	if cfg.Select != "" {
		if err := tk.Select(cfg.Select); err != nil {
			d.Close(context.Background())
			return nil, fmt.Errorf("selecting %q: %w", cfg.Select, err)
		}
	}
	tk.SetClock(time.Now())

	// calculated values
	d.stats.SetCounter("offset_ns", 0)
	d.stats.SetCounter("freq_ppb", 0)
	d.stats.SetCounter("adjtime_ns", 0)
	d.stats.SetCounter("bound_ns", 0)
	d.stats.SetCounter("drift_ppb", 0)
	// error counters
	d.stats.SetCounter("reference_error", 0)
	d.stats.SetCounter("reference_stale", 0)
	d.stats.SetCounter("processing_error", 0)
	// aggregated values
	d.stats.SetCounter("offset_ns.60.abs_max", 0)
	d.stats.SetCounter("freq_ppb.60.abs_max", 0)
	return d, nil
}

// attachPPS enables pulse timestamping on the counter
func (d *Daemon) attachPPS(c counter.Counter, cc CounterConfig) error {
	l, ok := c.(ppsLatcher)
	if !ok {
		return fmt.Errorf("counter %q can't timestamp pulses", c.Name())
	}
	src := pps.New(c.Name(), d.tk, pps.CaptureAssert|pps.OffsetAssert)
	params := pps.Params{Mode: pps.CaptureAssert, AssertOffset: cc.PPSOffset}
	if cc.PPSOffset != 0 {
		params.Mode |= pps.OffsetAssert
	}
	if err := src.SetParams(params); err != nil {
		return err
	}
	if cc.PPSKernel {
		if err := src.BindKernel(pps.EdgeAssert); err != nil {
			return err
		}
	}
	ticks := make(chan uint64, ppsQueue)
	if err := l.EnablePPS(cc.PPSChannel, ticks); err != nil {
		return err
	}
	d.pps = append(d.pps, &ppsInput{src: src, latch: l, ticks: ticks})
	return nil
}

// PPS returns pulse sources attached to counters
func (d *Daemon) PPS() []*pps.Source {
	res := make([]*pps.Source, 0, len(d.pps))
	for _, p := range d.pps {
		res = append(res, p.src)
	}
	return res
}

// Timekeeper returns the timecounter driven by the daemon
func (d *Daemon) Timekeeper() *timecounter.Timekeeper {
	return d.tk
}

// Discipline returns the NTP discipline of the timecounter
func (d *Daemon) Discipline() *kernntp.Discipline {
	return d.ntp
}

// List implements Controller
func (d *Daemon) List() []timecounter.Info {
	return d.tk.List()
}

// Select implements Controller
func (d *Daemon) Select(name string) error {
	return d.tk.Select(name)
}

// MarkBad implements Controller
func (d *Daemon) MarkBad(name string) error {
	return d.tk.MarkBad(name)
}

// Status implements Controller
func (d *Daemon) Status() Status {
	return Status{
		Now:         d.tk.Now(),
		Uptime:      d.tk.Uptime(),
		Timecounter: d.tk.Stats(),
		Discipline:  d.ntp.Stats(),
	}
}

// armLeap announces the leap second due at the end of the current UTC day to the discipline.
// It's done once per day.
func (d *Daemon) armLeap(now time.Time) {
	if len(d.leaps) == 0 || !d.state.armLeap(now) {
		return
	}
	d.ntp.SetTAI(d.leaps.TAI(now))
	leap := kernntp.LeapNone
	if l, insert, ok := d.leaps.Pending(now); ok {
		leap = kernntp.LeapDelete
		if insert {
			leap = kernntp.LeapInsert
		}
		log.Infof("leap second (%s) scheduled at %s", leap, l.Time().UTC())
	}
	d.ntp.SetLeap(leap)
}

// sample measures the timecounter against the reference and feeds the discipline
func (d *Daemon) sample() (*Sample, error) {
	c := d.tk.Capture()
	local, ok := d.tk.CaptureTime(c)
	if !ok {
		d.stats.UpdateCounterBy("reference_stale", 1)
		return nil, timecounter.ErrStaleCapture
	}
	ref, err := d.reference()
	if err != nil {
		d.stats.UpdateCounterBy("reference_error", 1)
		return nil, fmt.Errorf("getting reference time: %w", err)
	}
	refBin := bintime.FromTime(ref)
	s := &Sample{
		Time:     local.Time(),
		OffsetNS: float64(local.Sub(refBin).Duration().Nanoseconds()),
	}
	if d.cfg.Reference == ReferenceSystem {
		if err := d.tk.FeedReference(c, refBin, d.mode); err != nil {
			if errors.Is(err, timecounter.ErrStaleCapture) {
				d.stats.UpdateCounterBy("reference_stale", 1)
			}
			return nil, fmt.Errorf("feeding reference: %w", err)
		}
	}
	ns := d.ntp.Stats()
	s.FrequencyPPB = ns.FrequencyPPB
	s.AdjtimeNS = float64(ns.Adjtime.Nanoseconds())
	return s, nil
}

func (d *Daemon) calc(sample *Sample) error {
	lastN := d.state.takeSamples(d.cfg.SampleRingSize)
	if len(lastN) != d.cfg.SampleRingSize {
		return fmt.Errorf("%w: want %d, got %d", errNotEnoughData, d.cfg.SampleRingSize, len(lastN))
	}
	params := prepareMathParameters(lastN)
	logSample := &LogSample{
		OffsetNS:           sample.OffsetNS,
		OffsetMeanNS:       mean(params["offset"]),
		OffsetStddevNS:     stddev(params["offset"]),
		FrequencyPPB:       sample.FrequencyPPB,
		FrequencyMeanPPB:   mean(params["freq"]),
		FrequencyStddevPPB: stddev(params["freq"]),
		AdjtimeNS:          sample.AdjtimeNS,
	}
	bound, err := evaluate(d.cfg.Math.boundExpr, params)
	if err != nil {
		return fmt.Errorf("calculating bound: %w", err)
	}
	logSample.BoundNS = bound
	drift, err := evaluate(d.cfg.Math.driftExpr, params)
	if err != nil {
		return fmt.Errorf("calculating drift: %w", err)
	}
	logSample.DriftPPB = drift
	if err := d.l.Log(logSample); err != nil {
		log.Errorf("failed to log sample: %v", err)
	}
	d.stats.SetCounter("bound_ns", int64(bound))
	d.stats.SetCounter("drift_ppb", int64(drift))
	return nil
}

func (d *Daemon) updateStats() {
	ts := d.tk.Stats()
	d.stats.SetCounter("timecounter.windups", int64(ts.Windups))
	d.stats.SetCounter("timecounter.generation", int64(ts.Generation))
	d.stats.SetCounter("timecounter.removals", int64(ts.Removals))
	d.stats.SetCounter("timecounter.counters", int64(ts.Counters))
	d.stats.SetCounter("timecounter.adjustment", ts.Adjustment)
	ns := d.ntp.Stats()
	d.stats.SetCounter("discipline.state", int64(ns.State))
	d.stats.SetCounter("discipline.leap", int64(ns.Leap))
	d.stats.SetCounter("discipline.tai", int64(ns.TAI))
	d.stats.SetCounter("discipline.time_constant", int64(ns.TimeConstant))
	for _, p := range d.pps {
		info := p.src.Info()
		j := p.src.Jitter()
		d.stats.SetCounter(fmt.Sprintf("pps.%s.assert_sequence", p.src.Name()), int64(info.AssertSequence))
		d.stats.SetCounter(fmt.Sprintf("pps.%s.interval_mean_ns", p.src.Name()), j.Mean.Nanoseconds())
		d.stats.SetCounter(fmt.Sprintf("pps.%s.jitter_ns", p.src.Name()), j.Stddev.Nanoseconds())
	}
	for _, c := range d.counters {
		re, ok := c.(readErrorer)
		if !ok {
			continue
		}
		n := re.ReadErrors()
		if n > d.readErrors[c.Name()] && d.warn.Allow() {
			log.Warningf("counter %q failed %d reads", c.Name(), n-d.readErrors[c.Name()])
		}
		d.readErrors[c.Name()] = n
		d.stats.SetCounter(fmt.Sprintf("counter.%s.read_errors", c.Name()), int64(n))
	}
}

func (d *Daemon) doWork() error {
	d.armLeap(d.tk.Now())
	sample, err := d.sample()
	if err != nil {
		return err
	}
	d.stats.SetCounter("offset_ns", int64(sample.OffsetNS))
	d.stats.SetCounter("freq_ppb", int64(sample.FrequencyPPB))
	d.stats.SetCounter("adjtime_ns", int64(sample.AdjtimeNS))
	d.state.pushSample(sample)
	d.updateStats()

	if err := d.calc(sample); err != nil {
		if errors.Is(err, errNotEnoughData) {
			log.Debug(err)
			return nil
		}
		return err
	}
	// aggregated stats over 1 minute
	maxS := d.state.aggregateSamplesMax(minRingSize(1, d.cfg.Interval))
	d.stats.SetCounter("offset_ns.60.abs_max", int64(maxS.OffsetNS))
	d.stats.SetCounter("freq_ppb.60.abs_max", int64(maxS.FrequencyPPB))
	return nil
}

func (d *Daemon) collectSysStats() {
	sys, err := d.sys.CollectRuntimeStats(d.cfg.Interval)
	if err != nil {
		log.Debugf("collecting runtime stats: %v", err)
		return
	}
	for k, v := range sys {
		d.stats.SetCounter(k, int64(v))
	}
}

// runTicker calls windup Hz times a second
func (d *Daemon) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(d.cfg.Hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick winds up the timecounter, moving simulated counters by one tick worth of time first
func (d *Daemon) tick() {
	for _, m := range d.manual {
		m.Advance(m.Frequency() / uint64(d.cfg.Hz))
	}
	d.tk.Tick()
}

func (d *Daemon) runSampler(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := d.doWork(); err != nil {
			d.stats.UpdateCounterBy("processing_error", 1)
			if d.warn.Allow() {
				log.Warningf("processing sample: %v", err)
			}
		}
		d.collectSysStats()
		if _, err := sd.SdNotify(false, sdWatchdog); err != nil && d.warn.Allow() {
			log.Warningf("notifying systemd: %v", err)
		}
	}
}

// Run a daemon until ctx is cancelled. Counters are unregistered on exit.
func (d *Daemon) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return d.runTicker(ctx) })
	eg.Go(func() error { return d.runSampler(ctx) })
	for _, p := range d.pps {
		eg.Go(func() error { return p.src.Run(ctx, p.latch, p.ticks, ppsPoll) })
	}
	if d.cfg.MonitoringPort > 0 {
		srv := NewServer(d.stats, d)
		eg.Go(func() error { return srv.Start(ctx, d.cfg.MonitoringPort) })
	}
	if sent, err := sd.SdNotify(false, sdReady); err != nil {
		log.Warningf("notifying systemd: %v", err)
	} else if sent {
		log.Debug("notified systemd we are ready")
	}
	err := eg.Wait()
	if _, nerr := sd.SdNotify(false, sdStopping); nerr != nil {
		log.Debugf("notifying systemd: %v", nerr)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := d.Close(closeCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close unregisters all counters the daemon registered, newest first
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.counters) - 1; i >= 0; i-- {
		name := d.counters[i].Name()
		if err := d.tk.Unregister(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("unregistering %q: %w", name, err))
		}
	}
	d.counters = nil
	return errors.Join(errs...)
}
