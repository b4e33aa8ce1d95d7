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

package counter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/facebook/timecounter/clock"
)

// PHC reads a PTP hardware clock through its character device.
// Its ticks are PHC nanoseconds, so external timestamps latched by the device
// are ticks of the counter as well.
type PHC struct {
	name    string
	device  *os.File
	fd      int
	clockid int32
	quality int
	last    atomic.Uint64
	errors  atomic.Uint64

	ppsMu      sync.Mutex
	ppsEvents  chan<- uint64
	ppsChannel uint32
	ppsDropped atomic.Uint64
}

var exttsEventSize = int(unsafe.Sizeof(unix.PtpExttsEvent{}))

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// NewPHC opens PHC device and returns a counter reading it.
// Empty name means "phc:" followed by the device path.
// The device stays open until Close.
func NewPHC(name, device string, quality int) (*PHC, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "phc:" + device
	}
	fd := int(f.Fd())
	p := &PHC{
		name:    name,
		device:  f,
		fd:      fd,
		clockid: clock.FDToClockID(uintptr(fd)),
		quality: quality,
	}
	ns, err := clock.Nanotime(p.clockid)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", device, err)
	}
	p.last.Store(ns)
	return p, nil
}

// NewPHCFromIface opens PHC device of the network card iface
func NewPHCFromIface(name, iface string, quality int) (*PHC, error) {
	device, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, err
	}
	return NewPHC(name, device, quality)
}

// Name implements Counter
func (p *PHC) Name() string { return p.name }

// Read implements Counter. A failed read returns the previous value and is counted in ReadErrors.
func (p *PHC) Read() uint64 {
	ns, err := clock.Nanotime(p.clockid)
	if err != nil {
		p.errors.Add(1)
		return p.last.Load()
	}
	p.last.Store(ns)
	return ns
}

// ReadErrors returns how many reads of the device failed
func (p *PHC) ReadErrors() uint64 {
	return p.errors.Load()
}

// Mask implements Counter
func (p *PHC) Mask() uint64 { return math.MaxUint64 }

// Frequency implements Counter
func (p *PHC) Frequency() uint64 { return 1000000000 }

// Quality implements Counter
func (p *PHC) Quality() int { return p.quality }

// EnablePPS turns on rising edge timestamping of the external timestamp channel.
// Latched ticks are sent to events by PollPPS; they are dropped when events is full.
func (p *PHC) EnablePPS(channel uint32, events chan<- uint64) error {
	p.ppsMu.Lock()
	defer p.ppsMu.Unlock()
	if p.ppsEvents != nil {
		return fmt.Errorf("%s: pps already enabled on channel %d", p.name, p.ppsChannel)
	}
	req := &unix.PtpExttsRequest{Index: channel, Flags: unix.PTP_ENABLE_FEATURE | unix.PTP_RISING_EDGE}
	if err := unix.IoctlPtpExttsRequest(p.fd, req); err != nil {
		return fmt.Errorf("%s: enabling external timestamps on channel %d: %w", p.name, channel, err)
	}
	// events are drained from windup, it must not block there
	if err := unix.SetNonblock(p.fd, true); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.ppsChannel = channel
	p.ppsEvents = events
	log.Infof("%s: external timestamps enabled on channel %d", p.name, channel)
	return nil
}

// PPSDropped returns how many latched ticks didn't fit into the events channel
func (p *PHC) PPSDropped() uint64 {
	return p.ppsDropped.Load()
}

// PollPPS implements PPSPoller. It reads every pending external timestamp.
func (p *PHC) PollPPS() {
	if !p.ppsMu.TryLock() {
		// somebody else is draining
		return
	}
	defer p.ppsMu.Unlock()
	if p.ppsEvents == nil {
		return
	}
	buf := make([]byte, exttsEventSize)
	for {
		n, err := unix.Read(p.fd, buf)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				p.errors.Add(1)
			}
			return
		}
		if n < exttsEventSize {
			return
		}
		tick, ok := exttsTick(buf, p.ppsChannel)
		if !ok {
			continue
		}
		select {
		case p.ppsEvents <- tick:
		default:
			p.ppsDropped.Add(1)
		}
	}
}

// exttsTick decodes an external timestamp event of the channel into PHC nanoseconds
func exttsTick(buf []byte, channel uint32) (uint64, bool) {
	var ev unix.PtpExttsEvent
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &ev); err != nil {
		return 0, false
	}
	if ev.Index != channel || ev.T.Sec < 0 {
		return 0, false
	}
	return uint64(ev.T.Sec)*1000000000 + uint64(ev.T.Nsec), true
}

// Close releases the device
func (p *PHC) Close() error {
	p.ppsMu.Lock()
	if p.ppsEvents != nil {
		req := &unix.PtpExttsRequest{Index: p.ppsChannel}
		if err := unix.IoctlPtpExttsRequest(p.fd, req); err != nil {
			log.Warningf("%s: disabling external timestamps: %v", p.name, err)
		}
		p.ppsEvents = nil
	}
	p.ppsMu.Unlock()
	return p.device.Close()
}
