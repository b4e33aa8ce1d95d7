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

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM is what we use to convert PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is used when the kernel doesn't report tolerance, same as linuxptp
const DefaultMaxFreqPPB = 500000.0

// FDToClockID turns file descriptor of an open clock device (like /dev/ptp0) into dynamic clock id
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | 3)
}

// Nanotime reads the clock as nanoseconds
func Nanotime(clockid int32) (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockid, &ts); err != nil {
		return 0, fmt.Errorf("failed clock_gettime on clock %d: %w", clockid, err)
	}
	return uint64(ts.Nano()), nil
}

// FrequencyPPB reads current clock frequency correction in PPB
func FrequencyPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	// man(2) clock_adjtime
	freqPPB = float64(tx.Freq) / PPBToTimexPPM
	return freqPPB, state, err
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	if err != nil {
		return 0.0, state, err
	}
	freqPPB = float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = DefaultMaxFreqPPB
	}
	return freqPPB, state, nil
}
