//go:build unix

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

package bintime

import (
	"golang.org/x/sys/unix"
)

// FromTimespec converts unix.Timespec into BinTime
func FromTimespec(ts unix.Timespec) BinTime {
	sec, nsec := ts.Unix()
	for nsec < 0 {
		sec--
		nsec += nsPerSec
	}
	for nsec >= nsPerSec {
		sec++
		nsec -= nsPerSec
	}
	return BinTime{Sec: sec, Frac: nsToFrac(uint64(nsec))}
}

// Timespec converts BinTime into unix.Timespec, truncating to nanoseconds
func (b BinTime) Timespec() unix.Timespec {
	return unix.NsecToTimespec(b.Sec*nsPerSec + fracToNs(b.Frac))
}
