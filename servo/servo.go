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

/*
Package servo implements a PI clock servo: it turns a series of measured
offsets from a reference into frequency corrections, and tells the caller
when the offset is too large to slew and the clock has to be stepped.
*/
package servo

// Servo structure has values common for any type of servo
type Servo struct {
	maxFreq            float64
	StepThreshold      int64
	FirstStepThreshold int64
	FirstUpdate        bool
}

// State provides the result of servo calculation
type State uint8

// All the states of servo
const (
	StateInit State = iota
	StateJump
	StateLocked
	StateFilter
	StateHoldover
)

var stateToString = map[State]string{
	StateInit:     "INIT",
	StateJump:     "JUMP",
	StateLocked:   "LOCKED",
	StateFilter:   "FILTER",
	StateHoldover: "HOLDOVER",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return "UNSUPPORTED"
}

// DefaultServoConfig generates default servo struct
func DefaultServoConfig() Servo {
	return Servo{
		maxFreq:            500000,
		StepThreshold:      0,
		FirstStepThreshold: 20000,
		FirstUpdate:        false,
	}
}

// UnsetFirstUpdate disables the one-off step allowed on the first update
func (s *Servo) UnsetFirstUpdate() {
	s.FirstUpdate = false
}
