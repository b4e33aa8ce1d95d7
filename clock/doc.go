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
Package clock contains thin wrappers around clock_gettime(2) and clock_adjtime(2).

The timecounter uses them to read POSIX clocks and PTP hardware clocks as
counters, and to seed its frequency discipline from whatever correction the
system clock already carries:
  - Nanotime reads any clock id, including dynamic ones built with FDToClockID
  - FrequencyPPB reads the frequency correction of a clock in PPB
  - MaxFreqPPB reads the maximum frequency correction the clock tolerates
*/
package clock
