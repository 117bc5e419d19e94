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
Package clock contains a wrapper around CLOCK_ADJTIME, CLOCK_GETTIME and CLOCK_SETTIME syscalls.

It allows interactions with supported clocks, such as system realtime clock or PHC:
reading and setting absolute time, stepping the clock by an offset,
slewing it by a phase offset, and adjusting its frequency.
*/
package clock
