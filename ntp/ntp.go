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

// Package ntp converts between the library's wall-clock DateTime and
// the 64-bit fixed-point NTP timestamp format used on the wire.
package ntp

import (
	"fmt"
	"time"
)

// Epoch is the difference, in seconds, between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const Epoch = int64(2208988800)

// DateTime is a wall-clock timestamp relative to the Unix epoch, carried
// as separate seconds and nanoseconds and converted to and from the NTP
// wire format with integer arithmetic only. A round trip keeps the
// seconds exactly; the nanoseconds may come back up to 1ns lower,
// since both directions truncate the fraction.
type DateTime struct {
	Sec   uint32
	Nanos uint32
}

// Now returns the current wall-clock time as a DateTime.
func Now() DateTime {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into a DateTime.
func FromTime(t time.Time) DateTime {
	return DateTime{Sec: uint32(t.Unix()), Nanos: uint32(t.Nanosecond())} //#nosec G115
}

// Time converts a DateTime back into a time.Time (UTC).
func (d DateTime) Time() time.Time {
	return time.Unix(int64(d.Sec), int64(d.Nanos)).UTC()
}

// Sub returns the signed duration d - o.
func (d DateTime) Sub(o DateTime) time.Duration {
	return d.Time().Sub(o.Time())
}

// Add returns d shifted by duration dur.
func (d DateTime) Add(dur time.Duration) DateTime {
	return FromTime(d.Time().Add(dur))
}

// IsZero reports whether d is the zero DateTime.
func (d DateTime) IsZero() bool {
	return d.Sec == 0 && d.Nanos == 0
}

// String renders d as RFC3339Nano, matching the result surface's
// ISO-8601 serialization requirement (spec §3).
func (d DateTime) String() string {
	return d.Time().Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler using ISO-8601.
func (d DateTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// ToNTP converts a DateTime into the 32-bit seconds / 32-bit fraction
// NTP wire representation.
func ToNTP(d DateTime) (seconds, fraction uint32) {
	seconds = uint32(int64(d.Sec) + Epoch) //#nosec G115
	frac := (uint64(d.Nanos) << 32) / uint64(time.Second.Nanoseconds())
	return seconds, uint32(frac) //#nosec G115
}

// FromNTP converts an NTP seconds/fraction pair back into a DateTime.
func FromNTP(seconds, fraction uint32) DateTime {
	sec := int64(seconds) - Epoch
	nanos := (uint64(fraction) * uint64(time.Second.Nanoseconds())) >> 32
	return DateTime{Sec: uint32(sec), Nanos: uint32(nanos)} //#nosec G115
}
