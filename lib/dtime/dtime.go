// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package dtime

import "time"

// Time is a UTC timestamp with microsecond precision, stored as
// microseconds since the Unix epoch. The zero value means "unset".
type Time int64

// Microsecond is the smallest representable increment. Retry
// protocols that need a strictly greater timestamp add exactly one of
// these.
const Microsecond Time = 1

// FromStd converts a time.Time, truncating to microsecond precision.
func FromStd(t time.Time) Time {
	return Time(t.UnixMicro())
}

// Std converts back to a time.Time in UTC.
func (t Time) Std() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// IsZero reports whether the timestamp is unset.
func (t Time) IsZero() bool { return t == 0 }

// Add returns the timestamp shifted by d (truncated to microseconds).
func (t Time) Add(d time.Duration) Time {
	return t + Time(d.Microseconds())
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration(t-u) * time.Microsecond
}

// Before reports whether t is strictly earlier than u.
func (t Time) Before(u Time) bool { return t < u }

// After reports whether t is strictly later than u.
func (t Time) After(u Time) bool { return t > u }

// Max returns the later of t and u.
func Max(t, u Time) Time {
	if t > u {
		return t
	}
	return u
}

// String formats the timestamp as RFC 3339 with microseconds.
func (t Time) String() string {
	return t.Std().Format("2006-01-02T15:04:05.000000Z07:00")
}
