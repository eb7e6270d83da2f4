// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package dtime

import (
	"testing"
	"time"
)

func TestFromStdTruncatesToMicroseconds(t *testing.T) {
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	converted := FromStd(stamp)
	want := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	if got := converted.Std(); !got.Equal(want) {
		t.Fatalf("Std() = %v, want %v", got, want)
	}
}

func TestOrdering(t *testing.T) {
	base := FromStd(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	later := base.Add(time.Second)

	if !base.Before(later) {
		t.Error("base should be before later")
	}
	if !later.After(base) {
		t.Error("later should be after base")
	}
	if base.Before(base) {
		t.Error("Before must be strict")
	}
	if got := Max(base, later); got != later {
		t.Errorf("Max = %v, want %v", got, later)
	}
}

func TestMicrosecondIncrement(t *testing.T) {
	base := FromStd(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	next := base + Microsecond
	if got := next.Sub(base); got != time.Microsecond {
		t.Errorf("Sub = %v, want 1µs", got)
	}
}

func TestZero(t *testing.T) {
	var zero Time
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if FromStd(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).IsZero() {
		t.Error("real timestamp should not report IsZero")
	}
}

func TestStringRoundsTripThroughRFC3339(t *testing.T) {
	stamp := FromStd(time.Date(2026, 7, 2, 8, 30, 0, 123456000, time.UTC))
	parsed, err := time.Parse(time.RFC3339Nano, stamp.String())
	if err != nil {
		t.Fatalf("parsing %q: %v", stamp.String(), err)
	}
	if FromStd(parsed) != stamp {
		t.Errorf("round-trip = %v, want %v", FromStd(parsed), stamp)
	}
}
