package scheduler

import (
	"testing"
	"time"
)

// Jan 1 1970 00:00:00 UTC is a Thursday.
var thursday0000 = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

func nextOrFatal(t *testing.T, expr string, last time.Time) time.Time {
	t.Helper()
	event, err := ParseCalendarEvent(expr)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	next, ok := ComputeNextEvent(event, last, time.UTC)
	if !ok {
		t.Fatalf("expected %q to have a next occurrence after %v", expr, last)
	}
	return next
}

func assertNever(t *testing.T, expr string, last time.Time) {
	t.Helper()
	event, err := ParseCalendarEvent(expr)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	if _, ok := ComputeNextEvent(event, last, time.UTC); ok {
		t.Fatalf("expected %q to never occur from %v", expr, last)
	}
}

func TestMonAt0250FromThursday(t *testing.T) {
	got := nextOrFatal(t, "mon 2:50", thursday0000)
	want := time.Date(1970, 1, 5, 2, 50, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExactDateFromEpoch(t *testing.T) {
	got := nextOrFatal(t, "2020-07-31", time.Unix(0, 0).UTC())
	want := time.Date(2020, 7, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExactDateTime(t *testing.T) {
	got := nextOrFatal(t, "2020-12-31 23:00", time.Unix(0, 0).UTC())
	want := time.Date(2020, 12, 31, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLeapDayRecurs(t *testing.T) {
	got := nextOrFatal(t, "02-29", time.Unix(0, 0).UTC())
	want := time.Date(1972, 2, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMonthlyFromEpoch(t *testing.T) {
	got := nextOrFatal(t, "monthly", time.Unix(0, 0).UTC())
	want := time.Date(1970, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestQuarterlyFromEpoch(t *testing.T) {
	got := nextOrFatal(t, "quarterly", time.Unix(0, 0).UTC())
	want := time.Date(1970, 4, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSemiannuallyFromEpoch(t *testing.T) {
	got := nextOrFatal(t, "semiannually", time.Unix(0, 0).UTC())
	want := time.Date(1970, 7, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestYearlyFromEpoch(t *testing.T) {
	got := nextOrFatal(t, "yearly", time.Unix(0, 0).UTC())
	want := time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWeeklyIsMonday(t *testing.T) {
	got := nextOrFatal(t, "weekly", thursday0000)
	want := time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHourlyAdvancesByHour(t *testing.T) {
	got := nextOrFatal(t, "hourly", time.Date(1970, 1, 1, 5, 30, 10, 0, time.UTC))
	want := time.Date(1970, 1, 1, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestInvalidYearNeverOccurs(t *testing.T) {
	assertNever(t, "2021-02-29", time.Unix(0, 0).UTC())
}

func TestInvalidDayOfMonthNeverOccurs(t *testing.T) {
	assertNever(t, "02-30", time.Unix(0, 0).UTC())
}

func TestWeekdayRangeParses(t *testing.T) {
	event, err := ParseCalendarEvent("mon..fri 9:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Days != Monday|Tuesday|Wednesday|Thursday|Friday {
		t.Fatalf("unexpected weekday mask: %v", event.Days)
	}
}

func TestFindNextPicksSmallestCandidate(t *testing.T) {
	list := []DateTimeValue{
		{kind: kindSingle, start: 10},
		{kind: kindRange, start: 20, end: 30},
		{kind: kindRepeated, start: 0, repeat: 5},
	}
	next, ok := FindNext(list, 3)
	if !ok || next != 5 {
		t.Fatalf("got (%d, %v), want (5, true)", next, ok)
	}
}
