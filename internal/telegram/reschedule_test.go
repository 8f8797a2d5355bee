package telegram

import (
	"testing"
	"time"
)

func TestParseReschedule_Valid(t *testing.T) {
	req, ok := ParseReschedule("vahj5AN8aek: scheduled for 2026-03-01 18:30:00")
	if !ok {
		t.Fatalf("expected valid reschedule line")
	}
	if req.PostID != "vahj5AN8aek" {
		t.Fatalf("unexpected post id: %q", req.PostID)
	}
	want := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	if !req.NewTime.Equal(want) {
		t.Fatalf("unexpected time: %v", req.NewTime)
	}

	// Surrounding whitespace is tolerated.
	if _, ok := ParseReschedule("  vahj5AN8aek: scheduled for 2026-03-01 18:30:00  "); !ok {
		t.Fatalf("expected trimmed line to parse")
	}
}

func TestParseReschedule_Invalid(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"https://www.instagram.com/p/vahj5AN8aek/",
		"vahj5AN8aek scheduled for 2026-03-01 18:30:00",    // missing colon
		"vahj5AN8aek: scheduled for tomorrow",              // bad timestamp
		"vahj5AN8aek: scheduled for 2026-03-01",            // date only
		"vahj5AN8aek: processed",                           // history line
	}
	for _, c := range cases {
		if _, ok := ParseReschedule(c); ok {
			t.Fatalf("ParseReschedule(%q): expected no match", c)
		}
	}
}

func TestParseReschedule_RoundTripsStatusLine(t *testing.T) {
	ts := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	line := "vahj5AN8aek: scheduled for " + ts.Format(scheduleTimeLayout)
	req, ok := ParseReschedule(line)
	if !ok {
		t.Fatalf("rendered queue line must parse back")
	}
	if !req.NewTime.Equal(ts) {
		t.Fatalf("round trip lost the timestamp: %v", req.NewTime)
	}
}
