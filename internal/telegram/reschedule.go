package telegram

import (
	"regexp"
	"strings"
	"time"
)

// scheduleTimeLayout is the timestamp format rendered in the status message
// and accepted back in reschedule requests.
const scheduleTimeLayout = "2006-01-02 15:04:05"

// rescheduleLineRE matches a queue line copied out of the status message,
// e.g. "vahj5AN8aek: scheduled for 2026-03-01 18:30:00".
var rescheduleLineRE = regexp.MustCompile(`^([A-Za-z0-9_-]+):\s+scheduled for\s+(.+)$`)

// RescheduleRequest is a parsed manual reschedule line.
type RescheduleRequest struct {
	PostID  string
	NewTime time.Time
}

// ParseReschedule parses a reschedule line. Users copy a queue line from the
// status message and replace the timestamp with the desired one. The
// timestamp is interpreted in UTC; ok is false when the text is not a
// reschedule line at all.
func ParseReschedule(text string) (*RescheduleRequest, bool) {
	m := rescheduleLineRE.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, false
	}
	ts, err := time.ParseInLocation(scheduleTimeLayout, strings.TrimSpace(m[2]), time.UTC)
	if err != nil {
		return nil, false
	}
	return &RescheduleRequest{PostID: m[1], NewTime: ts}, true
}
