package sip2

import "time"

// timestampLayout is the fixed 18-byte SIP2 date format: YYYYMMDD, four
// blanks in the zone field, HHMMSS.
const timestampLayout = "20060102    150405"

// Timestamp renders t as an 18-byte SIP2 transaction date in UTC.
// Response timestamps are never parsed back; they stay opaque strings so
// clock skew between gateway and ACS cannot affect request handling.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// now is swapped out by tests that need deterministic frames.
var now = time.Now
