package sip2

import (
	"fmt"
	"strings"
)

// Checksum computes the SIP2 frame checksum: the byte sum of data negated
// modulo 65536, rendered as four uppercase hex digits.
func Checksum(data string) string {
	sum := 0
	for i := 0; i < len(data); i++ {
		sum += int(data[i])
	}
	return fmt.Sprintf("%04X", (-sum)&0xFFFF)
}

// AppendTrailer attaches the sequence/checksum trailer to a frame body.
// The checksum covers body + "AY" + digit + "AZ". Frames always terminate
// with a carriage return on the wire.
func AppendTrailer(body string, seq int) (string, error) {
	if seq < 0 || seq > 9 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	prefix := body + "AY" + string(rune('0'+seq)) + "AZ"
	return prefix + Checksum(prefix) + "\r", nil
}

// VerifyTrailer checks the trailing AZ<hex4> checksum of a frame. A single
// trailing carriage return is tolerated. Returns false (with no error) when
// the recomputed checksum differs, and ErrMalformedTrailer when the frame
// does not end in an AZ trailer at all. Hex digits are compared
// case-insensitively since some ACS vendors emit lowercase.
func VerifyTrailer(frame string) (bool, error) {
	frame = strings.TrimSuffix(frame, "\r")
	// AZ + 4 hex digits
	if len(frame) < 6 {
		return false, ErrMalformedTrailer
	}
	azAt := len(frame) - 6
	if frame[azAt] != 'A' || frame[azAt+1] != 'Z' {
		return false, ErrMalformedTrailer
	}
	got := frame[azAt+2:]
	if !isHex4(got) {
		return false, ErrMalformedTrailer
	}
	want := Checksum(frame[:azAt+2])
	return strings.EqualFold(got, want), nil
}

func isHex4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'F':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
