package sip2

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean value untouched", "P12345", "P12345"},
		{"pipe stripped", "Smith|Jones", "SmithJones"},
		{"carriage return stripped", "abc\rdef", "abcdef"},
		{"newline stripped", "abc\ndef", "abcdef"},
		{"tab and control bytes stripped", "a\tb\x00c\x1fd", "abcd"},
		{"spaces kept", "Jane Doe", "Jane Doe"},
		{"high bytes kept", "Pèlerin", "Pèlerin"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
		assert.NotContains(t, once, "|")
		assert.NotContains(t, once, "\r")
		assert.NotContains(t, once, "\n")
	})
}

func TestToASCII(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii passthrough", "checkout item-42", "checkout item-42"},
		{"diacritics stripped", "Pèlerin chéri", "Pelerin cheri"},
		{"nordic folds", "Ærø søren", "AEro soren"},
		{"german sharp s", "Straße", "Strasse"},
		{"smart quotes", "“quoted”", `"quoted"`},
		{"euro sign", "2€", "2EUR"},
		{"unmappable becomes question mark", "日本", "??"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToASCII(tc.in))
		})
	}
}

func TestToASCIIAlwaysSevenBit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		out := ToASCII(in)
		for i := 0; i < len(out); i++ {
			assert.Less(t, out[i], byte(0x80))
		}
	})
}

func TestDecodeLatin1(t *testing.T) {
	assert.Equal(t, "plain", decodeLatin1([]byte("plain")))
	// 0xE9 is é in ISO-8859-1.
	assert.Equal(t, "café", decodeLatin1([]byte{'c', 'a', 'f', 0xE9}))
	// Every byte maps to the code point of the same value, so nothing is lost.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	decoded := decodeLatin1(all)
	runes := []rune(decoded)
	assert.Len(t, runes, 256)
	for i, r := range runes {
		assert.Equal(t, rune(i), r)
	}
}

func TestTimestampLayout(t *testing.T) {
	at := time.Date(2024, 3, 7, 9, 5, 2, 0, time.UTC)
	got := Timestamp(at)
	assert.Equal(t, "20240307    090502", got)
	assert.Len(t, got, 18)
}

func TestTimestampConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2024, 3, 7, 10, 5, 2, 0, loc)
	assert.Equal(t, "20240307    090502", Timestamp(at))
}

func TestTimestampAlwaysEighteenBytes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sec := rapid.Int64Range(0, 4102444800).Draw(t, "sec") // through 2100
		got := Timestamp(time.Unix(sec, 0))
		assert.Len(t, got, 18)
		assert.Equal(t, "    ", got[8:12])
		assert.False(t, strings.ContainsAny(got[:8], " "), "date part %q", got[:8])
	})
}
