package sip2

import "errors"

var (
	// Codec errors
	ErrInvalidSequence  = errors.New("sequence number outside 0-9")
	ErrMalformedTrailer = errors.New("frame has no AZ checksum trailer")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")

	// Parse errors
	ErrUnexpectedResponseCode = errors.New("unexpected response code")

	// Client errors
	ErrNotConnected     = errors.New("client is not connected")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrSequenceInUse    = errors.New("sequence number already pending")
	ErrClientAtCapacity = errors.New("all sequence numbers pending")
	ErrClientClosed     = errors.New("client is closed")
)
