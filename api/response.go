package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sip2gate/sip2gate"
	"github.com/sip2gate/sip2gate/sip2"
)

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Fields    []string  `json:"fields,omitempty"`
}

func okResponse(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorResponse(msg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error","error":"response encoding failed"}`, http.StatusInternalServerError)
	}
}

// statusFor maps an operation error to its HTTP status. Branch lookup
// failures are 404, breaker gates 503 with Retry-After where known,
// timeouts 504 and protocol faults 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sip2gate.ErrUnknownBranch):
		return http.StatusNotFound
	case errors.Is(err, sip2gate.ErrCircuitOpen), errors.Is(err, sip2gate.ErrProbeInFlight):
		return http.StatusServiceUnavailable
	case errors.Is(err, sip2.ErrConnectTimeout), errors.Is(err, sip2.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sip2.ErrChecksumMismatch),
		errors.Is(err, sip2.ErrUnexpectedResponseCode),
		errors.Is(err, sip2gate.ErrLoginRejected),
		errors.Is(err, sip2.ErrSequenceInUse),
		errors.Is(err, sip2.ErrClientAtCapacity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeOpError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)

	var open *sip2gate.CircuitOpenError
	if errors.As(err, &open) {
		secs := int(time.Until(open.NextRetry).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("operation failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("operation rejected")
	}
	writeJSON(w, status, errorResponse(err.Error()))
}
