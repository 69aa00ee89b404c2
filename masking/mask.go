// Package masking deterministically pseudonymizes patron and item
// identifiers before they leave the process through logs or events. The
// same input always yields the same mask for a given master key, so
// transactions stay correlatable without exposing who borrowed what.
package masking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMasterKeyMissing is returned when masking is attempted without a
// configured master key.
var ErrMasterKeyMissing = errors.New("masking master key is not configured")

// Redacted replaces secrets outright; passwords are never worth
// correlating.
const Redacted = "********"

// maxDepth caps payload recursion. Nothing legitimate nests this far.
const maxDepth = 64

// Masker holds the process-wide master key.
type Masker struct {
	key []byte
}

// New builds a Masker. An empty key is allowed at construction so the
// dashboard fallback path keeps working; Mask itself will refuse to run.
func New(masterKey string) *Masker {
	return &Masker{key: []byte(masterKey)}
}

// HasKey reports whether deterministic masking is available.
func (m *Masker) HasKey() bool {
	return len(m.key) > 0
}

// Mask pseudonymizes s as "MASKED_" plus the first 16 hex characters of
// HMAC-SHA-256(key, s). The empty string passes through untouched.
func (m *Masker) Mask(s string) (string, error) {
	if s == "" {
		return s, nil
	}
	if len(m.key) == 0 {
		return "", ErrMasterKeyMissing
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(s))
	return "MASKED_" + hex.EncodeToString(mac.Sum(nil))[:16], nil
}

// MaskPayload walks a JSON-shaped value and returns a copy with sensitive
// entries rewritten. Keys naming passwords or PINs are blanked to
// asterisks; keys naming patron or item identifiers are pseudonymized via
// Mask; everything else recurses. The input is never mutated.
func (m *Masker) MaskPayload(v any) (any, error) {
	return m.maskValue(v, 0)
}

func (m *Masker) maskValue(v any, depth int) (any, error) {
	if depth >= maxDepth {
		return v, nil
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			masked, err := m.maskEntry(k, val, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = masked
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			masked, err := m.maskEntry(k, val, depth+1)
			if err != nil {
				return nil, err
			}
			if s, ok := masked.(string); ok {
				out[k] = s
			} else {
				out[k] = val
			}
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			masked, err := m.maskValue(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = masked
		}
		return out, nil
	default:
		return v, nil
	}
}

// secretKey matches entries whose value must be blanked rather than
// pseudonymized.
func secretKey(k string) bool {
	return strings.Contains(k, "password") || strings.Contains(k, "pin") || k == "cq" || k == "co"
}

// identifierKey matches entries carrying patron or item identity.
func identifierKey(k string) bool {
	switch {
	case strings.Contains(k, "patronidentifier"),
		strings.Contains(k, "patronbarcode"),
		strings.Contains(k, "itemidentifier"),
		strings.Contains(k, "itembarcode"),
		strings.Contains(k, "personalname"):
		return true
	}
	return k == "aa" || k == "ab" || k == "ae"
}

func (m *Masker) maskEntry(key string, v any, depth int) (any, error) {
	k := strings.ToLower(key)
	switch {
	case secretKey(k):
		if _, ok := v.(string); ok {
			return Redacted, nil
		}
		return v, nil
	case identifierKey(k):
		if s, ok := v.(string); ok {
			masked, err := m.Mask(s)
			if err != nil {
				return nil, err
			}
			return masked, nil
		}
		return v, nil
	default:
		return m.maskValue(v, depth)
	}
}
