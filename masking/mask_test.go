package masking

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestMaskDeterministic(t *testing.T) {
	m := New(testKey)

	first, err := m.Mask("P12345")
	require.NoError(t, err)
	second, err := m.Mask("P12345")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "MASKED_"))
	assert.Len(t, first, len("MASKED_")+16)

	other, err := m.Mask("P12346")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestMaskEmptyPassesThrough(t *testing.T) {
	m := New(testKey)
	got, err := m.Mask("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestMaskWithoutKey(t *testing.T) {
	m := New("")
	assert.False(t, m.HasKey())

	_, err := m.Mask("P12345")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))
}

func TestMaskDiffersByKey(t *testing.T) {
	a, err := New("key-one-key-one-key-one-key-one-").Mask("P12345")
	require.NoError(t, err)
	b, err := New("key-two-key-two-key-two-key-two-").Mask("P12345")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMaskPayload(t *testing.T) {
	m := New(testKey)
	payload := map[string]any{
		"patronBarcode": "P12345",
		"password":      "hunter2",
		"titleId":       "The Left Hand of Darkness",
		"feeAmount":     1.5,
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got, ok := masked.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, Redacted, got["password"])
	assert.True(t, strings.HasPrefix(got["patronBarcode"].(string), "MASKED_"))
	assert.Equal(t, "The Left Hand of Darkness", got["titleId"])
	assert.Equal(t, 1.5, got["feeAmount"])

	// Masking is deterministic across calls.
	again, err := m.MaskPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, got["patronBarcode"], again.(map[string]any)["patronBarcode"])

	// The input payload is never touched.
	assert.Equal(t, "P12345", payload["patronBarcode"])
	assert.Equal(t, "hunter2", payload["password"])
}

func TestMaskPayloadSecretKeys(t *testing.T) {
	m := New(testKey)
	payload := map[string]any{
		"patronPin":     "1234",
		"loginPassword": "secret",
		"Password":      "secret",
		"cq":            "Y",
		"co":            "secret",
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]any)
	for k := range payload {
		assert.Equal(t, Redacted, got[k], k)
	}
}

func TestMaskPayloadIdentifierKeys(t *testing.T) {
	m := New(testKey)
	payload := map[string]any{
		"patronIdentifier": "P1",
		"patronBarcode":    "P2",
		"itemIdentifier":   "I1",
		"itemBarcode":      "I2",
		"personalName":     "Jane Doe",
		"aa":               "P3",
		"ab":               "I3",
		"ae":               "Jane Doe",
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]any)
	for k, v := range payload {
		require.IsType(t, "", got[k], k)
		assert.True(t, strings.HasPrefix(got[k].(string), "MASKED_"), k)
		assert.NotEqual(t, v, got[k], k)
	}
}

func TestMaskPayloadRecurses(t *testing.T) {
	m := New(testKey)
	payload := map[string]any{
		"request": map[string]any{
			"patronBarcode": "P12345",
		},
		"response": map[string]any{
			"items": []any{
				map[string]any{"itemBarcode": "I777"},
			},
			"extensions": map[string]string{
				"aa": "P12345",
				"zz": "vendor",
			},
		},
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]any)

	req := got["request"].(map[string]any)
	assert.True(t, strings.HasPrefix(req["patronBarcode"].(string), "MASKED_"))

	resp := got["response"].(map[string]any)
	item := resp["items"].([]any)[0].(map[string]any)
	assert.True(t, strings.HasPrefix(item["itemBarcode"].(string), "MASKED_"))

	ext := resp["extensions"].(map[string]string)
	assert.True(t, strings.HasPrefix(ext["aa"], "MASKED_"))
	assert.Equal(t, "vendor", ext["zz"])
}

func TestMaskPayloadWithoutKey(t *testing.T) {
	m := New("")

	// Secrets are blanked without needing the key.
	masked, err := m.MaskPayload(map[string]any{"password": "x"})
	require.NoError(t, err)
	assert.Equal(t, Redacted, masked.(map[string]any)["password"])

	// Identifiers cannot be pseudonymized and must fail loudly.
	_, err = m.MaskPayload(map[string]any{"patronBarcode": "P12345"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))
}

func TestMaskPayloadDepthCap(t *testing.T) {
	m := New(testKey)

	leaf := map[string]any{"patronBarcode": "P12345"}
	v := any(leaf)
	for i := 0; i < maxDepth+8; i++ {
		v = map[string]any{"nested": v}
	}

	_, err := m.MaskPayload(v)
	require.NoError(t, err)
}

func TestMaskNonStringValuesUntouched(t *testing.T) {
	m := New(testKey)
	payload := map[string]any{
		"patronBarcode": 42,
		"password":      true,
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]any)
	assert.Equal(t, 42, got["patronBarcode"])
	assert.Equal(t, true, got["password"])
}

func TestMaskProperties(t *testing.T) {
	m := New(testKey)
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.StringN(1, 64, -1).Draw(t, "in")

		a, err := m.Mask(in)
		if err != nil {
			t.Fatalf("mask: %v", err)
		}
		b, err := m.Mask(in)
		if err != nil {
			t.Fatalf("mask: %v", err)
		}

		assert.Equal(t, a, b)
		assert.True(t, strings.HasPrefix(a, "MASKED_"))
		assert.NotEqual(t, in, a)
	})
}
