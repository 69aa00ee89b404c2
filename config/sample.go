package config

import (
	"gopkg.in/yaml.v3"
)

// Sample renders a commented starting configuration for `config init`.
// Durations are emitted as strings so the file round-trips through the
// duration decode hook.
func Sample() (string, error) {
	sample := map[string]any{
		"listen":        ":8080",
		"location_code": "gateway-1",
		// Set via SIP2GATE_MASTER_KEY instead of on disk.
		"master_key": "",
		"log": map[string]any{
			"level":  "info",
			"format": "console",
		},
		"transaction_log": map[string]any{
			"enabled":      false,
			"file":         "/var/log/sip2gate/transactions.log",
			"max_size_mb":  50,
			"max_backups":  5,
			"max_age_days": 30,
			"compress":     true,
		},
		"events": map[string]any{
			"queue_size": 256,
		},
		"breaker": map[string]any{
			"threshold": 3,
			"backoff":   []string{"5s", "10s", "20s", "40s", "60s"},
		},
		"branches": map[string]any{
			"main": map[string]any{
				"host":           "lms.example.org",
				"port":           6001,
				"timeout":        "10s",
				"institution_id": "MAIN",
				"tls": map[string]any{
					"enabled":              false,
					"insecure_skip_verify": false,
				},
				"credentials": map[string]any{
					"user":     "sip2user",
					"password": "change-me",
				},
				"profile": map[string]any{
					"name":                 "generic",
					"checksum_required":    true,
					"post_login_sc_status": false,
				},
			},
		},
	}

	data, err := yaml.Marshal(sample)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
