package sip2gate

import (
	"context"
	"fmt"
	"time"

	"github.com/sip2gate/sip2gate/sip2"
)

const loginAttempts = 3

// loginRetryDelays sits between consecutive login attempts. Roughly an
// ACS's session recycle window; longer waits just hold the branch queue.
var loginRetryDelays = []time.Duration{500 * time.Millisecond, time.Second}

// performLogin authenticates a fresh client against the branch's ACS.
// Some vendors reject the first login after a reconnect while the old
// session drains, so a couple of short retries absorb that. Vendors that
// expect an SC Status exchange right after login get one inside the same
// attempt.
func (m *Manager) performLogin(ctx context.Context, br *branch, client *sip2.Client) error {
	creds := br.cfg.Credentials
	location := m.locationCode()

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if attempt > 1 {
			delay := loginRetryDelays[len(loginRetryDelays)-1]
			if attempt-2 < len(loginRetryDelays) {
				delay = loginRetryDelays[attempt-2]
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := client.Login(ctx, creds.User, creds.Password, location)
		if err == nil && br.cfg.Profile.PostLoginSCStatus {
			_, err = client.SCStatus(ctx)
		}
		if err == nil {
			m.log.Debug().Str("branch", br.id).Int("attempt", attempt).Msg("sip2 login accepted")
			return nil
		}
		lastErr = err
		m.log.Warn().Str("branch", br.id).Int("attempt", attempt).Err(err).Msg("sip2 login attempt failed")
	}

	m.bus.LogToDashboard("error", "SIP2 login failed", map[string]any{
		"branch": br.id,
		"error":  lastErr.Error(),
	})
	return fmt.Errorf("%w after %d attempts: %v", ErrLoginRejected, loginAttempts, lastErr)
}
