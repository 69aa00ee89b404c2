package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/sip2gate/sip2gate/events"
)

// streamQueueSize bounds the per-socket line buffer. A consumer that falls
// this far behind starts losing lines rather than stalling the bus.
const streamQueueSize = 64

// streamDashboard upgrades the connection and relays dashboard lines as
// JSON text frames until the client goes away.
func (h *handlers) streamDashboard(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	// The HTTP server's deadlines die with the hijack.
	conn.SetDeadline(time.Time{})

	streamID := uuid.NewString()
	slog := h.log.With().Str("stream", streamID).Str("remote", r.RemoteAddr).Logger()

	lines := make(chan events.DashboardLine, streamQueueSize)
	cancel := h.bus.SubscribeDashboard(func(line events.DashboardLine) {
		select {
		case lines <- line:
		default:
		}
	})
	defer func() {
		cancel()
		conn.Close()
	}()

	slog.Debug().Msg("dashboard stream attached")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			slog.Debug().Msg("dashboard stream detached")
			return
		case line := <-lines:
			data, err := json.Marshal(line)
			if err != nil {
				slog.Error().Err(err).Msg("dashboard line not serializable, skipping")
				continue
			}
			if err := ws.WriteFrame(conn, ws.NewFrame(ws.OpText, true, data)); err != nil {
				slog.Debug().Err(err).Msg("dashboard stream write failed")
				return
			}
		}
	}
}
