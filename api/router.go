package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sip2gate/sip2gate"
)

// NewRouter wires the full HTTP surface: health probes, Prometheus
// metrics, the dashboard websocket and one POST route per SIP2 operation
// under /api/v1/branches/{branch}.
func NewRouter(gw *sip2gate.Gateway, logger zerolog.Logger) http.Handler {
	h := &handlers{
		log: logger,
		mgr: gw.Manager(),
		bus: gw.Bus(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard/stream", h.streamDashboard)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/branches", h.listBranches)
			r.Route("/branches/{branch}", func(r chi.Router) {
				r.Post("/patron-status", h.patronStatus)
				r.Post("/checkout", h.checkout)
				r.Post("/checkin", h.checkin)
				r.Post("/item-information", h.itemInformation)
				r.Post("/renew", h.renew)
				r.Post("/fee-paid", h.feePaid)
				r.Post("/patron-information", h.patronInformation)
				r.Post("/hold", h.hold)
				r.Post("/renew-all", h.renewAll)
				r.Post("/end-session", h.endSession)
				r.Post("/sc-status", h.scStatus)
				r.Post("/block-patron", h.blockPatron)
				r.Post("/item-status-update", h.itemStatusUpdate)
				r.Post("/patron-enable", h.patronEnable)
			})
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("reqId", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request served")
		})
	}
}
