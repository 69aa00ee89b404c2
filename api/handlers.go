package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sip2gate/sip2gate"
	"github.com/sip2gate/sip2gate/events"
	"github.com/sip2gate/sip2gate/sip2"
)

// handlers binds the HTTP surface to the gateway core. Every branch
// operation follows the same shape: decode and validate the payload, run
// the manager operation under the request context, map the outcome.
type handlers struct {
	log zerolog.Logger
	mgr *sip2gate.Manager
	bus *events.Bus
}

func branchID(r *http.Request) string {
	return chi.URLParam(r, "branch")
}

func (h *handlers) respond(w http.ResponseWriter, rec any, err error) {
	if err != nil {
		writeOpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(rec))
}

func (h *handlers) patronStatus(w http.ResponseWriter, r *http.Request) {
	var p patronStatusRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.PatronStatus(r.Context(), branchID(r), p.PatronBarcode, p.Language)
	h.respond(w, rec, err)
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var p checkoutRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.Checkout(r.Context(), branchID(r), p.PatronBarcode, p.ItemBarcode, p.PatronPin)
	h.respond(w, rec, err)
}

func (h *handlers) checkin(w http.ResponseWriter, r *http.Request) {
	var p checkinRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.Checkin(r.Context(), branchID(r), p.ItemBarcode)
	h.respond(w, rec, err)
}

func (h *handlers) itemInformation(w http.ResponseWriter, r *http.Request) {
	var p itemInformationRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.ItemInformation(r.Context(), branchID(r), p.ItemBarcode)
	h.respond(w, rec, err)
}

func (h *handlers) renew(w http.ResponseWriter, r *http.Request) {
	var p renewRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.Renew(r.Context(), branchID(r), p.PatronBarcode, p.ItemBarcode, p.PatronPin)
	h.respond(w, rec, err)
}

func (h *handlers) feePaid(w http.ResponseWriter, r *http.Request) {
	var p feePaidRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.FeePaid(r.Context(), branchID(r), sip2.FeePaidParams{
		PatronBarcode: p.PatronBarcode,
		FeeID:         p.FeeID,
		Amount:        p.Amount,
		FeeType:       p.FeeType,
		PaymentType:   p.PaymentType,
		Currency:      p.Currency,
	})
	h.respond(w, rec, err)
}

func (h *handlers) patronInformation(w http.ResponseWriter, r *http.Request) {
	var p patronInformationRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.PatronInformation(r.Context(), branchID(r), sip2.PatronInfoParams{
		PatronBarcode: p.PatronBarcode,
		Summary:       p.Summary,
		StartItem:     p.StartItem,
		EndItem:       p.EndItem,
		Language:      p.Language,
	})
	h.respond(w, rec, err)
}

func (h *handlers) hold(w http.ResponseWriter, r *http.Request) {
	var p holdRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.Hold(r.Context(), branchID(r), sip2.HoldParams{
		Mode:           sip2.HoldMode(p.HoldMode),
		PatronBarcode:  p.PatronBarcode,
		ItemBarcode:    p.ItemBarcode,
		TitleID:        p.TitleID,
		PickupLocation: p.PickupLocation,
		ExpirationDate: p.ExpiryDate,
	})
	h.respond(w, rec, err)
}

func (h *handlers) renewAll(w http.ResponseWriter, r *http.Request) {
	var p renewAllRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.RenewAll(r.Context(), branchID(r), p.PatronBarcode)
	h.respond(w, rec, err)
}

func (h *handlers) endSession(w http.ResponseWriter, r *http.Request) {
	var p endSessionRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.EndSession(r.Context(), branchID(r), p.PatronBarcode)
	h.respond(w, rec, err)
}

func (h *handlers) scStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.mgr.SCStatus(r.Context(), branchID(r))
	h.respond(w, rec, err)
}

// blockPatron has no SIP2 response, so success is a bare 204.
func (h *handlers) blockPatron(w http.ResponseWriter, r *http.Request) {
	var p blockPatronRequest
	if !decodePayload(w, r, &p) {
		return
	}
	if err := h.mgr.BlockPatron(r.Context(), branchID(r), p.PatronBarcode, p.Message, p.CardRetained); err != nil {
		writeOpError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) itemStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var p itemStatusUpdateRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.ItemStatusUpdate(r.Context(), branchID(r), p.ItemBarcode, p.SecurityMarker)
	h.respond(w, rec, err)
}

func (h *handlers) patronEnable(w http.ResponseWriter, r *http.Request) {
	var p patronEnableRequest
	if !decodePayload(w, r, &p) {
		return
	}
	rec, err := h.mgr.PatronEnable(r.Context(), branchID(r), p.PatronBarcode, p.PatronPin)
	h.respond(w, rec, err)
}

func (h *handlers) listBranches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.mgr.Status()))
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"service": "sip2gate"}))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	branches := h.mgr.Branches()
	if len(branches) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("no branches configured"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"branches": len(branches)}))
}
