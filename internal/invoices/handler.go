package invoices

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-exim/meridian-exim/internal/platform/httpx"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Handler serves invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    shared.GateMiddleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, gate shared.GateMiddleware) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers the /invoices routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermInvoiceConfirm))
		r.Post("/{id}/confirm", h.confirm)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermInvoiceEdit))
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

// MountDeriveRoute registers the derivation endpoint on the shipments
// router, so the URL names the source document.
func (h *Handler) MountDeriveRoute(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermInvoiceCreate))
		r.Post("/{id}/invoice", h.derive)
	})
}

func (h *Handler) derive(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid shipment id", nil)
		return
	}
	res, err := h.service.CreateFromShipment(r.Context(), shipmentID, actorID(r))
	if err != nil {
		h.logger.Error("derive invoice", slog.Int64("shipment_id", shipmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyExists {
		status = http.StatusOK
	}
	httpx.OK(w, status, map[string]any{
		"invoice":        res.Invoice,
		"already_exists": res.AlreadyExists,
		"derivation_id":  res.DerivationID,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid invoice id", nil)
		return
	}
	inv, err := h.service.Get(r.Context(), id, false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid invoice id", nil)
		return
	}
	inv, err := h.service.Confirm(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid invoice id", nil)
		return
	}
	var req UpdateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	inv, err := h.service.Update(r.Context(), id, req, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid invoice id", nil)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": id})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
