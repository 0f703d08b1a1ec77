package packinglists

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-exim/meridian-exim/internal/platform/httpx"
	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// Handler serves packing list endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    shared.GateMiddleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, gate shared.GateMiddleware) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers the /packing-lists routes. The {ref} lookup accepts
// a packing list id, a linked shipment or invoice id, or an invoice number.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{ref}", h.resolve)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermPackingListEdit))
		r.Patch("/{ref}", h.update)
		r.Delete("/{ref}", h.delete)
	})
}

// MountDeriveRoute registers the derivation endpoint on the shipments
// router.
func (h *Handler) MountDeriveRoute(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermPackingListCreate))
		r.Post("/{id}/packing-list", h.derive)
	})
}

func (h *Handler) derive(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid shipment id", nil)
		return
	}
	res, err := h.service.CreateFromShipment(r.Context(), shipmentID, actorID(r))
	if err != nil {
		h.logger.Error("derive packing list", slog.Int64("shipment_id", shipmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyExists {
		status = http.StatusOK
	}
	httpx.OK(w, status, map[string]any{
		"packing_list":   res.PackingList,
		"already_exists": res.AlreadyExists,
		"derivation_id":  res.DerivationID,
	})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	pl, path, err := h.service.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"packing_list": pl,
		"matched_via":  path,
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	pl, _, err := h.service.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdatePackingListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	updated, err := h.service.Update(r.Context(), pl.ID, req, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"packing_list": updated})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	pl, _, err := h.service.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), pl.ID, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": pl.ID})
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
